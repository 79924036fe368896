package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ad/go-telegram-tutor/internal/models"
)

type UserRepository struct {
	queue *DBQueue
}

func NewUserRepository(queue *DBQueue) *UserRepository {
	return &UserRepository{queue: queue}
}

// Touch creates the user on first contact and refreshes names and
// last_seen_at afterwards.
func (r *UserRepository) Touch(ctx context.Context, user *models.User) error {
	_, err := r.queue.Execute(ctx, func(db *sql.DB) (interface{}, error) {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, first_name, last_name, username, last_seen_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				username = excluded.username,
				last_seen_at = excluded.last_seen_at
		`, user.ID, user.FirstName, user.LastName, user.Username)
		return nil, err
	})
	return err
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return run(ctx, r.queue, func(db *sql.DB) (*models.User, error) {
		row := db.QueryRowContext(ctx, `
			SELECT id, first_name, last_name, username, created_at, last_seen_at
			FROM users WHERE id = ?
		`, id)

		var user models.User
		var firstName, lastName, username sql.NullString
		err := row.Scan(&user.ID, &firstName, &lastName, &username, &user.CreatedAt, &user.LastSeenAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		user.FirstName = firstName.String
		user.LastName = lastName.String
		user.Username = username.String
		return &user, nil
	})
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	return run(ctx, r.queue, func(db *sql.DB) (int, error) {
		var count int
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
		return count, err
	})
}
