package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ad/go-telegram-tutor/internal/models"
)

type ChatStateRepository struct {
	queue *DBQueue
}

func NewChatStateRepository(queue *DBQueue) *ChatStateRepository {
	return &ChatStateRepository{queue: queue}
}

func (r *ChatStateRepository) Save(ctx context.Context, state *models.ChatState) error {
	_, err := r.queue.Execute(ctx, func(db *sql.DB) (interface{}, error) {
		_, err := db.ExecContext(ctx, `
			INSERT INTO chat_state (user_id, active_flow_id, wizard_message_id, state, awaiting_input_step, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(user_id) DO UPDATE SET
				active_flow_id = excluded.active_flow_id,
				wizard_message_id = excluded.wizard_message_id,
				state = excluded.state,
				awaiting_input_step = excluded.awaiting_input_step,
				updated_at = excluded.updated_at
		`, state.UserID, state.ActiveFlowID, state.WizardMessageID, state.State, state.AwaitingInputStep)
		return nil, err
	})
	return err
}

func (r *ChatStateRepository) Get(ctx context.Context, userID int64) (*models.ChatState, error) {
	return run(ctx, r.queue, func(db *sql.DB) (*models.ChatState, error) {
		row := db.QueryRowContext(ctx, `
			SELECT user_id, active_flow_id, wizard_message_id, state, awaiting_input_step, updated_at
			FROM chat_state WHERE user_id = ?
		`, userID)

		var state models.ChatState
		err := row.Scan(&state.UserID, &state.ActiveFlowID, &state.WizardMessageID, &state.State, &state.AwaitingInputStep, &state.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat state %d: %w", userID, ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		return &state, nil
	})
}

func (r *ChatStateRepository) Clear(ctx context.Context, userID int64) error {
	_, err := r.queue.Execute(ctx, func(db *sql.DB) (interface{}, error) {
		_, err := db.ExecContext(ctx, `DELETE FROM chat_state WHERE user_id = ?`, userID)
		return nil, err
	})
	return err
}
