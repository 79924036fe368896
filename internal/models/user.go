package models

import (
	"fmt"
	"strings"
	"time"
)

// User is a learner following one or more tutorial flows.
type User struct {
	ID         int64
	FirstName  string
	LastName   string
	Username   string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// DisplayName is used in logs and admin reports.
func (u *User) DisplayName() string {
	parts := make([]string, 0, 4)
	if name := u.FullName(); name != "" {
		parts = append(parts, name)
	}
	if u.Username != "" {
		parts = append(parts, "@"+u.Username)
	}
	parts = append(parts, fmt.Sprintf("[%d]", u.ID))
	return strings.Join(parts, " ")
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Salutation is the name used when the bot talks to the learner.
func (u *User) Salutation() string {
	switch {
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return u.Username
	default:
		return "there"
	}
}
