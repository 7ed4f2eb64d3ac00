// Package domain contains entities without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 64
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type UserID string

// User is the caller-supplied identity attached to a connection.
// Authentication happens outside this process; we only carry the result.
type User struct {
	ID   UserID `json:"userId"`
	Name string `json:"name"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, name string) (*User, error) {
	if len(name) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	if len(id) > MaxUserIDLen {
		id = id[:MaxUserIDLen]
	}
	return &User{ID: id, Name: name}, nil
}
