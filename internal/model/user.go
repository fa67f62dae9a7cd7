// Package model defines the data structures used throughout the application.
//
// Records are flat: relations are foreign-key ids, never nested objects.
// Display data for another user (nickname, avatar) is attached separately by
// the request layer through a batched UserSummary lookup.
package model

import "time"

// LinkCodeLength is the number of digits in a public link code.
const LinkCodeLength = 8

// User represents a registered account.
//
// LinkCode is the public 8-digit identity people share to find each other;
// ID is the internal key used by every relation. PasswordHash is empty for
// accounts created through GitHub sign-in.
type User struct {
	ID           int64     `json:"id"`
	LinkCode     string    `json:"link_code"`
	Nickname     string    `json:"nickname"`
	Avatar       string    `json:"avatar,omitempty"`
	PasswordHash string    `json:"-"`
	GitHubID     int64     `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserSummary is the read-only view of a user that the messaging core and
// push payloads work with.
type UserSummary struct {
	ID       int64  `json:"id"`
	LinkCode string `json:"link_code"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"`
}

// Summary returns the display view of u.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		LinkCode: u.LinkCode,
		Nickname: u.Nickname,
		Avatar:   u.Avatar,
	}
}
