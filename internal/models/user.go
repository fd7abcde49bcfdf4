package models

import "time"

// User is an account able to host or join sessions.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	ProfileImage string    `json:"profile_image"`
	RealtimeID   string    `json:"realtime_id"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserRef is the display identity attached to sessions.
type UserRef struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ProfileImage string `json:"profile_image,omitempty"`
}

// Ref returns the display identity of u.
func (u *User) Ref() *UserRef {
	if u == nil {
		return nil
	}
	return &UserRef{ID: u.ID, Name: u.Name, ProfileImage: u.ProfileImage}
}
