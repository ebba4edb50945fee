package models

import "time"

// User is one of the (at most two) identities of the system.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	DisplayName    string    `db:"display_name" json:"display_name"`
	Bio            string    `db:"bio" json:"bio"`
	ProfilePicture string    `db:"profile_picture" json:"profile_picture"`
	PasswordHash   string    `db:"password_hash" json:"-"`
	CounterpartID  *int64    `db:"counterpart_id" json:"partner_user_id"`
	LastActive     time.Time `db:"last_active" json:"last_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

func (u User) IsPaired() bool {
	return u.CounterpartID != nil
}

func (u User) PairedWith(id int64) bool {
	return u.CounterpartID != nil && *u.CounterpartID == id
}

func (u User) Clone() User {
	c := u
	if u.CounterpartID != nil {
		id := *u.CounterpartID
		c.CounterpartID = &id
	}
	return c
}

// UserStatus is the presence view of a user exposed to their partner.
type UserStatus struct {
	UserID     int64     `json:"user_id"`
	IsOnline   bool      `json:"is_online"`
	LastActive time.Time `json:"last_active"`
}
