package model

import "time"

// Role is the actor role fixed at registration.
type Role string

const (
	RoleDonor     Role = "DONOR"
	RoleVolunteer Role = "VOLUNTEER"
	RoleRecipient Role = "RECIPIENT"
	RoleAdmin     Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDonor, RoleVolunteer, RoleRecipient, RoleAdmin:
		return true
	}
	return false
}

// Name holds a user's first and last name.
type Name struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

// User represents a row of the `users` table.  Owned donations, requests
// and deliveries are not stored on the user; see Relationships.
//
// Fields:
//  ID           – uuid primary key.
//  Email        – unique, lower-cased email address.
//  PasswordHash – bcrypt hash; never serialized.
//  Role         – DONOR, VOLUNTEER, RECIPIENT or ADMIN.
//  IsActive     – whether the account may sign in.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         Name      `json:"name"`
	Phone        string    `json:"phone"`
	Role         Role      `json:"role"`
	Address      string    `json:"address"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserSummary is the public projection of a user embedded in joined views.
type UserSummary struct {
	ID    string `json:"id"`
	Name  Name   `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Relationships lists the records associated with a user, computed from the
// foreign keys on the donation, request and delivery tables.
type Relationships struct {
	DonationIDs []string `json:"donation_ids"`
	RequestIDs  []string `json:"request_ids"`
	DeliveryIDs []string `json:"delivery_ids"`
}

// RefreshToken models an entry in the `refresh_tokens` table.  Only the
// SHA‑256 hash of the raw token is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Caller identifies the authenticated user on whose behalf an operation runs.
// It is built by the auth middleware from the verified session token and
// passed explicitly into every lifecycle call.
type Caller struct {
	ID   string
	Role Role
}
