package model

import "time"

// Address is a free-text address with optional coordinates.
type Address struct {
	Text string  `json:"text"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Request is a recipient's claim against a donation. There is at most one
// request row per donation; RecipientID is nil after the request has been
// reset by a cancelled delivery.
type Request struct {
	ID              string        `json:"id"`
	DonationID      string        `json:"donation_id"`
	RecipientID     *string       `json:"recipient_id,omitempty"`
	DeliveryAddress Address       `json:"delivery_address"`
	Notes           string        `json:"notes"`
	Status          RequestStatus `json:"status"`
	Version         int           `json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`

	// DeliveryID is derived from the live delivery, if any.
	DeliveryID *string `json:"delivery_id,omitempty"`
}

// HeldBy reports whether the request is currently bound to userID.
func (r *Request) HeldBy(userID string) bool {
	return r.RecipientID != nil && *r.RecipientID == userID
}
