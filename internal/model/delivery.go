package model

import "time"

// Delivery is the logistics task that carries a claimed donation from the
// donor to the recipient.
type Delivery struct {
	ID                 string         `json:"id"`
	DonationID         string         `json:"donation_id"`
	RequestID          string         `json:"request_id"`
	VolunteerID        *string        `json:"volunteer_id,omitempty"`
	Status             DeliveryStatus `json:"status"`
	PickupLocation     GeoPoint       `json:"pickup_location"`
	PickupLocationName string         `json:"pickup_location_name"`
	PickedUpAt         *time.Time     `json:"picked_up_at,omitempty"`
	DeliveredAt        *time.Time     `json:"delivered_at,omitempty"`
	Notes              string         `json:"notes"`
	Version            int            `json:"version"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// AssignedTo reports whether the delivery is bound to volunteer userID.
func (d *Delivery) AssignedTo(userID string) bool {
	return d.VolunteerID != nil && *d.VolunteerID == userID
}

// DeliveryEvent is one recorded status change of a delivery.
type DeliveryEvent struct {
	ID         string         `json:"id"`
	DeliveryID string         `json:"delivery_id"`
	Status     DeliveryStatus `json:"status"`
	ActorID    string         `json:"actor_id"`
	Note       string         `json:"note,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
