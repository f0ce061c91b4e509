// Package queue defines the lifecycle messages exchanged over the message
// broker together with their publisher and consumer.
package queue

import "time"

// DefaultQueue is the durable queue lifecycle events are published to.
const DefaultQueue = "donation.lifecycle"

// Event kinds.
const (
	KindDonationCreated   = "donation.created"
	KindDonationClaimed   = "donation.claimed"
	KindDonationRetired   = "donation.retired"
	KindDonationExpired   = "donation.expired"
	KindRequestCreated    = "request.created"
	KindRequestUpdated    = "request.updated"
	KindDeliveryAccepted  = "delivery.accepted"
	KindDeliveryUpdated   = "delivery.updated"
	KindDeliveryCancelled = "delivery.cancelled"
)

// LifecycleEvent is published after every committed status change.  It
// carries the resulting status of each record touched so consumers need
// not query the primary database.
type LifecycleEvent struct {
	Kind           string    `json:"kind"`
	ActorID        string    `json:"actor_id"`
	DonationID     string    `json:"donation_id"`
	DonationStatus string    `json:"donation_status,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
	RequestStatus  string    `json:"request_status,omitempty"`
	DeliveryID     string    `json:"delivery_id,omitempty"`
	DeliveryStatus string    `json:"delivery_status,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
