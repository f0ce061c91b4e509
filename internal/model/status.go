package model

// DonationStatus is the lifecycle state of a donation.
type DonationStatus string

const (
	DonationAvailable DonationStatus = "AVAILABLE"
	DonationReserved  DonationStatus = "RESERVED"
	DonationInTransit DonationStatus = "IN_TRANSIT"
	DonationDelivered DonationStatus = "DELIVERED"
	DonationExpired   DonationStatus = "EXPIRED"
	DonationCancelled DonationStatus = "CANCELLED"
)

// Valid reports whether s is one of the enumerated donation states.
func (s DonationStatus) Valid() bool {
	switch s {
	case DonationAvailable, DonationReserved, DonationInTransit,
		DonationDelivered, DonationExpired, DonationCancelled:
		return true
	}
	return false
}

// Retired reports whether the donation has left the claim pool for good.
func (s DonationStatus) Retired() bool {
	return s == DonationDelivered || s == DonationExpired || s == DonationCancelled
}

// RequestStatus is the lifecycle state of a recipient's request.
type RequestStatus string

const (
	RequestPending      RequestStatus = "PENDING"
	RequestNetworkError RequestStatus = "NETWORK_ERROR"
	RequestApproved     RequestStatus = "APPROVED"
	RequestFulfilled    RequestStatus = "FULFILLED"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestNetworkError, RequestApproved, RequestFulfilled:
		return true
	}
	return false
}

// Open reports whether a request in this state can still be promoted by a claim.
func (s RequestStatus) Open() bool {
	return s == RequestPending || s == RequestNetworkError
}

// DeliveryStatus is the lifecycle state of a delivery task.
type DeliveryStatus string

const (
	DeliveryStandBy   DeliveryStatus = "STAND_BY"
	DeliveryAccepted  DeliveryStatus = "ACCEPTED"
	DeliveryPickedUp  DeliveryStatus = "PICKED_UP"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryCancelled DeliveryStatus = "CANCELLED"

	// DeliveryAssigned is accepted as an update target and resolves to
	// DeliveryAccepted. It is never persisted.
	DeliveryAssigned DeliveryStatus = "ASSIGNED"
)

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStandBy, DeliveryAccepted, DeliveryPickedUp, DeliveryDelivered, DeliveryCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryCancelled
}

// deliveryTransitions lists the permitted delivery status changes. The
// happy path is linear; every non-terminal state may divert to CANCELLED.
var deliveryTransitions = map[DeliveryStatus]map[DeliveryStatus]struct{}{
	DeliveryStandBy: {
		DeliveryAccepted:  {},
		DeliveryCancelled: {},
	},
	DeliveryAccepted: {
		DeliveryPickedUp:  {},
		DeliveryCancelled: {},
	},
	DeliveryPickedUp: {
		DeliveryDelivered: {},
		DeliveryCancelled: {},
	},
	DeliveryDelivered: {},
	DeliveryCancelled: {},
}

// CanTransitionDelivery reports whether a delivery may move from one status to another.
func CanTransitionDelivery(from, to DeliveryStatus) bool {
	next, ok := deliveryTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// donationRetirements lists the source states from which a donor or admin may
// retire a donation by hand.
var donationRetirements = map[DonationStatus]map[DonationStatus]struct{}{
	DonationAvailable: {
		DonationCancelled: {},
		DonationExpired:   {},
	},
	DonationReserved: {
		DonationCancelled: {},
		DonationExpired:   {},
	},
}

// CanRetireDonation reports whether a donation in state from may be moved to
// the retirement state to.
func CanRetireDonation(from, to DonationStatus) bool {
	next, ok := donationRetirements[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// DonationStatusFor returns the donation state implied by a live delivery state.
func DonationStatusFor(d DeliveryStatus) DonationStatus {
	switch d {
	case DeliveryPickedUp:
		return DonationInTransit
	case DeliveryDelivered:
		return DonationDelivered
	case DeliveryCancelled:
		return DonationAvailable
	default:
		return DonationReserved
	}
}
