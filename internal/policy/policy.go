// Package policy decides whether a caller may perform an operation on a
// record, given the caller's role and relationship to that record.
package policy

import (
	"errors"
	"fmt"

	"github.com/iliyamo/foodbridge/internal/model"
)

// ErrForbidden is returned by Check when no rule allows the operation.
var ErrForbidden = errors.New("forbidden")

// Operation names an action guarded by the rule table.
type Operation string

const (
	DonationCreate         Operation = "donation.create"
	DonationClaim          Operation = "donation.claim"
	DonationUpdateStatus   Operation = "donation.update_status"
	DonationListMine       Operation = "donation.list_mine"
	RequestCreate          Operation = "request.create"
	RequestUpdateStatus    Operation = "request.update_status"
	RequestView            Operation = "request.view"
	RequestListMine        Operation = "request.list_mine"
	DeliveryAccept         Operation = "delivery.accept"
	DeliveryUpdateStatus   Operation = "delivery.update_status"
	DeliveryUpdateDetails  Operation = "delivery.update_details"
	DeliveryListUnassigned Operation = "delivery.list_unassigned"
	DeliveryView           Operation = "delivery.view"
	DeliveryListMine       Operation = "delivery.list_mine"
)

// Relationship is how the caller relates to the record being acted on.
type Relationship string

const (
	None     Relationship = "none"
	Owner    Relationship = "owner"    // donor of the donation, recipient of the request
	Assignee Relationship = "assignee" // bound volunteer of the delivery
	// Open marks a STAND_BY delivery with no volunteer yet; any volunteer
	// may look at it before accepting.
	Open Relationship = "open"
)

// any in a rule matches every relationship.
const anyRel Relationship = "*"

type rule struct {
	role model.Role
	rel  Relationship
}

var rules = map[Operation][]rule{
	DonationCreate:         {{model.RoleDonor, anyRel}},
	DonationClaim:          {{model.RoleRecipient, anyRel}},
	RequestCreate:          {{model.RoleRecipient, anyRel}},
	RequestUpdateStatus:    {{model.RoleRecipient, Owner}},
	RequestView:            {{model.RoleRecipient, Owner}, {model.RoleDonor, Owner}, {model.RoleAdmin, anyRel}},
	DonationUpdateStatus:   {{model.RoleDonor, Owner}, {model.RoleAdmin, anyRel}},
	DeliveryAccept:         {{model.RoleVolunteer, anyRel}},
	DeliveryUpdateStatus:   {{model.RoleVolunteer, Assignee}, {model.RoleDonor, Owner}},
	DeliveryUpdateDetails:  {{model.RoleDonor, Owner}},
	DeliveryListUnassigned: {{model.RoleVolunteer, anyRel}, {model.RoleAdmin, anyRel}},
	DonationListMine:       {{model.RoleDonor, anyRel}},
	RequestListMine:        {{model.RoleRecipient, anyRel}},
	DeliveryListMine:       {{model.RoleVolunteer, anyRel}},
	DeliveryView: {
		{model.RoleVolunteer, Assignee},
		{model.RoleVolunteer, Open},
		{model.RoleDonor, Owner},
		{model.RoleRecipient, Owner},
		{model.RoleAdmin, anyRel},
	},
}

// Allowed reports whether a caller with role and rel may perform op.
func Allowed(op Operation, role model.Role, rel Relationship) bool {
	for _, r := range rules[op] {
		if r.role == role && (r.rel == anyRel || r.rel == rel) {
			return true
		}
	}
	return false
}

// Check returns nil if caller may perform op with relationship rel, and an
// error wrapping ErrForbidden otherwise.
func Check(op Operation, caller model.Caller, rel Relationship) error {
	if caller.ID == "" || !Allowed(op, caller.Role, rel) {
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}
	return nil
}

// DonationRel returns Owner if caller posted d.
func DonationRel(caller model.Caller, d *model.Donation) Relationship {
	if d != nil && d.DonorID == caller.ID {
		return Owner
	}
	return None
}

// RequestRel returns Owner if caller holds rq, or if caller is the donor of
// the donation rq points at.
func RequestRel(caller model.Caller, rq *model.Request, donorID string) Relationship {
	switch {
	case rq == nil:
		return None
	case caller.Role == model.RoleRecipient && rq.HeldBy(caller.ID):
		return Owner
	case caller.Role == model.RoleDonor && donorID == caller.ID:
		return Owner
	}
	return None
}

// DeliveryRel resolves the caller's relationship to a delivery from its
// linked donation and request.  Assignee wins over Owner.
func DeliveryRel(caller model.Caller, dl *model.Delivery, donorID string, recipientID *string) Relationship {
	switch {
	case dl.AssignedTo(caller.ID):
		return Assignee
	case caller.Role == model.RoleDonor && donorID == caller.ID:
		return Owner
	case caller.Role == model.RoleRecipient && recipientID != nil && *recipientID == caller.ID:
		return Owner
	case dl.VolunteerID == nil && dl.Status == model.DeliveryStandBy:
		return Open
	}
	return None
}
