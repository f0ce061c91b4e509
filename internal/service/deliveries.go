package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/foodbridge/internal/model"
	"github.com/iliyamo/foodbridge/internal/policy"
	"github.com/iliyamo/foodbridge/internal/queue"
	"github.com/iliyamo/foodbridge/internal/repository"
)

// DeliveryPatch is a partial update of a delivery.  Pickup and expiry edits
// and the description apply to the linked donation.
type DeliveryPatch struct {
	Status        *model.DeliveryStatus
	PickupAddress *model.GeoPoint
	PickupTime    *time.Time
	ExpiryTime    *time.Time
	Description   *string
	Notes         *string
}

func (p DeliveryPatch) empty() bool {
	return p.Status == nil && p.Notes == nil && !p.editsDonation()
}

func (p DeliveryPatch) editsDonation() bool {
	return p.PickupAddress != nil || p.PickupTime != nil || p.ExpiryTime != nil || p.Description != nil
}

// updateTargets are the statuses a caller may request for a delivery.
var updateTargets = map[model.DeliveryStatus]struct{}{
	model.DeliveryAssigned:  {},
	model.DeliveryPickedUp:  {},
	model.DeliveryDelivered: {},
	model.DeliveryCancelled: {},
}

// AcceptDeliveryTask binds the calling volunteer to an unassigned STAND_BY
// delivery.  If another volunteer got there first it fails with
// ErrAlreadyAssigned and the existing assignment is untouched.
func (e *Engine) AcceptDeliveryTask(ctx context.Context, caller model.Caller, id string) (*repository.DeliveryDetail, error) {
	if err := policy.Check(policy.DeliveryAccept, caller, policy.None); err != nil {
		return nil, err
	}
	now := e.now()
	var dl *model.Delivery
	err := e.atomic(ctx, "delivery.accept", func(tx *sql.Tx) error {
		var err error
		dl, err = e.deliveries.GetByIDTx(ctx, tx, id)
		if err != nil {
			return lookup("delivery", err)
		}
		return e.assign(ctx, tx, caller, dl, now)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("delivery accepted", "delivery_id", id, "volunteer_id", caller.ID)
	e.committed(ctx, lifecycleEvent(queue.KindDeliveryAccepted, caller.ID, now, nil, nil, dl))
	return e.detail(ctx, id)
}

// assign performs the conditional volunteer binding and records it.
func (e *Engine) assign(ctx context.Context, tx *sql.Tx, caller model.Caller, dl *model.Delivery, now time.Time) error {
	ok, err := e.deliveries.AssignTx(ctx, tx, dl.ID, caller.ID, now)
	if err != nil {
		return err
	}
	if !ok {
		if dl.VolunteerID != nil || !dl.Status.Terminal() {
			return fmt.Errorf("delivery %s: %w", dl.ID, ErrAlreadyAssigned)
		}
		return transition("delivery %s is %s", dl.ID, dl.Status)
	}
	dl.VolunteerID = &caller.ID
	dl.Status = model.DeliveryAccepted
	dl.Version++
	dl.UpdatedAt = now
	return e.recordEvent(ctx, tx, dl, caller.ID, "", now)
}

// ApplyDeliveryStatusUpdate moves a delivery to status and cascades the
// change to its request and donation in one transaction.  status must be
// ASSIGNED, PICKED_UP, DELIVERED or CANCELLED.
func (e *Engine) ApplyDeliveryStatusUpdate(ctx context.Context, caller model.Caller, id string, status model.DeliveryStatus) (*repository.DeliveryDetail, error) {
	return e.UpdateDelivery(ctx, caller, id, DeliveryPatch{Status: &status})
}

// UpdateDelivery applies a partial update to a delivery.  Edits to the
// donation's pickup details are limited to its donor and to deliveries not
// yet picked up.  A status change follows the delivery transition table:
//
//	PICKED_UP  donation IN_TRANSIT
//	DELIVERED  donation DELIVERED, request FULFILLED
//	CANCELLED  donation AVAILABLE, request PENDING with no recipient
//
// ASSIGNED accepts a STAND_BY task for the calling volunteer and is a no-op
// on a delivery the caller already holds.
func (e *Engine) UpdateDelivery(ctx context.Context, caller model.Caller, id string, p DeliveryPatch) (*repository.DeliveryDetail, error) {
	if p.empty() {
		return nil, invalid("body", "nothing to update")
	}
	if p.Status != nil {
		if _, ok := updateTargets[*p.Status]; !ok {
			return nil, fmt.Errorf("delivery status %q: %w", *p.Status, ErrInvalidStatus)
		}
	}
	now := e.now()
	var (
		d    *model.Donation
		rq   *model.Request
		dl   *model.Delivery
		kind = queue.KindDeliveryUpdated
		noop bool
	)
	err := e.atomic(ctx, "delivery.update", func(tx *sql.Tx) error {
		var err error
		if dl, err = e.deliveries.GetByIDTx(ctx, tx, id); err != nil {
			return lookup("delivery", err)
		}
		if rq, err = e.requests.GetByIDTx(ctx, tx, dl.RequestID); err != nil {
			return lookup("request", err)
		}
		if d, err = e.donations.GetByIDTx(ctx, tx, dl.DonationID); err != nil {
			return lookup("donation", err)
		}
		rel := policy.DeliveryRel(caller, dl, d.DonorID, rq.RecipientID)

		if p.Status != nil && *p.Status == model.DeliveryAssigned {
			if p.Notes != nil || p.editsDonation() {
				return invalid("status", "ASSIGNED cannot be combined with other changes")
			}
			switch {
			case dl.Status == model.DeliveryAccepted && dl.AssignedTo(caller.ID):
				noop = true
				return nil
			case dl.Status == model.DeliveryStandBy && dl.VolunteerID == nil:
				if err := policy.Check(policy.DeliveryAccept, caller, rel); err != nil {
					return err
				}
				kind = queue.KindDeliveryAccepted
				return e.assign(ctx, tx, caller, dl, now)
			}
			return transition("delivery %s is %s", dl.ID, dl.Status)
		}

		if p.editsDonation() {
			if err := policy.Check(policy.DeliveryUpdateDetails, caller, rel); err != nil {
				return err
			}
			if dl.Status != model.DeliveryStandBy && dl.Status != model.DeliveryAccepted {
				return transition("delivery %s is %s", dl.ID, dl.Status)
			}
			if err := e.editDonation(ctx, tx, d, dl, p, now); err != nil {
				return err
			}
		}
		if p.Notes != nil {
			if err := policy.Check(policy.DeliveryUpdateStatus, caller, rel); err != nil {
				return err
			}
			dl.Notes = strings.TrimSpace(*p.Notes)
		}
		if p.Status == nil {
			return e.deliveries.UpdateTx(ctx, tx, dl, now)
		}

		to := *p.Status
		if err := policy.Check(policy.DeliveryUpdateStatus, caller, rel); err != nil {
			return err
		}
		if !model.CanTransitionDelivery(dl.Status, to) {
			return transition("delivery %s -> %s", dl.Status, to)
		}
		if to == model.DeliveryCancelled {
			kind = queue.KindDeliveryCancelled
			if err := e.release(ctx, tx, rq, dl, caller.ID, "", now); err != nil {
				return err
			}
			return e.donations.UpdateStatusTx(ctx, tx, d, model.DonationAvailable, now)
		}

		dl.Status = to
		switch to {
		case model.DeliveryPickedUp:
			dl.PickedUpAt = &now
		case model.DeliveryDelivered:
			dl.DeliveredAt = &now
		}
		if err := e.deliveries.UpdateTx(ctx, tx, dl, now); err != nil {
			return err
		}
		if err := e.recordEvent(ctx, tx, dl, caller.ID, "", now); err != nil {
			return err
		}
		if to == model.DeliveryDelivered {
			rq.Status = model.RequestFulfilled
			if err := e.requests.UpdateTx(ctx, tx, rq, now); err != nil {
				return err
			}
		}
		return e.donations.UpdateStatusTx(ctx, tx, d, model.DonationStatusFor(to), now)
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return e.detail(ctx, id)
	}
	e.log.Info("delivery updated", "delivery_id", id, "status", dl.Status, "actor", caller.ID)
	e.committed(ctx, lifecycleEvent(kind, caller.ID, now, d, rq, dl))
	return e.detail(ctx, id)
}

// editDonation applies the donation-side fields of p to d, and mirrors a new
// pickup address onto the delivery.
func (e *Engine) editDonation(ctx context.Context, tx *sql.Tx, d *model.Donation, dl *model.Delivery, p DeliveryPatch, now time.Time) error {
	if p.PickupAddress != nil {
		if err := validGeo("pickup_address", *p.PickupAddress); err != nil {
			return err
		}
		d.PickupAddress = *p.PickupAddress
		dl.PickupLocation = *p.PickupAddress
		dl.PickupLocationName = p.PickupAddress.Name
	}
	if p.PickupTime != nil {
		d.PickupTime = p.PickupTime.UTC().Truncate(time.Microsecond)
	}
	if p.ExpiryTime != nil {
		d.ExpiryTime = p.ExpiryTime.UTC().Truncate(time.Microsecond)
	}
	if p.Description != nil {
		d.Description = strings.TrimSpace(*p.Description)
	}
	if p.PickupTime != nil || p.ExpiryTime != nil {
		if err := validSchedule(d.PickupTime, d.ExpiryTime, now); err != nil {
			return err
		}
	}
	return e.donations.UpdateDetailsTx(ctx, tx, d, now)
}

// detail reads the joined view of a delivery after a committed change.
func (e *Engine) detail(ctx context.Context, id string) (*repository.DeliveryDetail, error) {
	out, err := e.deliveries.GetDetail(ctx, id)
	if err != nil {
		return nil, lookup("delivery", err)
	}
	return out, nil
}

// GetDelivery returns the joined delivery view if the caller may see it.
func (e *Engine) GetDelivery(ctx context.Context, caller model.Caller, id string) (*repository.DeliveryDetail, error) {
	out, err := e.detail(ctx, id)
	if err != nil {
		return nil, err
	}
	rel := policy.DeliveryRel(caller, &out.Delivery, out.Donor.ID, out.Request.RecipientID)
	if err := policy.Check(policy.DeliveryView, caller, rel); err != nil {
		return nil, err
	}
	return out, nil
}

// DeliveryEvents returns the status history of a delivery visible to the
// caller.
func (e *Engine) DeliveryEvents(ctx context.Context, caller model.Caller, id string) ([]model.DeliveryEvent, error) {
	if _, err := e.GetDelivery(ctx, caller, id); err != nil {
		return nil, err
	}
	return e.deliveries.ListEvents(ctx, id)
}

// ListUnassignedDeliveries returns STAND_BY tasks waiting for a volunteer.
func (e *Engine) ListUnassignedDeliveries(ctx context.Context, caller model.Caller) ([]*model.Delivery, error) {
	if err := policy.Check(policy.DeliveryListUnassigned, caller, policy.None); err != nil {
		return nil, err
	}
	return e.deliveries.ListUnassigned(ctx)
}

func (e *Engine) ListVolunteerDeliveries(ctx context.Context, caller model.Caller) ([]*model.Delivery, error) {
	if err := policy.Check(policy.DeliveryListMine, caller, policy.None); err != nil {
		return nil, err
	}
	return e.deliveries.ListByVolunteer(ctx, caller.ID)
}
