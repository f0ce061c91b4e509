package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/foodbridge/internal/model"
	"github.com/iliyamo/foodbridge/internal/policy"
	"github.com/iliyamo/foodbridge/internal/queue"
	"github.com/iliyamo/foodbridge/internal/repository"
)

// RequestInput is the recipient-supplied part of a request.  On a claim
// that promotes an existing request, empty fields keep the stored values.
type RequestInput struct {
	DeliveryAddress model.Address
	Notes           string
}

func (in RequestInput) validate() error {
	if in.DeliveryAddress.Lat < -90 || in.DeliveryAddress.Lat > 90 {
		return invalid("delivery_address.lat", "must be between -90 and 90")
	}
	if in.DeliveryAddress.Lng < -180 || in.DeliveryAddress.Lng > 180 {
		return invalid("delivery_address.lng", "must be between -180 and 180")
	}
	return nil
}

func (in RequestInput) applyTo(rq *model.Request) {
	if strings.TrimSpace(in.DeliveryAddress.Text) != "" {
		rq.DeliveryAddress = in.DeliveryAddress
		rq.DeliveryAddress.Text = strings.TrimSpace(in.DeliveryAddress.Text)
	}
	if n := strings.TrimSpace(in.Notes); n != "" {
		rq.Notes = n
	}
}

// ClaimResult is the state of the three records after a successful claim.
type ClaimResult struct {
	Donation *model.Donation `json:"donation"`
	Request  *model.Request  `json:"request"`
	Delivery *model.Delivery `json:"delivery"`
}

// claimable returns nil if d can be claimed, or the error a claim on it
// must fail with.
func claimable(d *model.Donation) error {
	switch d.Status {
	case model.DonationAvailable:
		return nil
	case model.DonationReserved, model.DonationInTransit, model.DonationDelivered:
		return fmt.Errorf("donation %s: %w", d.ID, ErrAlreadyClaimed)
	}
	return transition("donation %s is %s", d.ID, d.Status)
}

// ExpressInterest records the caller's interest in an AVAILABLE donation as
// a PENDING request bound to the caller.
func (e *Engine) ExpressInterest(ctx context.Context, caller model.Caller, donationID string, in RequestInput) (*model.Request, error) {
	if err := policy.Check(policy.RequestCreate, caller, policy.None); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.DeliveryAddress.Text) == "" {
		return nil, invalid("delivery_address.text", "is required")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := e.now()
	var out *model.Request
	expired := false
	err := e.atomic(ctx, "request.create", func(tx *sql.Tx) error {
		d, err := e.donations.GetByIDTx(ctx, tx, donationID)
		if err != nil {
			return lookup("donation", err)
		}
		if err := claimable(d); err != nil {
			return err
		}
		if d.Expired(now) {
			expired = true
			return e.expire(ctx, tx, d, now)
		}
		rq, err := e.requests.GetByDonationTx(ctx, tx, d.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			rq = &model.Request{
				ID:          newID(),
				DonationID:  d.ID,
				RecipientID: &caller.ID,
				Status:      model.RequestPending,
				Version:     1,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			in.applyTo(rq)
			if err := e.requests.CreateTx(ctx, tx, rq); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return fmt.Errorf("donation %s: %w", d.ID, ErrAlreadyClaimed)
				}
				return err
			}
		case err != nil:
			return err
		case rq.RecipientID != nil && !rq.HeldBy(caller.ID):
			return fmt.Errorf("donation %s: %w", d.ID, ErrAlreadyClaimed)
		default:
			rq.RecipientID = &caller.ID
			in.applyTo(rq)
			if err := e.requests.UpdateTx(ctx, tx, rq, now); err != nil {
				if errors.Is(err, repository.ErrStaleWrite) {
					return fmt.Errorf("donation %s: %w", d.ID, ErrAlreadyClaimed)
				}
				return err
			}
		}
		out = rq
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		e.committed(ctx, lifecycleEvent(queue.KindDonationExpired, caller.ID, now,
			&model.Donation{ID: donationID, Status: model.DonationExpired}, nil, nil))
		return nil, transition("donation %s expired", donationID)
	}
	e.committed(ctx, lifecycleEvent(queue.KindRequestCreated, caller.ID, now, nil, out, nil))
	return out, nil
}

// ClaimDonation reserves an AVAILABLE donation for the caller: the request
// becomes APPROVED and bound to the caller, the donation RESERVED, and a
// STAND_BY delivery task is opened for volunteers.  A donation past its
// expiry time is moved to EXPIRED and the claim fails.
func (e *Engine) ClaimDonation(ctx context.Context, caller model.Caller, donationID string, in RequestInput) (*ClaimResult, error) {
	if err := policy.Check(policy.DonationClaim, caller, policy.None); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := e.now()
	var res ClaimResult
	expired := false
	err := e.atomic(ctx, "donation.claim", func(tx *sql.Tx) error {
		d, err := e.donations.GetByIDTx(ctx, tx, donationID)
		if err != nil {
			return lookup("donation", err)
		}
		if err := claimable(d); err != nil {
			return err
		}
		if d.Expired(now) {
			expired = true
			return e.expire(ctx, tx, d, now)
		}

		rq, err := e.requests.GetByDonationTx(ctx, tx, d.ID)
		fresh := errors.Is(err, repository.ErrNotFound)
		switch {
		case fresh:
			rq = &model.Request{
				ID:         newID(),
				DonationID: d.ID,
				Version:    1,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
		case err != nil:
			return err
		case !rq.Status.Open(), rq.RecipientID != nil && !rq.HeldBy(caller.ID):
			return fmt.Errorf("donation %s: %w", d.ID, ErrAlreadyClaimed)
		}
		rq.RecipientID = &caller.ID
		rq.Status = model.RequestApproved
		in.applyTo(rq)
		if strings.TrimSpace(rq.DeliveryAddress.Text) == "" {
			return invalid("delivery_address.text", "is required")
		}
		if fresh {
			err = e.requests.CreateTx(ctx, tx, rq)
		} else {
			err = e.requests.UpdateTx(ctx, tx, rq, now)
		}
		if errors.Is(err, repository.ErrDuplicate) || errors.Is(err, repository.ErrStaleWrite) {
			return fmt.Errorf("donation %s: %w", d.ID, ErrAlreadyClaimed)
		}
		if err != nil {
			return err
		}

		if err := e.donations.UpdateStatusTx(ctx, tx, d, model.DonationReserved, now); err != nil {
			if errors.Is(err, repository.ErrStaleWrite) {
				return fmt.Errorf("donation %s: %w", d.ID, ErrAlreadyClaimed)
			}
			return err
		}

		dl := &model.Delivery{
			ID:                 newID(),
			DonationID:         d.ID,
			RequestID:          rq.ID,
			Status:             model.DeliveryStandBy,
			PickupLocation:     d.PickupAddress,
			PickupLocationName: d.PickupAddress.Name,
			Version:            1,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := e.deliveries.CreateTx(ctx, tx, dl); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("donation %s: %w", d.ID, ErrAlreadyClaimed)
			}
			return err
		}
		if err := e.recordEvent(ctx, tx, dl, caller.ID, "claimed", now); err != nil {
			return err
		}
		rq.DeliveryID = &dl.ID

		if res.Donation, err = e.donations.GetByIDTx(ctx, tx, d.ID); err != nil {
			return err
		}
		res.Request, res.Delivery = rq, dl
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		e.committed(ctx, lifecycleEvent(queue.KindDonationExpired, caller.ID, now,
			&model.Donation{ID: donationID, Status: model.DonationExpired}, nil, nil))
		return nil, transition("donation %s expired", donationID)
	}
	e.log.Info("donation claimed", "donation_id", donationID, "recipient_id", caller.ID, "delivery_id", res.Delivery.ID)
	e.committed(ctx, lifecycleEvent(queue.KindDonationClaimed, caller.ID, now, res.Donation, res.Request, res.Delivery))
	return &res, nil
}

// GetRequest returns a request visible to the caller: its recipient, the
// donor of its donation, or an admin.
func (e *Engine) GetRequest(ctx context.Context, caller model.Caller, id string) (*model.Request, error) {
	rq, err := e.requests.GetByID(ctx, id)
	if err != nil {
		return nil, lookup("request", err)
	}
	d, err := e.donations.GetByID(ctx, rq.DonationID)
	if err != nil {
		return nil, lookup("donation", err)
	}
	if err := policy.Check(policy.RequestView, caller, policy.RequestRel(caller, rq, d.DonorID)); err != nil {
		return nil, err
	}
	return rq, nil
}

func (e *Engine) ListRecipientRequests(ctx context.Context, caller model.Caller) ([]*model.Request, error) {
	if err := policy.Check(policy.RequestListMine, caller, policy.None); err != nil {
		return nil, err
	}
	return e.requests.ListByRecipient(ctx, caller.ID)
}

// UpdateRequestStatus lets a recipient move their own request.  APPROVED
// claims the donation; PENDING withdraws the claim before pickup, cancelling
// the live delivery and returning the donation to AVAILABLE; NETWORK_ERROR
// flags a PENDING request.  FULFILLED is only reached through delivery.
func (e *Engine) UpdateRequestStatus(ctx context.Context, caller model.Caller, id string, status model.RequestStatus) (*model.Request, error) {
	if !status.Valid() || status == model.RequestFulfilled {
		return nil, fmt.Errorf("request status %q: %w", status, ErrInvalidStatus)
	}
	rq, err := e.requests.GetByID(ctx, id)
	if err != nil {
		return nil, lookup("request", err)
	}
	if err := policy.Check(policy.RequestUpdateStatus, caller, policy.RequestRel(caller, rq, "")); err != nil {
		return nil, err
	}
	if status == model.RequestApproved {
		res, err := e.ClaimDonation(ctx, caller, rq.DonationID, RequestInput{})
		if err != nil {
			return nil, err
		}
		return res.Request, nil
	}

	now := e.now()
	var d *model.Donation
	var dl *model.Delivery
	err = e.atomic(ctx, "request.update_status", func(tx *sql.Tx) error {
		rq, err = e.requests.GetByIDTx(ctx, tx, id)
		if err != nil {
			return lookup("request", err)
		}
		if !rq.HeldBy(caller.ID) {
			return fmt.Errorf("request.update_status: %w", ErrForbidden)
		}
		switch status {
		case model.RequestNetworkError:
			if rq.Status != model.RequestPending {
				return transition("request %s -> %s", rq.Status, status)
			}
			rq.Status = status
			return e.requests.UpdateTx(ctx, tx, rq, now)

		case model.RequestPending:
			if rq.Status == model.RequestFulfilled {
				return transition("request %s -> %s", rq.Status, status)
			}
			if rq.DeliveryID != nil {
				if dl, err = e.deliveries.GetByIDTx(ctx, tx, *rq.DeliveryID); err != nil {
					return lookup("delivery", err)
				}
				if dl.Status == model.DeliveryPickedUp {
					return transition("delivery %s already picked up", dl.ID)
				}
			}
			if d, err = e.donations.GetByIDTx(ctx, tx, rq.DonationID); err != nil {
				return lookup("donation", err)
			}
			if err := e.release(ctx, tx, rq, dl, caller.ID, "request withdrawn", now); err != nil {
				return err
			}
			if d.Status == model.DonationReserved {
				return e.donations.UpdateStatusTx(ctx, tx, d, model.DonationAvailable, now)
			}
			return nil
		}
		return fmt.Errorf("request status %q: %w", status, ErrInvalidStatus)
	})
	if err != nil {
		return nil, err
	}
	kind := queue.KindRequestUpdated
	if dl != nil {
		kind = queue.KindDeliveryCancelled
	}
	e.committed(ctx, lifecycleEvent(kind, caller.ID, now, d, rq, dl))
	return rq, nil
}
