package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/foodbridge/internal/model"
	"github.com/iliyamo/foodbridge/internal/policy"
	"github.com/iliyamo/foodbridge/internal/queue"
)

// NewDonation is the donor-supplied part of a donation.
type NewDonation struct {
	FoodType      model.FoodType
	Quantity      model.Quantity
	PickupAddress model.GeoPoint
	PickupTime    time.Time
	ExpiryTime    time.Time
	Description   string
}

func validGeo(field string, p model.GeoPoint) error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid(field+".name", "is required")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return invalid(field+".lat", "must be between -90 and 90")
	}
	if p.Lng < -180 || p.Lng > 180 {
		return invalid(field+".lng", "must be between -180 and 180")
	}
	return nil
}

func validSchedule(pickup, expiry, now time.Time) error {
	if pickup.IsZero() {
		return invalid("pickup_time", "is required")
	}
	if expiry.IsZero() {
		return invalid("expiry_time", "is required")
	}
	if !expiry.After(pickup) {
		return invalid("expiry_time", "must be after pickup_time")
	}
	if !expiry.After(now) {
		return invalid("expiry_time", "must be in the future")
	}
	return nil
}

func (in NewDonation) validate(now time.Time) error {
	if !in.FoodType.Valid() {
		return invalid("food_type", "unknown food type")
	}
	if in.Quantity.Amount <= 0 {
		return invalid("quantity.amount", "must be greater than zero")
	}
	if !in.Quantity.Unit.Valid() {
		return invalid("quantity.unit", "unknown unit")
	}
	if err := validGeo("pickup_address", in.PickupAddress); err != nil {
		return err
	}
	return validSchedule(in.PickupTime, in.ExpiryTime, now)
}

// CreateDonation posts a new AVAILABLE donation owned by the caller.
func (e *Engine) CreateDonation(ctx context.Context, caller model.Caller, in NewDonation) (*model.Donation, error) {
	if err := policy.Check(policy.DonationCreate, caller, policy.None); err != nil {
		return nil, err
	}
	now := e.now()
	if err := in.validate(now); err != nil {
		return nil, err
	}
	d := &model.Donation{
		ID:            newID(),
		DonorID:       caller.ID,
		FoodType:      in.FoodType,
		Quantity:      in.Quantity,
		PickupAddress: in.PickupAddress,
		PickupTime:    in.PickupTime.UTC().Truncate(time.Microsecond),
		ExpiryTime:    in.ExpiryTime.UTC().Truncate(time.Microsecond),
		Status:        model.DonationAvailable,
		Description:   strings.TrimSpace(in.Description),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.donations.Create(ctx, d); err != nil {
		return nil, err
	}
	e.log.Info("donation created", "donation_id", d.ID, "donor_id", caller.ID)
	e.committed(ctx, lifecycleEvent(queue.KindDonationCreated, caller.ID, now, d, nil, nil))
	return d, nil
}

func (e *Engine) GetDonation(ctx context.Context, id string) (*model.Donation, error) {
	d, err := e.donations.GetByID(ctx, id)
	if err != nil {
		return nil, lookup("donation", err)
	}
	return d, nil
}

// ListDonations lists donations, optionally filtered by status.
func (e *Engine) ListDonations(ctx context.Context, status *model.DonationStatus, limit, offset int) ([]*model.Donation, error) {
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%q: %w", *status, ErrInvalidStatus)
	}
	return e.donations.List(ctx, status, limit, offset)
}

func (e *Engine) ListDonorDonations(ctx context.Context, caller model.Caller) ([]*model.Donation, error) {
	if err := policy.Check(policy.DonationListMine, caller, policy.None); err != nil {
		return nil, err
	}
	return e.donations.ListByDonor(ctx, caller.ID)
}

// chain loads the request and live delivery linked to d.  Either may be nil.
func (e *Engine) chain(ctx context.Context, tx *sql.Tx, d *model.Donation) (*model.Request, *model.Delivery, error) {
	var rq *model.Request
	var dl *model.Delivery
	if d.RequestID != nil {
		r, err := e.requests.GetByIDTx(ctx, tx, *d.RequestID)
		if err != nil {
			return nil, nil, lookup("request", err)
		}
		rq = r
	}
	if d.DeliveryID != nil {
		l, err := e.deliveries.GetByIDTx(ctx, tx, *d.DeliveryID)
		if err != nil {
			return nil, nil, lookup("delivery", err)
		}
		dl = l
	}
	return rq, dl, nil
}

// release cancels the live delivery dl and returns rq to the claim pool as
// an unbound PENDING request.  Nil arguments are skipped.
func (e *Engine) release(ctx context.Context, tx *sql.Tx, rq *model.Request, dl *model.Delivery, actor, note string, now time.Time) error {
	if dl != nil && !dl.Status.Terminal() {
		dl.Status = model.DeliveryCancelled
		if err := e.deliveries.UpdateTx(ctx, tx, dl, now); err != nil {
			return err
		}
		if err := e.recordEvent(ctx, tx, dl, actor, note, now); err != nil {
			return err
		}
	}
	if rq != nil && (rq.RecipientID != nil || rq.Status != model.RequestPending) {
		rq.RecipientID = nil
		rq.Status = model.RequestPending
		if err := e.requests.UpdateTx(ctx, tx, rq, now); err != nil {
			return err
		}
		rq.DeliveryID = nil
	}
	return nil
}

// UpdateDonationStatus retires a donation as CANCELLED or EXPIRED.  Only its
// donor or an admin may do so, and only before pickup.  A live delivery is
// cancelled and the request returned to PENDING in the same transaction.
func (e *Engine) UpdateDonationStatus(ctx context.Context, caller model.Caller, id string, status model.DonationStatus) (*model.Donation, error) {
	if status != model.DonationCancelled && status != model.DonationExpired {
		return nil, fmt.Errorf("donation status %q: %w", status, ErrInvalidStatus)
	}
	now := e.now()
	var out *model.Donation
	var rq *model.Request
	var dl *model.Delivery
	err := e.atomic(ctx, "donation.update_status", func(tx *sql.Tx) error {
		d, err := e.donations.GetByIDTx(ctx, tx, id)
		if err != nil {
			return lookup("donation", err)
		}
		if err := policy.Check(policy.DonationUpdateStatus, caller, policy.DonationRel(caller, d)); err != nil {
			return err
		}
		if !model.CanRetireDonation(d.Status, status) {
			return transition("donation %s -> %s", d.Status, status)
		}
		rq, dl, err = e.chain(ctx, tx, d)
		if err != nil {
			return err
		}
		if err := e.release(ctx, tx, rq, dl, caller.ID, "donation "+strings.ToLower(string(status)), now); err != nil {
			return err
		}
		if err := e.donations.UpdateStatusTx(ctx, tx, d, status, now); err != nil {
			return err
		}
		out, err = e.donations.GetByIDTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("donation retired", "donation_id", id, "status", status, "actor", caller.ID)
	e.committed(ctx, lifecycleEvent(queue.KindDonationRetired, caller.ID, now, out, rq, dl))
	return out, nil
}

// expire marks d EXPIRED inside tx.  Claims call it when they find an
// AVAILABLE donation past its expiry time.
func (e *Engine) expire(ctx context.Context, tx *sql.Tx, d *model.Donation, now time.Time) error {
	return e.donations.UpdateStatusTx(ctx, tx, d, model.DonationExpired, now)
}

// ExpireOverdue moves every AVAILABLE donation past its expiry time to
// EXPIRED and returns their ids.
func (e *Engine) ExpireOverdue(ctx context.Context) ([]string, error) {
	now := e.now()
	var ids []string
	err := e.atomic(ctx, "donation.expire", func(tx *sql.Tx) error {
		var err error
		ids, err = e.donations.ExpireOverdueTx(ctx, tx, now)
		return err
	})
	if err != nil || len(ids) == 0 {
		return ids, err
	}
	evs := make([]queue.LifecycleEvent, 0, len(ids))
	for _, id := range ids {
		evs = append(evs, queue.LifecycleEvent{
			Kind:           queue.KindDonationExpired,
			ActorID:        "system",
			DonationID:     id,
			DonationStatus: string(model.DonationExpired),
			OccurredAt:     now,
		})
	}
	e.committed(ctx, evs...)
	return ids, nil
}

// RunExpirySweeper calls ExpireOverdue every interval until ctx is done.
func (e *Engine) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ids, err := e.ExpireOverdue(ctx)
			switch {
			case err != nil && !errors.Is(err, context.Canceled):
				e.log.Warn("expiry sweep failed", "err", err)
			case len(ids) > 0:
				e.log.Info("expired overdue donations", "count", len(ids))
			}
		}
	}
}

// Relationships lists the records tied to the caller.
func (e *Engine) Relationships(ctx context.Context, caller model.Caller) (*model.Relationships, error) {
	rel, err := e.users.Relationships(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	return rel, nil
}
