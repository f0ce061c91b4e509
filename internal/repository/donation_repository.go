package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/foodbridge/internal/model"
)

// DonationRepo provides access to the donations table.  The request,
// recipient and delivery links of a donation are derived by joining the
// requests and deliveries tables on donation_id, never stored on the row.
type DonationRepo struct {
	db *sql.DB
}

func NewDonationRepo(db *sql.DB) *DonationRepo { return &DonationRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions.
func (r *DonationRepo) DB() *sql.DB { return r.db }

const donationSelect = `SELECT d.id, d.donor_id, d.food_type, d.quantity_amount, d.quantity_unit,
       d.pickup_name, d.pickup_lat, d.pickup_lng, d.pickup_time, d.expiry_time,
       d.status, d.description, d.version, d.created_at, d.updated_at,
       r.id, r.recipient_id, dl.id
FROM donations d
LEFT JOIN requests r ON r.donation_id = d.id
LEFT JOIN deliveries dl ON dl.active_donation_id = d.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonation(s rowScanner) (*model.Donation, error) {
	var d model.Donation
	var reqID, recipientID, deliveryID sql.NullString
	err := s.Scan(
		&d.ID, &d.DonorID, &d.FoodType, &d.Quantity.Amount, &d.Quantity.Unit,
		&d.PickupAddress.Name, &d.PickupAddress.Lat, &d.PickupAddress.Lng, &d.PickupTime, &d.ExpiryTime,
		&d.Status, &d.Description, &d.Version, &d.CreatedAt, &d.UpdatedAt,
		&reqID, &recipientID, &deliveryID,
	)
	if err != nil {
		return nil, err
	}
	d.PickupTime = d.PickupTime.UTC()
	d.ExpiryTime = d.ExpiryTime.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	d.RequestID = nullStr(reqID)
	d.RecipientID = nullStr(recipientID)
	d.DeliveryID = nullStr(deliveryID)
	return &d, nil
}

// Create inserts a new donation.  ID, timestamps and version must already
// be populated by the caller.
func (r *DonationRepo) Create(ctx context.Context, d *model.Donation) error {
	return r.create(ctx, r.db, d)
}

func (r *DonationRepo) CreateTx(ctx context.Context, tx *sql.Tx, d *model.Donation) error {
	return r.create(ctx, tx, d)
}

func (r *DonationRepo) create(ctx context.Context, q querier, d *model.Donation) error {
	const ins = `INSERT INTO donations (id, donor_id, food_type, quantity_amount, quantity_unit,
	    pickup_name, pickup_lat, pickup_lng, pickup_time, expiry_time,
	    status, description, version, created_at, updated_at)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, ins,
		d.ID, d.DonorID, string(d.FoodType), d.Quantity.Amount, string(d.Quantity.Unit),
		d.PickupAddress.Name, d.PickupAddress.Lat, d.PickupAddress.Lng, d.PickupTime.UTC(), d.ExpiryTime.UTC(),
		string(d.Status), d.Description, d.Version, d.CreatedAt.UTC(), d.UpdatedAt.UTC(),
	)
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

// GetByID fetches a donation with its derived links.  It returns
// ErrNotFound if no row exists.
func (r *DonationRepo) GetByID(ctx context.Context, id string) (*model.Donation, error) {
	return r.get(ctx, r.db, id)
}

func (r *DonationRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*model.Donation, error) {
	return r.get(ctx, tx, id)
}

func (r *DonationRepo) get(ctx context.Context, q querier, id string) (*model.Donation, error) {
	d, err := scanDonation(q.QueryRowContext(ctx, donationSelect+` WHERE d.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// List returns donations ordered newest first.  A nil status lists all.
func (r *DonationRepo) List(ctx context.Context, status *model.DonationStatus, limit, offset int) ([]*model.Donation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if status != nil {
		return r.list(ctx, donationSelect+` WHERE d.status = ? ORDER BY d.created_at DESC, d.id LIMIT ? OFFSET ?`,
			string(*status), limit, offset)
	}
	return r.list(ctx, donationSelect+` ORDER BY d.created_at DESC, d.id LIMIT ? OFFSET ?`, limit, offset)
}

// ListByDonor returns every donation posted by donorID, newest first.
func (r *DonationRepo) ListByDonor(ctx context.Context, donorID string) ([]*model.Donation, error) {
	return r.list(ctx, donationSelect+` WHERE d.donor_id = ? ORDER BY d.created_at DESC, d.id`, donorID)
}

func (r *DonationRepo) list(ctx context.Context, q string, args ...any) ([]*model.Donation, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*model.Donation{}
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateStatusTx moves d to status if its version is unchanged since it was
// read.  On success d reflects the new status, version and updated_at.
func (r *DonationRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, d *model.Donation, status model.DonationStatus, now time.Time) error {
	const q = `UPDATE donations SET status = ?, version = version + 1, updated_at = ?
	           WHERE id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, q, string(status), now.UTC(), d.ID, d.Version)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return err
	}
	d.Status = status
	d.Version++
	d.UpdatedAt = now.UTC()
	return nil
}

// UpdateDetailsTx writes the editable fields of d (pickup address and time,
// expiry time, description) under the same version check as UpdateStatusTx.
func (r *DonationRepo) UpdateDetailsTx(ctx context.Context, tx *sql.Tx, d *model.Donation, now time.Time) error {
	const q = `UPDATE donations
	           SET pickup_name = ?, pickup_lat = ?, pickup_lng = ?, pickup_time = ?, expiry_time = ?,
	               description = ?, version = version + 1, updated_at = ?
	           WHERE id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, q,
		d.PickupAddress.Name, d.PickupAddress.Lat, d.PickupAddress.Lng, d.PickupTime.UTC(), d.ExpiryTime.UTC(),
		d.Description, now.UTC(), d.ID, d.Version)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return err
	}
	d.Version++
	d.UpdatedAt = now.UTC()
	return nil
}

// ExpireOverdueTx marks every AVAILABLE donation whose expiry time is at or
// before now as EXPIRED and returns the affected ids.
func (r *DonationRepo) ExpireOverdueTx(ctx context.Context, tx *sql.Tx, now time.Time) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM donations WHERE status = ? AND expiry_time <= ? ORDER BY id`,
		string(model.DonationAvailable), now.UTC())
	if err != nil {
		return nil, err
	}
	ids, err := collectIDs(rows)
	if err != nil || len(ids) == 0 {
		return ids, err
	}
	const upd = `UPDATE donations SET status = ?, version = version + 1, updated_at = ?
	             WHERE id = ? AND status = ?`
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, upd, string(model.DonationExpired), now.UTC(), id, string(model.DonationAvailable)); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
