package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/foodbridge/internal/model"
)

// RequestRepo provides access to the requests table.  The unique
// constraint on donation_id guarantees a single request row per donation
// and is the tie-break for concurrent claims.
type RequestRepo struct {
	db *sql.DB
}

func NewRequestRepo(db *sql.DB) *RequestRepo { return &RequestRepo{db: db} }

const requestSelect = `SELECT r.id, r.donation_id, r.recipient_id, r.delivery_address, r.delivery_lat, r.delivery_lng,
       r.notes, r.status, r.version, r.created_at, r.updated_at, dl.id
FROM requests r
LEFT JOIN deliveries dl ON dl.request_id = r.id AND dl.active_donation_id IS NOT NULL`

func scanRequest(s rowScanner) (*model.Request, error) {
	var rq model.Request
	var recipientID, deliveryID sql.NullString
	err := s.Scan(
		&rq.ID, &rq.DonationID, &recipientID, &rq.DeliveryAddress.Text, &rq.DeliveryAddress.Lat, &rq.DeliveryAddress.Lng,
		&rq.Notes, &rq.Status, &rq.Version, &rq.CreatedAt, &rq.UpdatedAt, &deliveryID,
	)
	if err != nil {
		return nil, err
	}
	rq.CreatedAt = rq.CreatedAt.UTC()
	rq.UpdatedAt = rq.UpdatedAt.UTC()
	rq.RecipientID = nullStr(recipientID)
	rq.DeliveryID = nullStr(deliveryID)
	return &rq, nil
}

// CreateTx inserts a request.  A second request for the same donation
// fails with ErrDuplicate.
func (r *RequestRepo) CreateTx(ctx context.Context, tx *sql.Tx, rq *model.Request) error {
	const ins = `INSERT INTO requests (id, donation_id, recipient_id, delivery_address, delivery_lat, delivery_lng,
	    notes, status, version, created_at, updated_at)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, ins,
		rq.ID, rq.DonationID, strArg(rq.RecipientID), rq.DeliveryAddress.Text, rq.DeliveryAddress.Lat, rq.DeliveryAddress.Lng,
		rq.Notes, string(rq.Status), rq.Version, rq.CreatedAt.UTC(), rq.UpdatedAt.UTC(),
	)
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

func (r *RequestRepo) GetByID(ctx context.Context, id string) (*model.Request, error) {
	return r.getOne(ctx, r.db, requestSelect+` WHERE r.id = ?`, id)
}

func (r *RequestRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*model.Request, error) {
	return r.getOne(ctx, tx, requestSelect+` WHERE r.id = ?`, id)
}

// GetByDonationTx returns the request for donationID or ErrNotFound.
func (r *RequestRepo) GetByDonationTx(ctx context.Context, tx *sql.Tx, donationID string) (*model.Request, error) {
	return r.getOne(ctx, tx, requestSelect+` WHERE r.donation_id = ?`, donationID)
}

func (r *RequestRepo) getOne(ctx context.Context, q querier, query string, arg any) (*model.Request, error) {
	rq, err := scanRequest(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rq, err
}

// ListByRecipient returns the requests currently held by recipientID.
func (r *RequestRepo) ListByRecipient(ctx context.Context, recipientID string) ([]*model.Request, error) {
	rows, err := r.db.QueryContext(ctx, requestSelect+` WHERE r.recipient_id = ? ORDER BY r.created_at DESC, r.id`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*model.Request{}
	for rows.Next() {
		rq, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rq)
	}
	return out, rows.Err()
}

// UpdateTx writes recipient, status, address and notes of rq if its
// version is unchanged since it was read.  On success rq carries the new
// version and updated_at.
func (r *RequestRepo) UpdateTx(ctx context.Context, tx *sql.Tx, rq *model.Request, now time.Time) error {
	const q = `UPDATE requests
	           SET recipient_id = ?, status = ?, delivery_address = ?, delivery_lat = ?, delivery_lng = ?,
	               notes = ?, version = version + 1, updated_at = ?
	           WHERE id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, q,
		strArg(rq.RecipientID), string(rq.Status), rq.DeliveryAddress.Text, rq.DeliveryAddress.Lat, rq.DeliveryAddress.Lng,
		rq.Notes, now.UTC(), rq.ID, rq.Version)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return err
	}
	rq.Version++
	rq.UpdatedAt = now.UTC()
	return nil
}
