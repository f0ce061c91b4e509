package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/foodbridge/internal/model"
)

// DeliveryRepo provides access to the deliveries and delivery_events
// tables.  A delivery occupies its donation's active slot
// (active_donation_id) until it is cancelled, so at most one live delivery
// exists per donation.
type DeliveryRepo struct {
	db *sql.DB
}

func NewDeliveryRepo(db *sql.DB) *DeliveryRepo { return &DeliveryRepo{db: db} }

const deliveryColumns = `dl.id, dl.donation_id, dl.request_id, dl.volunteer_id, dl.status,
       dl.pickup_lat, dl.pickup_lng, dl.pickup_location_name, dl.picked_up_at, dl.delivered_at,
       dl.notes, dl.version, dl.created_at, dl.updated_at`

const deliverySelect = `SELECT ` + deliveryColumns + ` FROM deliveries dl`

func deliveryDest(dl *model.Delivery, volunteerID *sql.NullString, pickedUp, delivered *sql.NullTime) []any {
	return []any{
		&dl.ID, &dl.DonationID, &dl.RequestID, volunteerID, &dl.Status,
		&dl.PickupLocation.Lat, &dl.PickupLocation.Lng, &dl.PickupLocationName, pickedUp, delivered,
		&dl.Notes, &dl.Version, &dl.CreatedAt, &dl.UpdatedAt,
	}
}

func finishDelivery(dl *model.Delivery, volunteerID sql.NullString, pickedUp, delivered sql.NullTime) {
	dl.VolunteerID = nullStr(volunteerID)
	dl.PickedUpAt = nullTime(pickedUp)
	dl.DeliveredAt = nullTime(delivered)
	dl.PickupLocation.Name = dl.PickupLocationName
	dl.CreatedAt = dl.CreatedAt.UTC()
	dl.UpdatedAt = dl.UpdatedAt.UTC()
}

func scanDelivery(s rowScanner) (*model.Delivery, error) {
	var dl model.Delivery
	var volunteerID sql.NullString
	var pickedUp, delivered sql.NullTime
	if err := s.Scan(deliveryDest(&dl, &volunteerID, &pickedUp, &delivered)...); err != nil {
		return nil, err
	}
	finishDelivery(&dl, volunteerID, pickedUp, delivered)
	return &dl, nil
}

// CreateTx inserts a live delivery.  If the donation already has a live
// delivery the insert fails with ErrDuplicate.
func (r *DeliveryRepo) CreateTx(ctx context.Context, tx *sql.Tx, dl *model.Delivery) error {
	const ins = `INSERT INTO deliveries (id, donation_id, active_donation_id, request_id, volunteer_id, status,
	    pickup_lat, pickup_lng, pickup_location_name, picked_up_at, delivered_at, notes, version, created_at, updated_at)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, ins,
		dl.ID, dl.DonationID, dl.DonationID, dl.RequestID, strArg(dl.VolunteerID), string(dl.Status),
		dl.PickupLocation.Lat, dl.PickupLocation.Lng, dl.PickupLocationName, timeArg(dl.PickedUpAt), timeArg(dl.DeliveredAt),
		dl.Notes, dl.Version, dl.CreatedAt.UTC(), dl.UpdatedAt.UTC(),
	)
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

func (r *DeliveryRepo) GetByID(ctx context.Context, id string) (*model.Delivery, error) {
	return r.get(ctx, r.db, id)
}

func (r *DeliveryRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*model.Delivery, error) {
	return r.get(ctx, tx, id)
}

func (r *DeliveryRepo) get(ctx context.Context, q querier, id string) (*model.Delivery, error) {
	dl, err := scanDelivery(q.QueryRowContext(ctx, deliverySelect+` WHERE dl.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return dl, err
}

// AssignTx binds volunteerID to a STAND_BY delivery and moves it to
// ACCEPTED.  It reports false if the delivery was already taken or is no
// longer STAND_BY; the conditional update is the tie-break between
// volunteers accepting the same task.
func (r *DeliveryRepo) AssignTx(ctx context.Context, tx *sql.Tx, id, volunteerID string, now time.Time) (bool, error) {
	const q = `UPDATE deliveries
	           SET volunteer_id = ?, status = ?, version = version + 1, updated_at = ?
	           WHERE id = ? AND volunteer_id IS NULL AND status = ?`
	res, err := tx.ExecContext(ctx, q,
		volunteerID, string(model.DeliveryAccepted), now.UTC(), id, string(model.DeliveryStandBy))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateTx writes every mutable column of dl if its version is unchanged
// since it was read.  A CANCELLED delivery releases the donation's active
// slot.
func (r *DeliveryRepo) UpdateTx(ctx context.Context, tx *sql.Tx, dl *model.Delivery, now time.Time) error {
	const q = `UPDATE deliveries
	           SET active_donation_id = ?, volunteer_id = ?, status = ?,
	               pickup_lat = ?, pickup_lng = ?, pickup_location_name = ?,
	               picked_up_at = ?, delivered_at = ?, notes = ?,
	               version = version + 1, updated_at = ?
	           WHERE id = ? AND version = ?`
	var active any = dl.DonationID
	if dl.Status == model.DeliveryCancelled {
		active = nil
	}
	res, err := tx.ExecContext(ctx, q,
		active, strArg(dl.VolunteerID), string(dl.Status),
		dl.PickupLocation.Lat, dl.PickupLocation.Lng, dl.PickupLocationName,
		timeArg(dl.PickedUpAt), timeArg(dl.DeliveredAt), dl.Notes,
		now.UTC(), dl.ID, dl.Version)
	if err != nil {
		return err
	}
	if err := affected(res); err != nil {
		return err
	}
	dl.Version++
	dl.UpdatedAt = now.UTC()
	return nil
}

// ListUnassigned returns STAND_BY deliveries with no volunteer, oldest first.
func (r *DeliveryRepo) ListUnassigned(ctx context.Context) ([]*model.Delivery, error) {
	return r.list(ctx, deliverySelect+` WHERE dl.status = ? AND dl.volunteer_id IS NULL ORDER BY dl.created_at, dl.id`,
		string(model.DeliveryStandBy))
}

// ListByVolunteer returns every delivery bound to volunteerID, newest first.
func (r *DeliveryRepo) ListByVolunteer(ctx context.Context, volunteerID string) ([]*model.Delivery, error) {
	return r.list(ctx, deliverySelect+` WHERE dl.volunteer_id = ? ORDER BY dl.created_at DESC, dl.id`, volunteerID)
}

func (r *DeliveryRepo) list(ctx context.Context, q string, args ...any) ([]*model.Delivery, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*model.Delivery{}
	for rows.Next() {
		dl, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// DonationSummary is the slice of a donation shown on a delivery detail.
type DonationSummary struct {
	ID            string               `json:"id"`
	FoodType      model.FoodType       `json:"food_type"`
	Quantity      model.Quantity       `json:"quantity"`
	PickupAddress model.GeoPoint       `json:"pickup_address"`
	PickupTime    time.Time            `json:"pickup_time"`
	ExpiryTime    time.Time            `json:"expiry_time"`
	Status        model.DonationStatus `json:"status"`
}

// RequestSummary is the slice of a request shown on a delivery detail.
type RequestSummary struct {
	ID              string              `json:"id"`
	RecipientID     *string             `json:"recipient_id,omitempty"`
	DeliveryAddress model.Address       `json:"delivery_address"`
	Status          model.RequestStatus `json:"status"`
}

// DeliveryDetail is a delivery joined with its donation, donor, volunteer
// and request.
type DeliveryDetail struct {
	model.Delivery
	Donation  DonationSummary    `json:"donation"`
	Donor     model.UserSummary  `json:"donor"`
	Volunteer *model.UserSummary `json:"volunteer,omitempty"`
	Request   RequestSummary     `json:"request"`
}

// GetDetail loads a delivery together with its related records.
func (r *DeliveryRepo) GetDetail(ctx context.Context, id string) (*DeliveryDetail, error) {
	const q = `SELECT ` + deliveryColumns + `,
	       d.id, d.food_type, d.quantity_amount, d.quantity_unit, d.pickup_name, d.pickup_lat, d.pickup_lng,
	       d.pickup_time, d.expiry_time, d.status,
	       du.id, du.first_name, du.last_name, du.phone, du.email,
	       vu.id, vu.first_name, vu.last_name, vu.phone, vu.email,
	       r.id, r.recipient_id, r.delivery_address, r.delivery_lat, r.delivery_lng, r.status
	FROM deliveries dl
	JOIN donations d ON d.id = dl.donation_id
	JOIN users du ON du.id = d.donor_id
	LEFT JOIN users vu ON vu.id = dl.volunteer_id
	JOIN requests r ON r.id = dl.request_id
	WHERE dl.id = ?`

	var out DeliveryDetail
	var volunteerID sql.NullString
	var pickedUp, delivered sql.NullTime
	var vID, vFirst, vLast, vPhone, vEmail sql.NullString
	var recipientID sql.NullString
	var pickupTime, expiryTime sql.NullTime

	dest := deliveryDest(&out.Delivery, &volunteerID, &pickedUp, &delivered)
	dest = append(dest,
		&out.Donation.ID, &out.Donation.FoodType, &out.Donation.Quantity.Amount, &out.Donation.Quantity.Unit,
		&out.Donation.PickupAddress.Name, &out.Donation.PickupAddress.Lat, &out.Donation.PickupAddress.Lng,
		&pickupTime, &expiryTime, &out.Donation.Status,
		&out.Donor.ID, &out.Donor.Name.First, &out.Donor.Name.Last, &out.Donor.Phone, &out.Donor.Email,
		&vID, &vFirst, &vLast, &vPhone, &vEmail,
		&out.Request.ID, &recipientID, &out.Request.DeliveryAddress.Text, &out.Request.DeliveryAddress.Lat,
		&out.Request.DeliveryAddress.Lng, &out.Request.Status,
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	finishDelivery(&out.Delivery, volunteerID, pickedUp, delivered)
	out.Donation.PickupTime = pickupTime.Time.UTC()
	out.Donation.ExpiryTime = expiryTime.Time.UTC()
	out.Request.RecipientID = nullStr(recipientID)
	if vID.Valid {
		out.Volunteer = &model.UserSummary{
			ID:    vID.String,
			Name:  model.Name{First: vFirst.String, Last: vLast.String},
			Phone: vPhone.String,
			Email: vEmail.String,
		}
	}
	return &out, nil
}

// InsertEventTx appends one entry to a delivery's status history.
func (r *DeliveryRepo) InsertEventTx(ctx context.Context, tx *sql.Tx, ev *model.DeliveryEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO delivery_events (id, delivery_id, status, actor_id, note, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.DeliveryID, string(ev.Status), ev.ActorID, ev.Note, ev.CreatedAt.UTC())
	return err
}

// ListEvents returns the status history of a delivery in recording order.
func (r *DeliveryRepo) ListEvents(ctx context.Context, deliveryID string) ([]model.DeliveryEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, delivery_id, status, actor_id, note, created_at
		 FROM delivery_events WHERE delivery_id = ? ORDER BY created_at, id`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DeliveryEvent{}
	for rows.Next() {
		var ev model.DeliveryEvent
		if err := rows.Scan(&ev.ID, &ev.DeliveryID, &ev.Status, &ev.ActorID, &ev.Note, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
