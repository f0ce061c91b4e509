package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/foodbridge/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userSelect = `SELECT id, email, password_hash, first_name, last_name, phone, role, address, is_active, created_at, updated_at FROM users`

func scanUser(s rowScanner) (*model.User, error) {
	var u model.User
	err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name.First, &u.Name.Last, &u.Phone,
		&u.Role, &u.Address, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// Create inserts u.  The email is normalized before insert; a taken email
// yields ErrEmailExists.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, first_name, last_name, phone, role, address, is_active, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, u.PasswordHash, u.Name.First, u.Name.Last, u.Phone, string(u.Role), u.Address, u.IsActive,
		u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	if isDuplicateKey(err) {
		return ErrEmailExists
	}
	return err
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx, userSelect+" WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, userSelect+" WHERE id=? LIMIT 1", id))
}

// Relationships collects the ids of the donations a user posted, the
// requests they hold and the deliveries they carry.
func (r *UserRepo) Relationships(ctx context.Context, userID string) (*model.Relationships, error) {
	var rel model.Relationships
	queries := []struct {
		q   string
		dst *[]string
	}{
		{"SELECT id FROM donations WHERE donor_id=? ORDER BY created_at, id", &rel.DonationIDs},
		{"SELECT id FROM requests WHERE recipient_id=? ORDER BY created_at, id", &rel.RequestIDs},
		{"SELECT id FROM deliveries WHERE volunteer_id=? ORDER BY created_at, id", &rel.DeliveryIDs},
	}
	for _, x := range queries {
		rows, err := r.DB.QueryContext(ctx, x.q, userID)
		if err != nil {
			return nil, err
		}
		ids, err := collectIDs(rows)
		if err != nil {
			return nil, err
		}
		*x.dst = ids
	}
	return &rel, nil
}
