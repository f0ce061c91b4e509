package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// table is a CREATE TABLE statement with dialect placeholders:
//   {ts}   -> DATETIME(6) on MySQL, DATETIME on SQLite
//   {text} -> TEXT
// and a list of secondary indexes as column lists.
type table struct {
	name    string
	body    string
	indexes map[string]string // index name -> column list
}

var schema = []table{
	{
		name: "users",
		body: `
			id            VARCHAR(36)  NOT NULL PRIMARY KEY,
			email         VARCHAR(255) NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			first_name    VARCHAR(100) NOT NULL DEFAULT '',
			last_name     VARCHAR(100) NOT NULL DEFAULT '',
			phone         VARCHAR(32)  NOT NULL DEFAULT '',
			role          VARCHAR(16)  NOT NULL,
			address       VARCHAR(255) NOT NULL DEFAULT '',
			is_active     BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at    {ts}         NOT NULL,
			updated_at    {ts}         NOT NULL,
			CONSTRAINT uq_users_email UNIQUE (email)`,
	},
	{
		name: "refresh_tokens",
		body: `
			id         VARCHAR(36) NOT NULL PRIMARY KEY,
			user_id    VARCHAR(36) NOT NULL,
			token_hash CHAR(64)    NOT NULL,
			expires_at {ts}        NOT NULL,
			revoked_at {ts}        NULL,
			created_at {ts}        NOT NULL,
			CONSTRAINT uq_refresh_tokens_hash UNIQUE (token_hash)`,
		indexes: map[string]string{"idx_refresh_tokens_user": "user_id"},
	},
	{
		name: "donations",
		body: `
			id              VARCHAR(36)  NOT NULL PRIMARY KEY,
			donor_id        VARCHAR(36)  NOT NULL,
			food_type       VARCHAR(32)  NOT NULL,
			quantity_amount DOUBLE       NOT NULL,
			quantity_unit   VARCHAR(16)  NOT NULL,
			pickup_name     VARCHAR(255) NOT NULL DEFAULT '',
			pickup_lat      DOUBLE       NOT NULL DEFAULT 0,
			pickup_lng      DOUBLE       NOT NULL DEFAULT 0,
			pickup_time     {ts}         NOT NULL,
			expiry_time     {ts}         NOT NULL,
			status          VARCHAR(16)  NOT NULL,
			description     {text}       NOT NULL,
			version         INT          NOT NULL DEFAULT 1,
			created_at      {ts}         NOT NULL,
			updated_at      {ts}         NOT NULL`,
		indexes: map[string]string{
			"idx_donations_donor":  "donor_id",
			"idx_donations_status": "status",
		},
	},
	{
		// donation_id is the tie-break for concurrent claims.
		name: "requests",
		body: `
			id               VARCHAR(36)  NOT NULL PRIMARY KEY,
			donation_id      VARCHAR(36)  NOT NULL,
			recipient_id     VARCHAR(36)  NULL,
			delivery_address VARCHAR(255) NOT NULL DEFAULT '',
			delivery_lat     DOUBLE       NOT NULL DEFAULT 0,
			delivery_lng     DOUBLE       NOT NULL DEFAULT 0,
			notes            {text}       NOT NULL,
			status           VARCHAR(16)  NOT NULL,
			version          INT          NOT NULL DEFAULT 1,
			created_at       {ts}         NOT NULL,
			updated_at       {ts}         NOT NULL,
			CONSTRAINT uq_requests_donation UNIQUE (donation_id)`,
		indexes: map[string]string{"idx_requests_recipient": "recipient_id"},
	},
	{
		// active_donation_id is set while the delivery is live and NULL once it
		// is cancelled; the unique constraint allows one live delivery per donation.
		name: "deliveries",
		body: `
			id                   VARCHAR(36)  NOT NULL PRIMARY KEY,
			donation_id          VARCHAR(36)  NOT NULL,
			active_donation_id   VARCHAR(36)  NULL,
			request_id           VARCHAR(36)  NOT NULL,
			volunteer_id         VARCHAR(36)  NULL,
			status               VARCHAR(16)  NOT NULL,
			pickup_lat           DOUBLE       NOT NULL DEFAULT 0,
			pickup_lng           DOUBLE       NOT NULL DEFAULT 0,
			pickup_location_name VARCHAR(255) NOT NULL DEFAULT '',
			picked_up_at         {ts}         NULL,
			delivered_at         {ts}         NULL,
			notes                {text}       NOT NULL,
			version              INT          NOT NULL DEFAULT 1,
			created_at           {ts}         NOT NULL,
			updated_at           {ts}         NOT NULL,
			CONSTRAINT uq_deliveries_active_donation UNIQUE (active_donation_id)`,
		indexes: map[string]string{
			"idx_deliveries_donation":  "donation_id",
			"idx_deliveries_volunteer": "volunteer_id",
			"idx_deliveries_status":    "status",
		},
	},
	{
		name: "delivery_events",
		body: `
			id          VARCHAR(36)  NOT NULL PRIMARY KEY,
			delivery_id VARCHAR(36)  NOT NULL,
			status      VARCHAR(16)  NOT NULL,
			actor_id    VARCHAR(36)  NOT NULL,
			note        VARCHAR(255) NOT NULL DEFAULT '',
			created_at  {ts}         NOT NULL`,
		indexes: map[string]string{"idx_delivery_events_delivery": "delivery_id, created_at"},
	},
}

// Migrate creates every table and index that does not exist yet.  It is
// safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	for _, stmt := range schemaStatements(driver) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// schemaStatements renders the schema for one dialect.  MySQL has no
// CREATE INDEX IF NOT EXISTS, so its indexes are declared inline.
func schemaStatements(driver string) []string {
	ts, text := "DATETIME", "TEXT"
	if driver == MySQL {
		ts = "DATETIME(6)"
	}
	var out []string
	for _, t := range schema {
		body := strings.NewReplacer("{ts}", ts, "{text}", text).Replace(t.body)
		if driver == MySQL {
			for name, cols := range t.indexes {
				body += fmt.Sprintf(",\n\t\t\tINDEX %s (%s)", name, cols)
			}
			out = append(out, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s\n\t\t) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4", t.name, body))
			continue
		}
		out = append(out, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s\n\t\t)", t.name, body))
		for name, cols := range t.indexes {
			out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, t.name, cols))
		}
	}
	return out
}
