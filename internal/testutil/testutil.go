// Package testutil builds throwaway SQLite databases and fixtures for tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/foodbridge/internal/database"
	"github.com/iliyamo/foodbridge/internal/model"
	"github.com/iliyamo/foodbridge/internal/queue"
	"github.com/iliyamo/foodbridge/internal/repository"
)

// OpenDB returns a migrated SQLite database in a temp dir.  It is closed
// when the test ends.
func OpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	db, err := database.OpenSQLite(filepath.Join(tb.TempDir(), "foodbridge.db"))
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(context.Background(), db, database.SQLite); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedUser inserts an active user with role and returns it.
func SeedUser(tb testing.TB, db *sql.DB, role model.Role) *model.User {
	tb.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.NewString()
	u := &model.User{
		ID:           id,
		Email:        fmt.Sprintf("%s-%s@example.com", role, id[:8]),
		PasswordHash: "x",
		Name:         model.Name{First: string(role), Last: id[:8]},
		Phone:        "555-0100",
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repository.NewUserRepo(db).Create(context.Background(), u); err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

// CallerOf returns the caller identity for u.
func CallerOf(u *model.User) model.Caller {
	return model.Caller{ID: u.ID, Role: u.Role}
}

// Clock is a manual clock.  Every reading advances it by one millisecond so
// consecutive writes get distinct timestamps.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(start time.Time) *Clock { return &Clock{t: start.UTC()} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Publisher records every published event.
type Publisher struct {
	mu     sync.Mutex
	events []queue.LifecycleEvent
}

func (p *Publisher) Publish(_ context.Context, ev queue.LifecycleEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

// Kinds returns the kinds of the recorded events in publish order.
func (p *Publisher) Kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

// Counter counts cache invalidations.
type Counter struct {
	mu sync.Mutex
	n  int
}

func (c *Counter) Invalidate(context.Context) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
