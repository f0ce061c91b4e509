// Package service holds the donation lifecycle engine: the rules for joint
// transitions of a donation, its request and its delivery, applied as one
// atomic write per operation.
package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/foodbridge/internal/database"
	"github.com/iliyamo/foodbridge/internal/logger"
	"github.com/iliyamo/foodbridge/internal/model"
	"github.com/iliyamo/foodbridge/internal/queue"
	"github.com/iliyamo/foodbridge/internal/repository"
)

// CacheInvalidator drops cached list responses after a committed change.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Engine applies lifecycle operations.  Every operation receives the
// authenticated caller explicitly.
type Engine struct {
	db         *sql.DB
	donations  *repository.DonationRepo
	requests   *repository.RequestRepo
	deliveries *repository.DeliveryRepo
	users      *repository.UserRepo

	pub   queue.Publisher
	cache CacheInvalidator
	log   *logger.Logger

	// Now is the engine's clock.
	Now func() time.Time
}

type Option func(*Engine)

func WithPublisher(p queue.Publisher) Option { return func(e *Engine) { e.pub = p } }

func WithCache(c CacheInvalidator) Option { return func(e *Engine) { e.cache = c } }

func WithLogger(l *logger.Logger) Option { return func(e *Engine) { e.log = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.Now = now } }

func NewEngine(db *sql.DB, opts ...Option) *Engine {
	e := &Engine{
		db:         db,
		donations:  repository.NewDonationRepo(db),
		requests:   repository.NewRequestRepo(db),
		deliveries: repository.NewDeliveryRepo(db),
		users:      repository.NewUserRepo(db),
		pub:        queue.NopPublisher{},
		log:        logger.Nop(),
		Now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// now returns the clock reading at the precision the store keeps.
func (e *Engine) now() time.Time {
	return e.Now().UTC().Truncate(time.Microsecond)
}

func newID() string { return uuid.NewString() }

// eventID returns a time-ordered id so that events written at the same
// instant still list in insertion order.
func eventID() string { return uuid.Must(uuid.NewV7()).String() }

// atomic runs fn in a transaction.  Errors from the engine's taxonomy pass
// through unchanged; any other failure means the store broke mid-cascade and
// is reported as a TransactionFailure.  In both cases nothing was written.
func (e *Engine) atomic(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	err := database.WithTx(ctx, e.db, fn)
	if err == nil || domainError(err) {
		return err
	}
	e.log.Error("lifecycle transaction failed", "op", op, "err", err)
	return &TransactionFailure{Op: op, Err: err}
}

// committed publishes evs and invalidates cached lists.  The committed state
// is authoritative, so failures are only logged.
func (e *Engine) committed(ctx context.Context, evs ...queue.LifecycleEvent) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, ev := range evs {
		if err := e.pub.Publish(bg, ev); err != nil {
			e.log.Warn("publish lifecycle event failed", "kind", ev.Kind, "donation_id", ev.DonationID, "err", err)
		}
	}
	if e.cache != nil {
		if err := e.cache.Invalidate(bg); err != nil {
			e.log.Warn("cache invalidation failed", "err", err)
		}
	}
}

func lifecycleEvent(kind, actor string, at time.Time, d *model.Donation, rq *model.Request, dl *model.Delivery) queue.LifecycleEvent {
	ev := queue.LifecycleEvent{Kind: kind, ActorID: actor, OccurredAt: at}
	if d != nil {
		ev.DonationID = d.ID
		ev.DonationStatus = string(d.Status)
	}
	if rq != nil {
		ev.RequestID = rq.ID
		ev.RequestStatus = string(rq.Status)
		if ev.DonationID == "" {
			ev.DonationID = rq.DonationID
		}
	}
	if dl != nil {
		ev.DeliveryID = dl.ID
		ev.DeliveryStatus = string(dl.Status)
		if ev.DonationID == "" {
			ev.DonationID = dl.DonationID
		}
	}
	return ev
}

// recordEvent appends a status change to the delivery's history.
func (e *Engine) recordEvent(ctx context.Context, tx *sql.Tx, dl *model.Delivery, actor, note string, at time.Time) error {
	return e.deliveries.InsertEventTx(ctx, tx, &model.DeliveryEvent{
		ID:         eventID(),
		DeliveryID: dl.ID,
		Status:     dl.Status,
		ActorID:    actor,
		Note:       note,
		CreatedAt:  at,
	})
}
