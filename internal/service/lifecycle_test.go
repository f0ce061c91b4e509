package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iliyamo/foodbridge/internal/model"
	"github.com/iliyamo/foodbridge/internal/queue"
)

func TestConcurrentClaimsOneWinner(t *testing.T) {
	f := newFixture(t)
	d := f.donation()
	recipients := []model.Caller{f.recipient, f.recipient2}
	for i := 0; i < 6; i++ {
		recipients = append(recipients, f.seed(model.RoleRecipient))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(recipients))
	for i, r := range recipients {
		wg.Add(1)
		go func(i int, r model.Caller) {
			defer wg.Done()
			_, errs[i] = f.eng.ClaimDonation(context.Background(), r, d.ID, RequestInput{
				DeliveryAddress: model.Address{Text: "addr"},
			})
		}(i, r)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyClaimed):
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners: got=%d want=1", wins)
	}
	if got := f.mustDonation(d.ID).Status; got != model.DonationReserved {
		t.Fatalf("donation status: got=%s want=%s", got, model.DonationReserved)
	}
	f.assertConsistent()
}

func TestAcceptAssignedTaskFails(t *testing.T) {
	f := newFixture(t)
	res := f.claim(f.donation(), f.recipient)
	f.accept(res.Delivery.ID, f.volunteer)

	_, err := f.eng.AcceptDeliveryTask(context.Background(), f.volunteer2, res.Delivery.ID)
	wantErr(t, err, ErrAlreadyAssigned)

	dl := f.mustDelivery(res.Delivery.ID)
	if !dl.AssignedTo(f.volunteer.ID) || dl.Status != model.DeliveryAccepted {
		t.Fatalf("assignee changed: %+v", dl)
	}
	_, err = f.eng.AcceptDeliveryTask(context.Background(), f.donor, res.Delivery.ID)
	wantErr(t, err, ErrForbidden)
	f.assertConsistent()
}

func TestConcurrentAcceptOneWinner(t *testing.T) {
	f := newFixture(t)
	res := f.claim(f.donation(), f.recipient)
	vols := []model.Caller{f.volunteer, f.volunteer2, f.seed(model.RoleVolunteer), f.seed(model.RoleVolunteer)}

	var wg sync.WaitGroup
	errs := make([]error, len(vols))
	for i, v := range vols {
		wg.Add(1)
		go func(i int, v model.Caller) {
			defer wg.Done()
			_, errs[i] = f.eng.AcceptDeliveryTask(context.Background(), v, res.Delivery.ID)
		}(i, v)
	}
	wg.Wait()

	winner := ""
	for i, err := range errs {
		switch {
		case err == nil:
			if winner != "" {
				t.Fatalf("two volunteers accepted")
			}
			winner = vols[i].ID
		case !errors.Is(err, ErrAlreadyAssigned):
			t.Fatalf("unexpected accept error: %v", err)
		}
	}
	if dl := f.mustDelivery(res.Delivery.ID); !dl.AssignedTo(winner) {
		t.Fatalf("assignee: got=%v want=%s", dl.VolunteerID, winner)
	}
}

func TestDeliveredCascade(t *testing.T) {
	f := newFixture(t)
	d := f.donation()
	res := f.claim(d, f.recipient)
	f.accept(res.Delivery.ID, f.volunteer)
	f.assertConsistent()

	f.move(res.Delivery.ID, f.volunteer, model.DeliveryPickedUp)
	if got := f.mustDonation(d.ID).Status; got != model.DonationInTransit {
		t.Fatalf("after pickup donation: got=%s want=%s", got, model.DonationInTransit)
	}
	f.assertConsistent()

	detail, err := f.eng.ApplyDeliveryStatusUpdate(context.Background(), f.volunteer, res.Delivery.ID, model.DeliveryDelivered)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if detail.Status != model.DeliveryDelivered || detail.DeliveredAt == nil || detail.PickedUpAt == nil {
		t.Fatalf("delivery detail: %+v", detail.Delivery)
	}
	if detail.Donation.Status != model.DonationDelivered || detail.Request.Status != model.RequestFulfilled {
		t.Fatalf("cascade: donation=%s request=%s", detail.Donation.Status, detail.Request.Status)
	}
	if detail.Volunteer == nil || detail.Volunteer.ID != f.volunteer.ID || detail.Donor.ID != f.donor.ID {
		t.Fatalf("joined summaries: donor=%+v volunteer=%+v", detail.Donor, detail.Volunteer)
	}
	f.assertConsistent()

	want := []model.DeliveryStatus{model.DeliveryStandBy, model.DeliveryAccepted, model.DeliveryPickedUp, model.DeliveryDelivered}
	if got := f.eventStatuses(res.Delivery.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("event sequence: got=%v want=%v", got, want)
	}

	_, err = f.eng.ApplyDeliveryStatusUpdate(context.Background(), f.volunteer, res.Delivery.ID, model.DeliveryCancelled)
	wantErr(t, err, ErrInvalidTransition)
}

// A reader polling during the DELIVERED cascade must never see the donation
// delivered while its request is still open.  The donation is read first, so
// a committed DELIVERED guarantees the request read after it is FULFILLED.
func TestDeliveredCascadeIsAtomicForReaders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		d := f.donation()
		res := f.claim(d, f.recipient)
		f.accept(res.Delivery.ID, f.volunteer)
		f.move(res.Delivery.ID, f.volunteer, model.DeliveryPickedUp)

		var mixed, reads atomic.Int64
		done := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				got, err := f.eng.GetDonation(ctx, d.ID)
				if err != nil {
					continue
				}
				rq, err := f.eng.requests.GetByID(ctx, res.Request.ID)
				if err != nil {
					continue
				}
				reads.Add(1)
				if got.Status == model.DonationDelivered && rq.Status != model.RequestFulfilled {
					mixed.Add(1)
				}
			}
		}()

		_, err := f.eng.ApplyDeliveryStatusUpdate(ctx, f.volunteer, res.Delivery.ID, model.DeliveryDelivered)
		close(done)
		wg.Wait()
		if err != nil {
			t.Fatalf("deliver: %v", err)
		}
		if n := mixed.Load(); n != 0 {
			t.Fatalf("round %d: %d of %d reads saw DELIVERED with an open request", i, n, reads.Load())
		}
		f.assertConsistent()
	}
}

func TestInjectedFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	d := f.donation()
	res := f.claim(d, f.recipient)
	f.accept(res.Delivery.ID, f.volunteer)
	f.move(res.Delivery.ID, f.volunteer, model.DeliveryPickedUp)

	_, err := f.db.Exec(`CREATE TRIGGER fail_fulfil BEFORE UPDATE OF status ON requests
		WHEN NEW.status = 'FULFILLED'
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	before := len(f.eventStatuses(res.Delivery.ID))

	_, err = f.eng.ApplyDeliveryStatusUpdate(context.Background(), f.volunteer, res.Delivery.ID, model.DeliveryDelivered)
	var tf *TransactionFailure
	if !errors.As(err, &tf) {
		t.Fatalf("unexpected error: got=%v want TransactionFailure", err)
	}

	if got := f.mustDelivery(res.Delivery.ID); got.Status != model.DeliveryPickedUp || got.DeliveredAt != nil {
		t.Fatalf("delivery write survived rollback: %+v", got)
	}
	if got := f.mustDonation(d.ID).Status; got != model.DonationInTransit {
		t.Fatalf("donation write survived rollback: got=%s", got)
	}
	if got := len(f.eventStatuses(res.Delivery.ID)); got != before {
		t.Fatalf("event write survived rollback: got=%d want=%d", got, before)
	}
	f.assertConsistent()
}

func TestCancelThenReclaim(t *testing.T) {
	f := newFixture(t)
	d := f.donation()
	res := f.claim(d, f.recipient)
	f.accept(res.Delivery.ID, f.volunteer)
	f.move(res.Delivery.ID, f.volunteer, model.DeliveryCancelled)

	got := f.mustDonation(d.ID)
	if got.Status != model.DonationAvailable || got.DeliveryID != nil || got.RecipientID != nil {
		t.Fatalf("after cancel donation: %+v", got)
	}
	rq := f.mustRequest(res.Request.ID)
	if rq.Status != model.RequestPending || rq.RecipientID != nil {
		t.Fatalf("after cancel request: %+v", rq)
	}
	if dl := f.mustDelivery(res.Delivery.ID); dl.Status != model.DeliveryCancelled {
		t.Fatalf("after cancel delivery: %+v", dl)
	}
	f.assertConsistent()

	again := f.claim(d, f.recipient2)
	if again.Delivery.ID == res.Delivery.ID {
		t.Fatalf("reclaim reused cancelled delivery")
	}
	if again.Request.ID != res.Request.ID || !again.Request.HeldBy(f.recipient2.ID) {
		t.Fatalf("reclaim request: %+v", again.Request)
	}
	f.assertConsistent()
}

func TestDeliveryStatusRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.claim(f.donation(), f.recipient)
	id := res.Delivery.ID

	_, err := f.eng.ApplyDeliveryStatusUpdate(ctx, f.volunteer, id, model.DeliveryAccepted)
	wantErr(t, err, ErrInvalidStatus)
	_, err = f.eng.ApplyDeliveryStatusUpdate(ctx, f.volunteer, id, "LOST")
	wantErr(t, err, ErrInvalidStatus)

	// ASSIGNED on an open task accepts it.
	detail, err := f.eng.ApplyDeliveryStatusUpdate(ctx, f.volunteer, id, model.DeliveryAssigned)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if detail.Status != model.DeliveryAccepted || !detail.AssignedTo(f.volunteer.ID) {
		t.Fatalf("assigned detail: %+v", detail.Delivery)
	}
	// Repeating it is a no-op for the holder and a conflict for anyone else.
	if _, err := f.eng.ApplyDeliveryStatusUpdate(ctx, f.volunteer, id, model.DeliveryAssigned); err != nil {
		t.Fatalf("repeat assign: %v", err)
	}
	_, err = f.eng.ApplyDeliveryStatusUpdate(ctx, f.volunteer2, id, model.DeliveryAssigned)
	wantErr(t, err, ErrInvalidTransition)

	_, err = f.eng.ApplyDeliveryStatusUpdate(ctx, f.volunteer, id, model.DeliveryDelivered)
	wantErr(t, err, ErrInvalidTransition)
	_, err = f.eng.ApplyDeliveryStatusUpdate(ctx, f.volunteer2, id, model.DeliveryPickedUp)
	wantErr(t, err, ErrForbidden)
	_, err = f.eng.ApplyDeliveryStatusUpdate(ctx, f.recipient, id, model.DeliveryPickedUp)
	wantErr(t, err, ErrForbidden)
	_, err = f.eng.ApplyDeliveryStatusUpdate(ctx, f.donor2, id, model.DeliveryPickedUp)
	wantErr(t, err, ErrForbidden)

	// The donor may drive the delivery too.
	f.move(id, f.donor, model.DeliveryPickedUp)
	f.assertConsistent()

	want := []model.DeliveryStatus{model.DeliveryStandBy, model.DeliveryAccepted, model.DeliveryPickedUp}
	if got := f.eventStatuses(id); !reflect.DeepEqual(got, want) {
		t.Fatalf("event sequence: got=%v want=%v", got, want)
	}
}

func TestUpdateDeliveryDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.donation()
	res := f.claim(d, f.recipient)

	addr := model.GeoPoint{Name: "Back door", Lat: 52.53, Lng: 13.41}
	desc := "rolls and loaves"
	detail, err := f.eng.UpdateDelivery(ctx, f.donor, res.Delivery.ID, DeliveryPatch{PickupAddress: &addr, Description: &desc})
	if err != nil {
		t.Fatalf("UpdateDelivery: %v", err)
	}
	if detail.PickupLocationName != "Back door" || detail.Donation.PickupAddress != addr {
		t.Fatalf("pickup not updated: %+v", detail)
	}
	if got := f.mustDonation(d.ID); got.Description != desc || got.Status != model.DonationReserved {
		t.Fatalf("donation after edit: %+v", got)
	}

	_, err = f.eng.UpdateDelivery(ctx, f.volunteer, res.Delivery.ID, DeliveryPatch{Description: &desc})
	wantErr(t, err, ErrForbidden)
	_, err = f.eng.UpdateDelivery(ctx, f.donor, res.Delivery.ID, DeliveryPatch{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("empty patch: got=%v want ValidationError", err)
	}

	f.accept(res.Delivery.ID, f.volunteer)
	note := "ring twice"
	if _, err := f.eng.UpdateDelivery(ctx, f.volunteer, res.Delivery.ID, DeliveryPatch{Notes: &note}); err != nil {
		t.Fatalf("notes: %v", err)
	}
	f.move(res.Delivery.ID, f.volunteer, model.DeliveryPickedUp)
	_, err = f.eng.UpdateDelivery(ctx, f.donor, res.Delivery.ID, DeliveryPatch{Description: &desc})
	wantErr(t, err, ErrInvalidTransition)
	if got := f.mustDelivery(res.Delivery.ID).Notes; got != note {
		t.Fatalf("notes: got=%q want=%q", got, note)
	}
}

func TestEditDetailsAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.donation()
	res := f.claim(d, f.recipient)
	f.clock.Advance(48 * time.Hour)

	desc := "collect before noon"
	if _, err := f.eng.UpdateDelivery(ctx, f.donor, res.Delivery.ID, DeliveryPatch{Description: &desc}); err != nil {
		t.Fatalf("description edit on expired schedule: %v", err)
	}
	if got := f.mustDonation(d.ID).Description; got != desc {
		t.Fatalf("description: got=%q want=%q", got, desc)
	}

	expiry := start.Add(36 * time.Hour)
	_, err := f.eng.UpdateDelivery(ctx, f.donor, res.Delivery.ID, DeliveryPatch{ExpiryTime: &expiry})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "expiry_time" {
		t.Fatalf("past expiry: got=%v want expiry_time ValidationError", err)
	}
	f.assertConsistent()
}

func TestRepeatAssignIsSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.claim(f.donation(), f.recipient)
	f.accept(res.Delivery.ID, f.volunteer)
	kinds, busts := len(f.pub.Kinds()), f.cache.Count()
	version := f.mustDelivery(res.Delivery.ID).Version

	detail, err := f.eng.ApplyDeliveryStatusUpdate(ctx, f.volunteer, res.Delivery.ID, model.DeliveryAssigned)
	if err != nil {
		t.Fatalf("repeat assign: %v", err)
	}
	if detail.Status != model.DeliveryAccepted || detail.Version != version {
		t.Fatalf("repeat assign changed the delivery: %+v", detail.Delivery)
	}
	if got := len(f.pub.Kinds()); got != kinds {
		t.Fatalf("published events: got=%d want=%d", got, kinds)
	}
	if got := f.cache.Count(); got != busts {
		t.Fatalf("cache invalidations: got=%d want=%d", got, busts)
	}
}

func TestListMineRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.ListDonorDonations(ctx, f.recipient)
	wantErr(t, err, ErrForbidden)
	_, err = f.eng.ListRecipientRequests(ctx, f.volunteer)
	wantErr(t, err, ErrForbidden)
	_, err = f.eng.ListVolunteerDeliveries(ctx, f.donor)
	wantErr(t, err, ErrForbidden)
	_, err = f.eng.ListVolunteerDeliveries(ctx, model.Caller{Role: model.RoleVolunteer})
	wantErr(t, err, ErrForbidden)

	res := f.claim(f.donation(), f.recipient)
	mine, err := f.eng.ListRecipientRequests(ctx, f.recipient)
	if err != nil || len(mine) != 1 || mine[0].ID != res.Request.ID {
		t.Fatalf("recipient requests: %+v err=%v", mine, err)
	}
}

func TestDeliveryVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.claim(f.donation(), f.recipient)
	id := res.Delivery.ID

	for _, c := range []model.Caller{f.donor, f.recipient, f.volunteer, f.volunteer2, f.admin} {
		if _, err := f.eng.GetDelivery(ctx, c, id); err != nil {
			t.Fatalf("open task hidden from %s: %v", c.Role, err)
		}
	}
	_, err := f.eng.GetDelivery(ctx, f.recipient2, id)
	wantErr(t, err, ErrForbidden)

	f.accept(id, f.volunteer)
	_, err = f.eng.GetDelivery(ctx, f.volunteer2, id)
	wantErr(t, err, ErrForbidden)
	if _, err := f.eng.DeliveryEvents(ctx, f.volunteer, id); err != nil {
		t.Fatalf("events for assignee: %v", err)
	}
	_, err = f.eng.GetDelivery(ctx, f.volunteer, "nope")
	wantErr(t, err, ErrNotFound)

	open, err := f.eng.ListUnassignedDeliveries(ctx, f.volunteer2)
	if err != nil || len(open) != 0 {
		t.Fatalf("unassigned after accept: got=%d err=%v", len(open), err)
	}
	mine, err := f.eng.ListVolunteerDeliveries(ctx, f.volunteer)
	if err != nil || len(mine) != 1 || mine[0].ID != id {
		t.Fatalf("volunteer deliveries: %+v err=%v", mine, err)
	}
	_, err = f.eng.ListUnassignedDeliveries(ctx, f.donor)
	wantErr(t, err, ErrForbidden)
}

func TestRetireDonation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.donation()
	res := f.claim(d, f.recipient)
	f.accept(res.Delivery.ID, f.volunteer)

	_, err := f.eng.UpdateDonationStatus(ctx, f.donor2, d.ID, model.DonationCancelled)
	wantErr(t, err, ErrForbidden)
	_, err = f.eng.UpdateDonationStatus(ctx, f.donor, d.ID, model.DonationDelivered)
	wantErr(t, err, ErrInvalidStatus)

	got, err := f.eng.UpdateDonationStatus(ctx, f.donor, d.ID, model.DonationCancelled)
	if err != nil {
		t.Fatalf("retire: %v", err)
	}
	if got.Status != model.DonationCancelled || got.DeliveryID != nil {
		t.Fatalf("retired donation: %+v", got)
	}
	if dl := f.mustDelivery(res.Delivery.ID); dl.Status != model.DeliveryCancelled {
		t.Fatalf("delivery not cancelled: %+v", dl)
	}
	if rq := f.mustRequest(res.Request.ID); rq.Status != model.RequestPending || rq.RecipientID != nil {
		t.Fatalf("request not reset: %+v", rq)
	}
	f.assertConsistent()

	_, err = f.eng.ClaimDonation(ctx, f.recipient2, d.ID, RequestInput{DeliveryAddress: model.Address{Text: "x"}})
	wantErr(t, err, ErrInvalidTransition)
	_, err = f.eng.UpdateDonationStatus(ctx, f.donor, d.ID, model.DonationExpired)
	wantErr(t, err, ErrInvalidTransition)

	// An admin may retire any donation, but not once it is in transit.
	d2 := f.donation()
	res2 := f.claim(d2, f.recipient)
	f.accept(res2.Delivery.ID, f.volunteer)
	f.move(res2.Delivery.ID, f.volunteer, model.DeliveryPickedUp)
	_, err = f.eng.UpdateDonationStatus(ctx, f.admin, d2.ID, model.DonationCancelled)
	wantErr(t, err, ErrInvalidTransition)

	d3 := f.donation()
	if _, err := f.eng.UpdateDonationStatus(ctx, f.admin, d3.ID, model.DonationExpired); err != nil {
		t.Fatalf("admin retire: %v", err)
	}
	f.assertConsistent()
}

func TestRequestStatusUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.donation()
	rq, err := f.eng.ExpressInterest(ctx, f.recipient, d.ID, RequestInput{DeliveryAddress: model.Address{Text: "12 Shelter Road"}})
	if err != nil {
		t.Fatalf("ExpressInterest: %v", err)
	}

	_, err = f.eng.UpdateRequestStatus(ctx, f.recipient, rq.ID, model.RequestFulfilled)
	wantErr(t, err, ErrInvalidStatus)
	_, err = f.eng.UpdateRequestStatus(ctx, f.recipient2, rq.ID, model.RequestNetworkError)
	wantErr(t, err, ErrForbidden)

	got, err := f.eng.UpdateRequestStatus(ctx, f.recipient, rq.ID, model.RequestNetworkError)
	if err != nil || got.Status != model.RequestNetworkError {
		t.Fatalf("network error: %+v err=%v", got, err)
	}
	f.assertConsistent()

	got, err = f.eng.UpdateRequestStatus(ctx, f.recipient, rq.ID, model.RequestApproved)
	if err != nil || got.Status != model.RequestApproved {
		t.Fatalf("approve: %+v err=%v", got, err)
	}
	if s := f.mustDonation(d.ID).Status; s != model.DonationReserved {
		t.Fatalf("approve donation: got=%s want=%s", s, model.DonationReserved)
	}
	_, err = f.eng.UpdateRequestStatus(ctx, f.recipient, rq.ID, model.RequestNetworkError)
	wantErr(t, err, ErrInvalidTransition)

	deliveryID := *got.DeliveryID
	got, err = f.eng.UpdateRequestStatus(ctx, f.recipient, rq.ID, model.RequestPending)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got.Status != model.RequestPending || got.RecipientID != nil {
		t.Fatalf("withdrawn request: %+v", got)
	}
	if s := f.mustDonation(d.ID).Status; s != model.DonationAvailable {
		t.Fatalf("withdraw donation: got=%s want=%s", s, model.DonationAvailable)
	}
	if dl := f.mustDelivery(deliveryID); dl.Status != model.DeliveryCancelled {
		t.Fatalf("withdraw delivery: %+v", dl)
	}
	f.assertConsistent()
}

func TestWithdrawAfterPickupFails(t *testing.T) {
	f := newFixture(t)
	res := f.claim(f.donation(), f.recipient)
	f.accept(res.Delivery.ID, f.volunteer)
	f.move(res.Delivery.ID, f.volunteer, model.DeliveryPickedUp)

	_, err := f.eng.UpdateRequestStatus(context.Background(), f.recipient, res.Request.ID, model.RequestPending)
	wantErr(t, err, ErrInvalidTransition)
	f.assertConsistent()
}

func TestExpireOverdue(t *testing.T) {
	f := newFixture(t)
	d1 := f.donation()
	d2 := f.donation()
	f.claim(d2, f.recipient)
	f.clock.Advance(30 * 24 * time.Hour)

	ids, err := f.eng.ExpireOverdue(context.Background())
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if len(ids) != 1 || ids[0] != d1.ID {
		t.Fatalf("expired ids: got=%v want=[%s]", ids, d1.ID)
	}
	if s := f.mustDonation(d2.ID).Status; s != model.DonationReserved {
		t.Fatalf("reserved donation expired: got=%s", s)
	}
	f.assertConsistent()
}

func TestCommittedChangesPublishAndInvalidate(t *testing.T) {
	f := newFixture(t)
	res := f.claim(f.donation(), f.recipient)
	f.accept(res.Delivery.ID, f.volunteer)
	f.move(res.Delivery.ID, f.volunteer, model.DeliveryCancelled)

	// A failed operation publishes nothing.
	_, _ = f.eng.AcceptDeliveryTask(context.Background(), f.volunteer, res.Delivery.ID)

	want := []string{queue.KindDonationCreated, queue.KindDonationClaimed, queue.KindDeliveryAccepted, queue.KindDeliveryCancelled}
	if got := f.pub.Kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("published kinds: got=%v want=%v", got, want)
	}
	if got := f.cache.Count(); got != len(want) {
		t.Fatalf("cache invalidations: got=%d want=%d", got, len(want))
	}
}

func TestFullScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.donation()
	if d.Status != model.DonationAvailable {
		t.Fatalf("create: got=%s", d.Status)
	}
	res := f.claim(d, f.recipient)
	if res.Donation.Status != model.DonationReserved || res.Request.Status != model.RequestApproved {
		t.Fatalf("claim: donation=%s request=%s", res.Donation.Status, res.Request.Status)
	}
	open, err := f.eng.ListUnassignedDeliveries(ctx, f.volunteer)
	if err != nil || len(open) != 1 || open[0].ID != res.Delivery.ID {
		t.Fatalf("unassigned: %+v err=%v", open, err)
	}
	detail, err := f.eng.AcceptDeliveryTask(ctx, f.volunteer, res.Delivery.ID)
	if err != nil || detail.Status != model.DeliveryAccepted || detail.Donation.Status != model.DonationReserved {
		t.Fatalf("accept: %+v err=%v", detail, err)
	}
	detail, err = f.eng.ApplyDeliveryStatusUpdate(ctx, f.volunteer, res.Delivery.ID, model.DeliveryPickedUp)
	if err != nil || detail.Status != model.DeliveryPickedUp || detail.Donation.Status != model.DonationInTransit {
		t.Fatalf("pickup: %+v err=%v", detail, err)
	}
	detail, err = f.eng.ApplyDeliveryStatusUpdate(ctx, f.volunteer, res.Delivery.ID, model.DeliveryDelivered)
	if err != nil || detail.Status != model.DeliveryDelivered || detail.Donation.Status != model.DonationDelivered ||
		detail.Request.Status != model.RequestFulfilled {
		t.Fatalf("deliver: %+v err=%v", detail, err)
	}

	rels, err := f.eng.Relationships(ctx, f.volunteer)
	if err != nil || len(rels.DeliveryIDs) != 1 || rels.DeliveryIDs[0] != res.Delivery.ID {
		t.Fatalf("volunteer relationships: %+v err=%v", rels, err)
	}
	rels, err = f.eng.Relationships(ctx, f.recipient)
	if err != nil || len(rels.RequestIDs) != 1 || rels.RequestIDs[0] != res.Request.ID {
		t.Fatalf("recipient relationships: %+v err=%v", rels, err)
	}
	mine, err := f.eng.ListDonorDonations(ctx, f.donor)
	if err != nil || len(mine) != 1 || mine[0].Status != model.DonationDelivered {
		t.Fatalf("donor donations: %+v err=%v", mine, err)
	}
	f.assertConsistent()
}
