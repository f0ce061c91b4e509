package policy

import (
	"errors"
	"testing"

	"github.com/iliyamo/foodbridge/internal/model"
)

func TestAllowed(t *testing.T) {
	cases := []struct {
		op   Operation
		role model.Role
		rel  Relationship
		want bool
	}{
		{DonationCreate, model.RoleDonor, None, true},
		{DonationCreate, model.RoleRecipient, None, false},
		{DonationClaim, model.RoleRecipient, None, true},
		{DonationClaim, model.RoleAdmin, None, false},
		{DonationUpdateStatus, model.RoleDonor, Owner, true},
		{DonationUpdateStatus, model.RoleDonor, None, false},
		{DonationUpdateStatus, model.RoleAdmin, None, true},
		{RequestUpdateStatus, model.RoleRecipient, Owner, true},
		{RequestUpdateStatus, model.RoleRecipient, None, false},
		{DeliveryAccept, model.RoleVolunteer, None, true},
		{DeliveryAccept, model.RoleDonor, Owner, false},
		{DeliveryUpdateStatus, model.RoleVolunteer, Assignee, true},
		{DeliveryUpdateStatus, model.RoleVolunteer, Open, false},
		{DeliveryUpdateStatus, model.RoleRecipient, Owner, false},
		{DeliveryUpdateDetails, model.RoleVolunteer, Assignee, false},
		{DeliveryView, model.RoleVolunteer, Open, true},
		{DeliveryView, model.RoleVolunteer, None, false},
		{DeliveryListUnassigned, model.RoleAdmin, None, true},
		{DonationListMine, model.RoleDonor, None, true},
		{DonationListMine, model.RoleAdmin, None, false},
		{RequestListMine, model.RoleRecipient, None, true},
		{RequestListMine, model.RoleDonor, None, false},
		{DeliveryListMine, model.RoleVolunteer, None, true},
		{DeliveryListMine, model.RoleRecipient, None, false},
		{"unknown.op", model.RoleAdmin, None, false},
	}
	for _, tc := range cases {
		if got := Allowed(tc.op, tc.role, tc.rel); got != tc.want {
			t.Fatalf("Allowed(%s, %s, %s): got=%v want=%v", tc.op, tc.role, tc.rel, got, tc.want)
		}
	}
}

func TestCheckRequiresIdentity(t *testing.T) {
	if err := Check(DonationCreate, model.Caller{Role: model.RoleDonor}, None); !errors.Is(err, ErrForbidden) {
		t.Fatalf("anonymous caller: got=%v want=%v", err, ErrForbidden)
	}
	if err := Check(DonationCreate, model.Caller{ID: "d1", Role: model.RoleDonor}, None); err != nil {
		t.Fatalf("donor: %v", err)
	}
}

func TestRelationships(t *testing.T) {
	donor := model.Caller{ID: "donor", Role: model.RoleDonor}
	recipient := model.Caller{ID: "recipient", Role: model.RoleRecipient}
	vol := model.Caller{ID: "vol", Role: model.RoleVolunteer}
	other := model.Caller{ID: "other", Role: model.RoleVolunteer}

	if got := DonationRel(donor, &model.Donation{DonorID: "donor"}); got != Owner {
		t.Fatalf("DonationRel: got=%s want=%s", got, Owner)
	}
	rid := "recipient"
	rq := &model.Request{RecipientID: &rid}
	if got := RequestRel(recipient, rq, "donor"); got != Owner {
		t.Fatalf("RequestRel recipient: got=%s", got)
	}
	if got := RequestRel(donor, rq, "donor"); got != Owner {
		t.Fatalf("RequestRel donor: got=%s", got)
	}
	if got := RequestRel(vol, rq, "donor"); got != None {
		t.Fatalf("RequestRel stranger: got=%s", got)
	}

	open := &model.Delivery{Status: model.DeliveryStandBy}
	if got := DeliveryRel(other, open, "donor", &rid); got != Open {
		t.Fatalf("DeliveryRel open: got=%s", got)
	}
	vid := "vol"
	taken := &model.Delivery{Status: model.DeliveryAccepted, VolunteerID: &vid}
	cases := map[model.Caller]Relationship{vol: Assignee, other: None, donor: Owner, recipient: Owner}
	for c, want := range cases {
		if got := DeliveryRel(c, taken, "donor", &rid); got != want {
			t.Fatalf("DeliveryRel(%s): got=%s want=%s", c.ID, got, want)
		}
	}
}
