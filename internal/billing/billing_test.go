package billing

import (
	"testing"
	"time"

	"github.com/and161185/growthledger/internal/model"
)

func TestPickEligible(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, ok := PickEligible(nil); ok {
		t.Fatalf("empty list must not pick")
	}
	if _, ok := PickEligible([]Subscription{{ID: "sub_x", Status: model.StatusCanceled}, {ID: "sub_y", Status: model.StatusPastDue}}); ok {
		t.Fatalf("non-eligible statuses must not pick")
	}

	got, ok := PickEligible([]Subscription{
		{ID: "sub_old", Status: model.StatusActive, Created: t0},
		{ID: "sub_new", Status: model.StatusTrialing, Created: t0.Add(time.Hour)},
		{ID: "sub_newest_canceled", Status: model.StatusCanceled, Created: t0.Add(2 * time.Hour)},
	})
	if !ok || got.ID != "sub_new" {
		t.Fatalf("want most recent eligible sub_new, got %q ok=%v", got.ID, ok)
	}

	got, _ = PickEligible([]Subscription{
		{ID: "sub_a", Status: model.StatusActive, Created: t0},
		{ID: "sub_c", Status: model.StatusActive, Created: t0},
		{ID: "sub_b", Status: model.StatusActive, Created: t0},
	})
	if got.ID != "sub_c" {
		t.Fatalf("tie must break on greatest id, got %q", got.ID)
	}
}

func TestSubscription_Snapshot(t *testing.T) {
	t.Parallel()

	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	snap := Subscription{ID: "sub_1", CustomerID: "cus_1", Status: model.StatusActive, CurrentPeriodEnd: end, CancelAtPeriodEnd: true}.Snapshot()
	if snap.CurrentPeriodEnd == nil || !snap.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("period end lost: %+v", snap)
	}
	if snap.SubscriptionID != "sub_1" || snap.CustomerID != "cus_1" || !snap.CancelAtPeriodEnd || !snap.Eligible() {
		t.Fatalf("snapshot mismatch: %+v", snap)
	}
	if (Subscription{ID: "sub_2"}).Snapshot().CurrentPeriodEnd != nil {
		t.Fatalf("zero period end must stay nil")
	}
}

func TestIsSafeID(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"cus_123", "sub_1MowQVLkdIwHu7ix", "cs_test_a1b2c3"} {
		if !IsSafeID(id) {
			t.Fatalf("%q should be safe", id)
		}
	}
	for _, id := range []string{"", "cus", "../etc/passwd", "sub_1?expand=x", "cus 1"} {
		if IsSafeID(id) {
			t.Fatalf("%q should be rejected", id)
		}
	}
}
