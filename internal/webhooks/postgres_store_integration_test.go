//go:build integration

package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/bankshield/stepup/internal/testutil"
)

func pgSub(id, channel string, events []EventType, now time.Time) *Subscription {
	return &Subscription{
		ID:        id,
		Channel:   channel,
		URL:       "https://fraud.example.com/hooks/" + id,
		Secret:    "whsec_" + id,
		Events:    events,
		Active:    true,
		CreatedAt: now,
	}
}

func TestPostgres_CreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	sub := pgSub("wh_pg_1", "mobile-banking", []EventType{EventSessionStarted, EventSessionBlocked}, now)
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "wh_pg_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Channel != "mobile-banking" || got.Secret != "whsec_wh_pg_1" {
		t.Errorf("Subscription did not round-trip: %+v", got)
	}
	if len(got.Events) != 2 || got.Events[0] != EventSessionStarted {
		t.Errorf("Events did not round-trip: %v", got.Events)
	}
}

func TestPostgres_GetByEvent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	blocked := pgSub("wh_pg_blocked", "mobile-banking", []EventType{EventSessionBlocked}, now)
	approved := pgSub("wh_pg_approved", "mobile-banking", []EventType{EventSessionApproved}, now)
	inactive := pgSub("wh_pg_inactive", "mobile-banking", []EventType{EventSessionBlocked}, now)
	inactive.Active = false
	for _, s := range []*Subscription{blocked, approved, inactive} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	subs, err := store.GetByEvent(ctx, EventSessionBlocked)
	if err != nil {
		t.Fatalf("GetByEvent failed: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != "wh_pg_blocked" {
		t.Errorf("Expected only the active session.blocked subscription, got %+v", subs)
	}
}

func TestPostgres_UpdateDeliveryState(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	sub := pgSub("wh_pg_update", "mobile-banking", []EventType{EventChallengeIssued}, now)
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	sub.LastError = "connection refused"
	sub.ConsecutiveFailures = 3
	sub.Active = false
	if err := store.Update(ctx, sub); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get(ctx, "wh_pg_update")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Active {
		t.Error("Expected subscription to be inactive")
	}
	if got.ConsecutiveFailures != 3 || got.LastError != "connection refused" {
		t.Errorf("Delivery state did not round-trip: %+v", got)
	}
}

func TestPostgres_GetByChannelAndDelete(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mine := pgSub("wh_pg_mine", "fraud-ops", []EventType{EventSessionDenied}, now)
	other := pgSub("wh_pg_other", "atm", []EventType{EventSessionDenied}, now)
	for _, s := range []*Subscription{mine, other} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	subs, err := store.GetByChannel(ctx, "fraud-ops")
	if err != nil {
		t.Fatalf("GetByChannel failed: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != "wh_pg_mine" {
		t.Errorf("Expected only fraud-ops subscriptions, got %+v", subs)
	}

	if err := store.Delete(ctx, "wh_pg_mine"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	subs, err = store.GetByChannel(ctx, "fraud-ops")
	if err != nil {
		t.Fatalf("GetByChannel failed: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("Expected no subscriptions after delete, got %d", len(subs))
	}
}
