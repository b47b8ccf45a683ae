package app_test

import (
	"context"
	"testing"
	"time"

	"hoostn/internal/app"
	"hoostn/internal/domain"
)

func seedConnection(f *fakeStore, unitID int64) domain.Connection {
	now := time.Now().UTC()
	return f.addConnection(domain.Connection{
		UnitID:        unitID,
		Platform:      "airbnb",
		FeedURL:       "https://feeds.example/cal.ics",
		SyncFrequency: 30 * time.Minute,
		Status:        domain.ConnectionActive,
		NextSyncAt:    now.Add(-time.Minute), // already due
		CreatedAt:     now,
	})
}

func confirmedEvent(conn domain.Connection, uid, start, end string) domain.ExternalEvent {
	return domain.ExternalEvent{
		ConnectionID: conn.ID,
		UID:          uid,
		Start:        d(start),
		End:          d(end),
		Status:       domain.EventConfirmed,
		FetchedAt:    time.Now().UTC(),
	}
}

func TestReconcile_ImportsConfirmedEvents(t *testing.T) {
	store := newFakeStore()
	unit := seedUnit(store)
	conn := seedConnection(store, unit.ID)
	rec := app.NewReconciler(store, store, nil)
	ctx := context.Background()

	fresh := []domain.ExternalEvent{
		confirmedEvent(conn, "a@airbnb", "2026-10-01", "2026-10-04"),
		{ConnectionID: conn.ID, UID: "t@airbnb", Start: d("2026-10-06"), End: d("2026-10-08"), Status: domain.EventTentative},
	}
	res, err := rec.Reconcile(ctx, conn, nil, fresh)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 1 || res.Updated != 0 || res.Cancelled != 0 || len(res.Conflicts) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	shadow, err := store.ShadowByUID(ctx, conn.ID, "a@airbnb")
	if err != nil {
		t.Fatalf("ShadowByUID: %v", err)
	}
	if !shadow.IsShadow() || shadow.Status != domain.ReservationConfirmed {
		t.Fatalf("unexpected shadow: %+v", shadow)
	}
	if !shadow.CheckIn.Equal(d("2026-10-01")) || !shadow.CheckOut.Equal(d("2026-10-04")) {
		t.Fatalf("shadow dates wrong: %+v", shadow)
	}
	// Tentative events never hold calendar space.
	if _, err := store.ShadowByUID(ctx, conn.ID, "t@airbnb"); err == nil {
		t.Fatal("tentative event must not create a shadow")
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	store := newFakeStore()
	unit := seedUnit(store)
	conn := seedConnection(store, unit.ID)
	rec := app.NewReconciler(store, store, nil)
	ctx := context.Background()

	fresh := []domain.ExternalEvent{confirmedEvent(conn, "a@airbnb", "2026-10-01", "2026-10-04")}
	if _, err := rec.Reconcile(ctx, conn, nil, fresh); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	res, err := rec.Reconcile(ctx, conn, fresh, fresh)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Created+res.Updated+res.Cancelled+len(res.Conflicts) != 0 {
		t.Fatalf("second pass must be a no-op, got %+v", res)
	}
}

func TestReconcile_DoubleBooking(t *testing.T) {
	store := newFakeStore()
	unit := seedUnit(store)
	conn := seedConnection(store, unit.ID)
	ctx := context.Background()
	local, err := store.CreateReservationChecked(ctx, domain.BookingRequest{
		UnitID: unit.ID, CheckIn: d("2026-10-02"), CheckOut: d("2026-10-05"), Guests: 2,
	})
	if err != nil {
		t.Fatalf("seed local booking: %v", err)
	}
	rec := app.NewReconciler(store, store, nil)

	fresh := []domain.ExternalEvent{confirmedEvent(conn, "a@airbnb", "2026-10-01", "2026-10-04")}
	res, err := rec.Reconcile(ctx, conn, nil, fresh)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 0 {
		t.Fatal("colliding import must not create a shadow")
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("want one conflict, got %+v", res)
	}
	c := res.Conflicts[0]
	if c.Type != domain.ConflictDoubleBooking || c.Severity != domain.SeverityHigh {
		t.Fatalf("want high double_booking against a confirmed direct stay, got %+v", c)
	}
	if c.ReservationID == nil || *c.ReservationID != local.ID {
		t.Fatalf("conflict should reference the local reservation: %+v", c)
	}
	if len(c.LocalJSON) == 0 || len(c.RemoteJSON) == 0 {
		t.Fatal("conflict must carry both snapshots")
	}

	// Re-detection on the next run dedupes against the open conflict.
	res, err = rec.Reconcile(ctx, conn, fresh, fresh)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(res.Conflicts) != 0 {
		t.Fatalf("open conflict must not be duplicated, got %+v", res)
	}
}

func TestReconcile_DoubleBookingSeverity(t *testing.T) {
	store := newFakeStore()
	unit := seedUnit(store)
	conn := seedConnection(store, unit.ID)
	other := seedConnection(store, unit.ID)
	ctx := context.Background()

	// The colliding local side is another channel's shadow, not a paid
	// direct booking: medium.
	otherID := other.ID
	if _, err := store.CreateShadow(ctx, domain.Reservation{
		UnitID: unit.ID, CheckIn: d("2026-10-01"), CheckOut: d("2026-10-04"),
		Guests: 1, Status: domain.ReservationConfirmed, Source: domain.SourceChannel,
		ConnectionID: &otherID, ExternalUID: pstr("z@booking"),
	}); err != nil {
		t.Fatalf("seed shadow: %v", err)
	}
	rec := app.NewReconciler(store, store, nil)

	res, err := rec.Reconcile(ctx, conn, nil, []domain.ExternalEvent{
		confirmedEvent(conn, "a@airbnb", "2026-10-02", "2026-10-05"),
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].Severity != domain.SeverityMedium {
		t.Fatalf("channel-vs-channel collision should be medium, got %+v", res.Conflicts)
	}
}

func TestReconcile_DateChange(t *testing.T) {
	store := newFakeStore()
	unit := seedUnit(store)
	conn := seedConnection(store, unit.ID)
	rec := app.NewReconciler(store, store, nil)
	ctx := context.Background()

	previous := []domain.ExternalEvent{confirmedEvent(conn, "a@airbnb", "2026-10-01", "2026-10-04")}
	if _, err := rec.Reconcile(ctx, conn, nil, previous); err != nil {
		t.Fatalf("seed pass: %v", err)
	}

	// Feed moves the stay by two days.
	fresh := []domain.ExternalEvent{confirmedEvent(conn, "a@airbnb", "2026-10-03", "2026-10-06")}
	res, err := rec.Reconcile(ctx, conn, previous, fresh)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Updated != 1 || len(res.Conflicts) != 0 {
		t.Fatalf("clean move should update in place, got %+v", res)
	}
	shadow, _ := store.ShadowByUID(ctx, conn.ID, "a@airbnb")
	if !shadow.CheckIn.Equal(d("2026-10-03")) || !shadow.CheckOut.Equal(d("2026-10-06")) {
		t.Fatalf("shadow not moved: %+v", shadow)
	}
}

func TestReconcile_DateChangeCollision(t *testing.T) {
	store := newFakeStore()
	unit := seedUnit(store)
	conn := seedConnection(store, unit.ID)
	rec := app.NewReconciler(store, store, nil)
	ctx := context.Background()

	previous := []domain.ExternalEvent{confirmedEvent(conn, "a@airbnb", "2026-10-01", "2026-10-04")}
	if _, err := rec.Reconcile(ctx, conn, nil, previous); err != nil {
		t.Fatalf("seed pass: %v", err)
	}
	if _, err := store.CreateReservationChecked(ctx, domain.BookingRequest{
		UnitID: unit.ID, CheckIn: d("2026-10-06"), CheckOut: d("2026-10-09"), Guests: 2,
	}); err != nil {
		t.Fatalf("seed local booking: %v", err)
	}

	// New dates collide with the local booking; the stale shadow stays put.
	fresh := []domain.ExternalEvent{confirmedEvent(conn, "a@airbnb", "2026-10-05", "2026-10-08")}
	res, err := rec.Reconcile(ctx, conn, previous, fresh)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Updated != 0 || len(res.Conflicts) != 1 {
		t.Fatalf("collision should raise instead of moving, got %+v", res)
	}
	if res.Conflicts[0].Type != domain.ConflictDateOverlap || res.Conflicts[0].Severity != domain.SeverityMedium {
		t.Fatalf("want medium date_overlap, got %+v", res.Conflicts[0])
	}
	shadow, _ := store.ShadowByUID(ctx, conn.ID, "a@airbnb")
	if !shadow.CheckIn.Equal(d("2026-10-01")) || !shadow.CheckOut.Equal(d("2026-10-04")) {
		t.Fatalf("stale shadow must keep its dates pending resolution: %+v", shadow)
	}
}

func TestReconcile_CancellationPaths(t *testing.T) {
	store := newFakeStore()
	unit := seedUnit(store)
	conn := seedConnection(store, unit.ID)
	rec := app.NewReconciler(store, store, nil)
	ctx := context.Background()

	previous := []domain.ExternalEvent{
		confirmedEvent(conn, "cancelled@airbnb", "2026-10-01", "2026-10-04"),
		confirmedEvent(conn, "vanished@airbnb", "2026-10-10", "2026-10-12"),
	}
	if _, err := rec.Reconcile(ctx, conn, nil, previous); err != nil {
		t.Fatalf("seed pass: %v", err)
	}

	// One event flips to cancelled, the other disappears from the feed.
	cancelled := previous[0]
	cancelled.Status = domain.EventCancelled
	res, err := rec.Reconcile(ctx, conn, previous, []domain.ExternalEvent{cancelled})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Cancelled != 2 {
		t.Fatalf("both shadows should be retired, got %+v", res)
	}
	for _, uid := range []string{"cancelled@airbnb", "vanished@airbnb"} {
		shadow, err := store.ShadowByUID(ctx, conn.ID, uid)
		if err != nil {
			t.Fatalf("ShadowByUID(%s): %v", uid, err)
		}
		if shadow.Occupies() {
			t.Fatalf("shadow %s should be cancelled: %+v", uid, shadow)
		}
	}

	// A later run with the same state is a no-op: retired shadows are not
	// resurrected by a lingering confirmed event, nor re-cancelled.
	res, err = rec.Reconcile(ctx, conn, previous, previous)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Created+res.Updated+res.Cancelled != 0 {
		t.Fatalf("replay must not touch retired shadows, got %+v", res)
	}
}

func TestReconcile_CancellationSyncAfterPromotion(t *testing.T) {
	store := newFakeStore()
	unit := seedUnit(store)
	conn := seedConnection(store, unit.ID)
	rec := app.NewReconciler(store, store, nil)
	ctx := context.Background()

	previous := []domain.ExternalEvent{confirmedEvent(conn, "a@airbnb", "2026-10-01", "2026-10-04")}
	if _, err := rec.Reconcile(ctx, conn, nil, previous); err != nil {
		t.Fatalf("seed pass: %v", err)
	}
	// An operator previously resolved a conflict in this event's favor.
	action := domain.ResolveKeepRemote
	now := time.Now().UTC()
	store.CreateConflict(ctx, domain.Conflict{
		UnitID: unit.ID, ConnectionID: conn.ID,
		Type: domain.ConflictDoubleBooking, Severity: domain.SeverityHigh,
		Status: domain.ConflictResolved, Resolution: &action,
		ExternalUID: pstr("a@airbnb"), DetectedAt: now, ResolvedAt: &now,
	})

	// The promoted event now vanishes: flag it for a human instead of a
	// silent cancel.
	res, err := rec.Reconcile(ctx, conn, previous, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Cancelled != 0 || len(res.Conflicts) != 1 {
		t.Fatalf("want cancellation_sync conflict, got %+v", res)
	}
	c := res.Conflicts[0]
	if c.Type != domain.ConflictCancellationSync || c.Severity != domain.SeverityHigh {
		t.Fatalf("unexpected conflict: %+v", c)
	}
	shadow, _ := store.ShadowByUID(ctx, conn.ID, "a@airbnb")
	if !shadow.Occupies() {
		t.Fatal("shadow must stay until the cancellation is acknowledged")
	}
}

func TestReconcile_PriceMismatch(t *testing.T) {
	store := newFakeStore()
	unit := seedUnit(store) // base 12000/night
	conn := seedConnection(store, unit.ID)
	pricing := app.NewPricingService(store, store)
	rec := app.NewReconciler(store, store, pricing)
	ctx := context.Background()

	ev := confirmedEvent(conn, "a@airbnb", "2026-10-01", "2026-10-04")
	ev.PriceCents = pint64(30000) // local expectation is 3 * 12000

	res, err := rec.Reconcile(ctx, conn, nil, []domain.ExternalEvent{ev})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("mismatch is advisory; the import must still land: %+v", res)
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("want one advisory conflict, got %+v", res)
	}
	c := res.Conflicts[0]
	if c.Type != domain.ConflictPriceMismatch || c.Severity != domain.SeverityLow {
		t.Fatalf("want low price_mismatch, got %+v", c)
	}

	// Matching price raises nothing.
	store2 := newFakeStore()
	unit2 := seedUnit(store2)
	conn2 := seedConnection(store2, unit2.ID)
	rec2 := app.NewReconciler(store2, store2, app.NewPricingService(store2, store2))
	ev2 := confirmedEvent(conn2, "b@airbnb", "2026-10-01", "2026-10-04")
	ev2.PriceCents = pint64(36000)
	res, err = rec2.Reconcile(ctx, conn2, nil, []domain.ExternalEvent{ev2})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Conflicts) != 0 {
		t.Fatalf("matching price must not raise, got %+v", res.Conflicts)
	}
}

func TestReconcile_IgnoredPriceAdvisoryStaysDismissed(t *testing.T) {
	store := newFakeStore()
	unit := seedUnit(store) // base 12000/night
	conn := seedConnection(store, unit.ID)
	rec := app.NewReconciler(store, store, app.NewPricingService(store, store))
	conflicts := app.NewConflictService(store, store, nil)
	ctx := context.Background()

	ev := confirmedEvent(conn, "a@airbnb", "2026-10-01", "2026-10-04")
	ev.PriceCents = pint64(30000)
	feed := []domain.ExternalEvent{ev}

	res, err := rec.Reconcile(ctx, conn, nil, feed)
	if err != nil || len(res.Conflicts) != 1 {
		t.Fatalf("seed advisory: res=%+v err=%v", res, err)
	}
	if err := conflicts.Ignore(ctx, res.Conflicts[0].ID); err != nil {
		t.Fatalf("Ignore: %v", err)
	}

	// The feed keeps disagreeing with the same numbers; the dismissed
	// advisory must not come back on every sync.
	for i := 0; i < 3; i++ {
		res, err = rec.Reconcile(ctx, conn, feed, feed)
		if err != nil {
			t.Fatalf("resync %d: %v", i, err)
		}
		if len(res.Conflicts) != 0 {
			t.Fatalf("resync %d resurrected an ignored advisory: %+v", i, res.Conflicts)
		}
	}

	// A different remote price is new information and raises again.
	changed := confirmedEvent(conn, "a@airbnb", "2026-10-01", "2026-10-04")
	changed.PriceCents = pint64(28000)
	res, err = rec.Reconcile(ctx, conn, feed, []domain.ExternalEvent{changed})
	if err != nil {
		t.Fatalf("changed-price sync: %v", err)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].Type != domain.ConflictPriceMismatch {
		t.Fatalf("changed snapshot should raise a fresh advisory, got %+v", res.Conflicts)
	}
}
