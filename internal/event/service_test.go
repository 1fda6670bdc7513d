package event

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"eventbot/internal/store"
	logx "eventbot/pkg/logx"
)

var (
	organizer = Actor{ID: 1, Name: "organizer", Admin: true}
	alice     = Actor{ID: 100, Name: "alice"}
	bob       = Actor{ID: 200, Name: "bob"}
	carol     = Actor{ID: 300, Name: "carol"}
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "event_data.json")
	return reopenService(t, path), path
}

func reopenService(t *testing.T, path string) *Service {
	t.Helper()
	st, err := store.Open(path, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	svc, err := NewService(st, nil, logx.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func mustCreate(t *testing.T, svc *Service, maxSlots, maxTeamSize int) {
	t.Helper()
	err := svc.Create(context.Background(), organizer, "clan war", "31.12.2030", "20:00", "", maxSlots, maxTeamSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Create(ctx, organizer, "x", "not-a-date", "", "", 10, 5); err == nil {
		t.Fatal("expected error for bad date")
	}
	mustCreate(t, svc, 10, 5)
	if err := svc.Create(ctx, organizer, "second", "31.12.2030", "", "", 10, 5); !errors.Is(err, ErrEventExists) {
		t.Fatalf("second create = %v, want ErrEventExists", err)
	}
}

func TestRegisterPlacesAndPersists(t *testing.T) {
	t.Parallel()
	svc, path := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, 10, 5)

	p, err := svc.Register(ctx, alice, "Alpha", 4)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p != PlacedEvent {
		t.Fatalf("placement = %v, want event", p)
	}

	// Survives a restart.
	svc2 := reopenService(t, path)
	ev, ok := svc2.Current()
	if !ok {
		t.Fatal("event lost after reopen")
	}
	team, ok := ev.Teams["alpha"]
	if !ok || team.Name != "Alpha" || team.Size != 4 {
		t.Fatalf("team after reopen: %+v ok=%v", team, ok)
	}
	if ev.SlotsUsed != 4 {
		t.Fatalf("SlotsUsed = %d, want 4", ev.SlotsUsed)
	}
	if got, ok := svc2.AssignedTeam(alice.ID); !ok || got != "Alpha" {
		t.Fatalf("AssignedTeam = (%q, %v)", got, ok)
	}
}

func TestRegisterRules(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, 10, 5)

	if _, err := svc.Register(ctx, alice, "Alpha", 6); !errors.Is(err, ErrBadTeamSize) {
		t.Fatalf("oversize team = %v, want ErrBadTeamSize", err)
	}
	if _, err := svc.Register(ctx, alice, "Alpha", 0); !errors.Is(err, ErrBadTeamSize) {
		t.Fatalf("zero size = %v, want ErrBadTeamSize", err)
	}

	if _, err := svc.Register(ctx, alice, "Alpha", 4); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, alice, "Beta", 2); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("double register = %v, want ErrAlreadyAssigned", err)
	}
	// Team names are case-insensitive.
	if _, err := svc.Register(ctx, bob, "ALPHA", 2); !errors.Is(err, ErrTeamExists) {
		t.Fatalf("duplicate team = %v, want ErrTeamExists", err)
	}

	if err := svc.SetOpen(ctx, organizer, false); err != nil {
		t.Fatalf("SetOpen: %v", err)
	}
	if _, err := svc.Register(ctx, bob, "Beta", 2); !errors.Is(err, ErrEventClosed) {
		t.Fatalf("register while closed = %v, want ErrEventClosed", err)
	}
}

func TestWaitlistOverflowAndPromotion(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, 10, 5)

	if _, err := svc.Register(ctx, alice, "Alpha", 5); err != nil {
		t.Fatalf("Register alpha: %v", err)
	}
	if _, err := svc.Register(ctx, bob, "Bravo", 4); err != nil {
		t.Fatalf("Register bravo: %v", err)
	}
	// Only 1 slot free: charlie's 3 go to the waitlist.
	p, err := svc.Register(ctx, carol, "Charlie", 3)
	if err != nil {
		t.Fatalf("Register charlie: %v", err)
	}
	if p != PlacedWaitlist {
		t.Fatalf("placement = %v, want waitlist", p)
	}

	// Freeing alpha's 5 slots promotes charlie.
	if err := svc.Unregister(ctx, alice, ""); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	ev, _ := svc.Current()
	if _, ok := ev.Teams["charlie"]; !ok {
		t.Fatal("charlie not promoted from waitlist")
	}
	if len(ev.Waitlist) != 0 {
		t.Fatalf("waitlist not drained: %+v", ev.Waitlist)
	}
	if ev.SlotsUsed != 7 {
		t.Fatalf("SlotsUsed = %d, want 7", ev.SlotsUsed)
	}
}

func TestWaitlistKeepsFIFOOrder(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, 6, 5)

	if _, err := svc.Register(ctx, alice, "Alpha", 5); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Both go to the waitlist; bravo (4) first, charlie (1) second.
	if p, _ := svc.Register(ctx, bob, "Bravo", 4); p != PlacedWaitlist {
		t.Fatal("bravo should be waitlisted")
	}
	if p, _ := svc.Register(ctx, carol, "Charlie", 1); p != PlacedWaitlist {
		t.Fatal("charlie should be waitlisted")
	}

	// 1 slot frees up. Charlie would fit, but bravo is ahead: nobody moves.
	if err := svc.Resize(ctx, alice, "Alpha", 4); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	ev, _ := svc.Current()
	if len(ev.Waitlist) != 2 {
		t.Fatalf("waitlist = %+v, want both teams still queued", ev.Waitlist)
	}
	if _, ok := ev.Teams["charlie"]; ok {
		t.Fatal("charlie bypassed bravo in the queue")
	}

	// Enough room for bravo: both promote in order.
	if err := svc.Unregister(ctx, alice, ""); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	ev, _ = svc.Current()
	if _, ok := ev.Teams["bravo"]; !ok {
		t.Fatal("bravo not promoted")
	}
	if _, ok := ev.Teams["charlie"]; !ok {
		t.Fatal("charlie not promoted")
	}
}

func TestResize(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, 10, 5)

	if _, err := svc.Register(ctx, alice, "Alpha", 3); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, bob, "Bravo", 5); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// 2 free; growing alpha to 5 fits exactly.
	if err := svc.Resize(ctx, alice, "", 5); err != nil {
		t.Fatalf("Resize grow: %v", err)
	}
	ev, _ := svc.Current()
	if ev.SlotsUsed != 10 {
		t.Fatalf("SlotsUsed = %d, want 10", ev.SlotsUsed)
	}

	// No room to grow bravo further... but 5 is already the cap anyway.
	if err := svc.Resize(ctx, alice, "", 6); !errors.Is(err, ErrBadTeamSize) {
		t.Fatalf("Resize past cap = %v, want ErrBadTeamSize", err)
	}

	// Shrink frees slots.
	if err := svc.Resize(ctx, bob, "", 2); err != nil {
		t.Fatalf("Resize shrink: %v", err)
	}
	ev, _ = svc.Current()
	if ev.FreeSlots() != 3 {
		t.Fatalf("FreeSlots = %d, want 3", ev.FreeSlots())
	}
}

func TestNonAdminCannotTouchOtherTeams(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, 10, 5)

	if _, err := svc.Register(ctx, alice, "Alpha", 3); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.Unregister(ctx, bob, "Alpha"); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("Unregister other's team = %v, want ErrNotAssigned", err)
	}
	if err := svc.Unregister(ctx, organizer, "Alpha"); err != nil {
		t.Fatalf("admin Unregister: %v", err)
	}
	if _, ok := svc.AssignedTeam(alice.ID); ok {
		t.Fatal("assignment survived team removal")
	}
}

func TestDeleteClearsEverything(t *testing.T) {
	t.Parallel()
	svc, path := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, 10, 5)
	if _, err := svc.Register(ctx, alice, "Alpha", 3); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := svc.Delete(ctx, organizer); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := svc.Current(); ok {
		t.Fatal("event still present after delete")
	}

	svc2 := reopenService(t, path)
	if _, ok := svc2.Current(); ok {
		t.Fatal("deleted event came back after reopen")
	}
	if _, ok := svc2.AssignedTeam(alice.ID); ok {
		t.Fatal("assignments came back after reopen")
	}
}

func TestExpireIfDue(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Create(ctx, organizer, "old war", "01.01.2020", "", "", 10, 5); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Not yet due with a clock before the event day.
	svc.now = func() time.Time { return time.Date(2019, 12, 31, 12, 0, 0, 0, time.UTC) }
	cleared, err := svc.ExpireIfDue(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("ExpireIfDue: %v", err)
	}
	if cleared {
		t.Fatal("event expired before its date")
	}

	// Well past date + grace.
	svc.now = func() time.Time { return time.Date(2020, 1, 5, 0, 0, 0, 0, time.UTC) }
	cleared, err = svc.ExpireIfDue(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("ExpireIfDue: %v", err)
	}
	if !cleared {
		t.Fatal("event should have expired")
	}
	if _, ok := svc.Current(); ok {
		t.Fatal("event still present after expiry")
	}

	// Idempotent once cleared.
	cleared, err = svc.ExpireIfDue(ctx, 0)
	if err != nil || cleared {
		t.Fatalf("second ExpireIfDue = (%v, %v)", cleared, err)
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	promoted []Team
	expired  []string
}

func (n *recordingNotifier) TeamPromoted(t Team) {
	n.mu.Lock()
	n.promoted = append(n.promoted, t)
	n.mu.Unlock()
}

func (n *recordingNotifier) EventExpired(name string) {
	n.mu.Lock()
	n.expired = append(n.expired, name)
	n.mu.Unlock()
}

func TestNotifierObservesPromotionAndExpiry(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()
	rec := &recordingNotifier{}
	svc.SetNotifier(rec)

	mustCreate(t, svc, 6, 5)
	if _, err := svc.Register(ctx, alice, "Alpha", 5); err != nil {
		t.Fatalf("Register Alpha: %v", err)
	}
	p, err := svc.Register(ctx, bob, "Bravo", 3)
	if err != nil || p != PlacedWaitlist {
		t.Fatalf("Register Bravo = (%v, %v), want waitlist", p, err)
	}
	if len(rec.promoted) != 0 {
		t.Fatalf("promotions before any slot freed: %+v", rec.promoted)
	}

	// Alpha leaving frees 5 slots; Bravo moves up and is announced.
	if err := svc.Unregister(ctx, alice, ""); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if len(rec.promoted) != 1 || rec.promoted[0].Name != "Bravo" || rec.promoted[0].Size != 3 {
		t.Fatalf("promoted = %+v, want Bravo(3)", rec.promoted)
	}

	if err := svc.Delete(ctx, organizer); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Create(ctx, organizer, "old raid", "01.01.2020", "", "", 4, 4); err != nil {
		t.Fatalf("Create: %v", err)
	}
	svc.now = func() time.Time { return time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC) }
	cleared, err := svc.ExpireIfDue(ctx, 0)
	if err != nil || !cleared {
		t.Fatalf("ExpireIfDue = (%v, %v)", cleared, err)
	}
	if len(rec.expired) != 1 || rec.expired[0] != "old raid" {
		t.Fatalf("expired = %+v, want [old raid]", rec.expired)
	}
}
