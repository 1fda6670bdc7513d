package checkpoint

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"eventbot/internal/event"
	"eventbot/internal/store"
	logx "eventbot/pkg/logx"
)

func newFixture(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "event_data.json")
	st, err := store.Open(path, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	ev, err := event.NewService(st, nil, logx.Nop())
	if err != nil {
		t.Fatalf("event.NewService: %v", err)
	}
	return New(Config{Spec: "@every 1m", ExpiryGrace: time.Hour}, st, ev, logx.Nop()), st
}

func TestRunFlushesDirtyState(t *testing.T) {
	t.Parallel()
	svc, st := newFixture(t)

	st.Set("scratch", json.RawMessage(`1`))
	if !st.Dirty() {
		t.Fatal("expected dirty store")
	}
	svc.Run(context.Background())
	if st.Dirty() {
		t.Fatal("checkpoint did not flush dirty state")
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	t.Parallel()
	svc, _ := newFixture(t)
	svc.cfg.Spec = "not a cron spec"
	if err := svc.Start(); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestApplySwapsSchedule(t *testing.T) {
	t.Parallel()
	svc, _ := newFixture(t)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())

	if err := svc.Apply(Config{Spec: "*/5 * * * *", ExpiryGrace: time.Hour}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// Invalid spec keeps the old schedule and errors.
	if err := svc.Apply(Config{Spec: "nope"}); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestStopWritesFinalCheckpoint(t *testing.T) {
	t.Parallel()
	svc, st := newFixture(t)
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st.Set("scratch", json.RawMessage(`2`))
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st.Dirty() {
		t.Fatal("Stop did not write the final checkpoint")
	}
}
