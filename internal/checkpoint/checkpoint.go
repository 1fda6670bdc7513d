// Package checkpoint runs the periodic state maintenance loop: flush the
// snapshot when dirty and clear events whose date has passed.
//
// Mutations already save inline; the checkpoint is the backstop for state
// dirtied outside a handler and the only place expiry runs.
package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"eventbot/internal/event"
	"eventbot/internal/store"
	logx "eventbot/pkg/logx"
)

type Config struct {
	// Spec is a cron expression or "@every <duration>".
	Spec string
	// ExpiryGrace keeps a finished event around this long past its day.
	ExpiryGrace time.Duration
}

type Service struct {
	log logx.Logger
	st  *store.Store
	ev  *event.Service

	parser cron.Parser

	mu    sync.Mutex
	cfg   Config
	c     *cron.Cron
	runMu sync.Mutex // serializes job runs across Apply restarts
}

func New(cfg Config, st *store.Store, ev *event.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		st:     st,
		ev:     ev,
		cfg:    cfg,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start validates the spec and begins the loop.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(s.cfg)
}

func (s *Service) startLocked(cfg Config) error {
	spec := strings.TrimSpace(cfg.Spec)
	if spec == "" {
		return fmt.Errorf("checkpoint: empty spec")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("checkpoint: invalid spec %q: %w", spec, err)
	}

	c := cron.New(cron.WithParser(s.parser))
	if _, err := c.AddFunc(spec, s.runJob); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	c.Start()

	s.c = c
	s.cfg = cfg
	s.log.Debug("checkpoint loop started", logx.String("spec", spec))
	return nil
}

// Apply swaps the schedule at runtime (config hot reload). An invalid new
// spec keeps the old schedule running.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg && s.c != nil {
		return nil
	}
	if _, err := s.parser.Parse(strings.TrimSpace(cfg.Spec)); err != nil {
		return fmt.Errorf("checkpoint: invalid spec %q: %w", cfg.Spec, err)
	}
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	return s.startLocked(cfg)
}

// Stop halts the loop and writes a final checkpoint.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		done := c.Stop().Done()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	wrote, err := s.st.SaveIfDirty()
	if err != nil {
		return fmt.Errorf("checkpoint: final save: %w", err)
	}
	if wrote {
		s.log.Info("final state checkpoint written", logx.String("path", s.st.Path()))
	}
	return nil
}

// Run executes one maintenance pass. The cron loop calls this; tests and
// Stop call it directly.
func (s *Service) Run(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	grace := s.cfg.ExpiryGrace
	s.mu.Unlock()

	cleared, err := s.ev.ExpireIfDue(ctx, grace)
	if err != nil {
		s.log.Error("expiry sweep failed", logx.Err(err))
	} else if cleared {
		s.log.Info("expired event cleared by checkpoint")
	}

	wrote, err := s.st.SaveIfDirty()
	if err != nil {
		s.log.Error("state checkpoint failed", logx.Err(err), logx.String("path", s.st.Path()))
		return
	}
	if wrote {
		s.log.Debug("state checkpoint written", logx.String("path", s.st.Path()))
	}
}

func (s *Service) runJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Run(ctx)
}
