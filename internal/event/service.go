package event

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"eventbot/internal/audit"
	"eventbot/internal/store"
	logx "eventbot/pkg/logx"
)

const dateLayout = "02.01.2006"

// Service owns the in-memory event state and writes every mutation through
// the snapshot store. It is constructor-injected everywhere so tests can run
// isolated instances.
type Service struct {
	st  *store.Store
	au  audit.Store // nil when auditing is disabled
	log logx.Logger
	now func() time.Time

	mu          sync.Mutex
	ev          *Event
	assignments map[string]string // user id (decimal) -> lower-cased team name
	logChannel  int64
	notifier    Notifier
	promoted    []Team // promotions pending notification, drained by mutate
}

// Notifier receives announcements for changes that happen as a side effect
// of another action: waitlist promotions and event expiry. Callbacks run
// outside the service lock and must not call back into the Service.
type Notifier interface {
	TeamPromoted(t Team)
	EventExpired(name string)
}

// SetNotifier installs the announcement sink. Pass nil to silence it.
func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// NewService loads existing state from the store. Undecodable values under
// the known keys are treated the same as a corrupt snapshot: surfaced, never
// silently reset.
func NewService(st *store.Store, au audit.Store, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		st:          st,
		au:          au,
		log:         log,
		now:         time.Now,
		assignments: map[string]string{},
	}

	var ev Event
	found, err := st.GetJSON(keyEvent, &ev)
	if err != nil {
		return nil, fmt.Errorf("event: %w", err)
	}
	if found {
		if ev.Teams == nil {
			ev.Teams = map[string]Team{}
		}
		s.ev = &ev
	}
	if _, err := st.GetJSON(keyAssignments, &s.assignments); err != nil {
		return nil, fmt.Errorf("event: %w", err)
	}
	if s.assignments == nil {
		s.assignments = map[string]string{}
	}
	if _, err := st.GetJSON(keyLogChannel, &s.logChannel); err != nil {
		return nil, fmt.Errorf("event: %w", err)
	}

	if s.ev != nil {
		log.Info("restored event state",
			logx.String("event", s.ev.Name),
			logx.Int("teams", len(s.ev.Teams)),
			logx.Int("waitlist", len(s.ev.Waitlist)),
			logx.Int("assignments", len(s.assignments)))
	}
	return s, nil
}

// Current returns a copy of the active event, or ok=false when there is none.
func (s *Service) Current() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ev == nil {
		return Event{}, false
	}
	return s.ev.clone(), true
}

// AssignedTeam returns the display name of the team userID belongs to.
func (s *Service) AssignedTeam(userID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.assignments[userKey(userID)]
	if !ok || s.ev == nil {
		return "", false
	}
	if t, ok := s.ev.Teams[key]; ok {
		return t.Name, true
	}
	for _, w := range s.ev.Waitlist {
		if strings.ToLower(w.Name) == key {
			return w.Name, true
		}
	}
	return "", false
}

// LogChannel returns the configured announcement chat (0 if unset).
func (s *Service) LogChannel() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logChannel
}

// SetLogChannel persists the announcement chat id.
func (s *Service) SetLogChannel(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logChannel = id
	return s.persistLocked()
}

// Create starts a new event. Only one event exists at a time; the previous
// one must be deleted first.
func (s *Service) Create(ctx context.Context, actor Actor, name, date, timeOfDay, desc string, maxSlots, maxTeamSize int) error {
	return s.mutate(ctx, actor, "create", name, maxSlots, func() error {
		if s.ev != nil {
			return ErrEventExists
		}
		if _, err := time.Parse(dateLayout, date); err != nil {
			return fmt.Errorf("invalid date %q (want DD.MM.YYYY): %w", date, err)
		}
		if maxSlots <= 0 || maxTeamSize <= 0 {
			return ErrBadTeamSize
		}
		s.ev = &Event{
			Name:        name,
			Date:        date,
			Time:        timeOfDay,
			Description: desc,
			MaxSlots:    maxSlots,
			MaxTeamSize: maxTeamSize,
			Open:        true,
			Teams:       map[string]Team{},
			CreatedAt:   s.now(),
		}
		return nil
	})
}

// Delete removes the event and every registration tied to it.
func (s *Service) Delete(ctx context.Context, actor Actor) error {
	return s.mutate(ctx, actor, "delete", "", 0, func() error {
		if s.ev == nil {
			return ErrNoEvent
		}
		s.ev = nil
		s.assignments = map[string]string{}
		return nil
	})
}

// SetOpen opens or closes registration without touching existing teams.
func (s *Service) SetOpen(ctx context.Context, actor Actor, open bool) error {
	action := "close"
	if open {
		action = "open"
	}
	return s.mutate(ctx, actor, action, "", 0, func() error {
		if s.ev == nil {
			return ErrNoEvent
		}
		s.ev.Open = open
		return nil
	})
}

// Register signs the actor's team up. Teams that do not fit into the free
// slots land on the waitlist instead; the returned Placement says which.
func (s *Service) Register(ctx context.Context, actor Actor, team string, size int) (Placement, error) {
	placement := PlacedEvent
	err := s.mutate(ctx, actor, "register", team, size, func() error {
		if s.ev == nil {
			return ErrNoEvent
		}
		if !s.ev.Open {
			return ErrEventClosed
		}
		if size < 1 || size > s.ev.MaxTeamSize {
			return fmt.Errorf("%w: %d (allowed 1..%d)", ErrBadTeamSize, size, s.ev.MaxTeamSize)
		}
		team = strings.TrimSpace(team)
		if team == "" {
			return ErrTeamNotFound
		}
		if _, ok := s.assignments[userKey(actor.ID)]; ok {
			return ErrAlreadyAssigned
		}
		key := strings.ToLower(team)
		if s.teamTakenLocked(key) {
			return ErrTeamExists
		}

		// Teams behind a non-empty waitlist queue up even if they would
		// fit; free slots belong to whoever has been waiting.
		if len(s.ev.Waitlist) == 0 && size <= s.ev.FreeSlots() {
			s.ev.Teams[key] = Team{Name: team, Size: size, RegisteredBy: actor.ID, RegisteredAt: s.now()}
			s.ev.SlotsUsed += size
		} else {
			s.ev.Waitlist = append(s.ev.Waitlist, WaitlistEntry{Name: team, Size: size, RequestedBy: actor.ID, RequestedAt: s.now()})
			placement = PlacedWaitlist
		}
		s.assignments[userKey(actor.ID)] = key
		return nil
	})
	return placement, err
}

// Unregister removes a team. Non-admin actors may only remove their own
// team (team may be empty, meaning "mine"); admins can name any team.
// Freed slots are immediately offered to the waitlist.
func (s *Service) Unregister(ctx context.Context, actor Actor, team string) error {
	return s.mutate(ctx, actor, "unregister", team, 0, func() error {
		if s.ev == nil {
			return ErrNoEvent
		}
		key, err := s.resolveTeamLocked(actor, team)
		if err != nil {
			return err
		}
		if !s.removeTeamLocked(key) {
			return ErrTeamNotFound
		}
		s.dropAssignmentsLocked(key)
		s.promoteLocked()
		return nil
	})
}

// Resize changes a team's size. Growing an event team requires enough free
// slots; shrinking frees slots and triggers waitlist promotion. Waitlist
// teams resize freely within the per-team limit.
func (s *Service) Resize(ctx context.Context, actor Actor, team string, newSize int) error {
	return s.mutate(ctx, actor, "resize", team, newSize, func() error {
		if s.ev == nil {
			return ErrNoEvent
		}
		if newSize < 1 || newSize > s.ev.MaxTeamSize {
			return fmt.Errorf("%w: %d (allowed 1..%d)", ErrBadTeamSize, newSize, s.ev.MaxTeamSize)
		}
		key, err := s.resolveTeamLocked(actor, team)
		if err != nil {
			return err
		}

		if t, ok := s.ev.Teams[key]; ok {
			delta := newSize - t.Size
			if delta > s.ev.FreeSlots() {
				return fmt.Errorf("%w: need %d more, %d free", ErrEventFull, delta, s.ev.FreeSlots())
			}
			t.Size = newSize
			s.ev.Teams[key] = t
			s.ev.SlotsUsed += delta
			if delta < 0 {
				s.promoteLocked()
			}
			return nil
		}
		for i := range s.ev.Waitlist {
			if strings.ToLower(s.ev.Waitlist[i].Name) == key {
				s.ev.Waitlist[i].Size = newSize
				s.promoteLocked()
				return nil
			}
		}
		return ErrTeamNotFound
	})
}

// ExpireIfDue clears an event whose date plus grace has passed. It reports
// whether anything was cleared. The checkpoint loop calls this periodically.
func (s *Service) ExpireIfDue(ctx context.Context, grace time.Duration) (bool, error) {
	s.mu.Lock()
	if s.ev == nil {
		s.mu.Unlock()
		return false, nil
	}
	day, err := time.Parse(dateLayout, s.ev.Date)
	if err != nil {
		// Unparseable dates never expire; creation validates, so this only
		// happens for state written by an older build.
		s.mu.Unlock()
		return false, nil
	}
	// The event occupies its whole day.
	deadline := day.Add(24*time.Hour + grace)
	if s.now().Before(deadline) {
		s.mu.Unlock()
		return false, nil
	}

	name := s.ev.Name
	s.ev = nil
	s.assignments = map[string]string{}
	perr := s.persistLocked()
	n := s.notifier
	s.mu.Unlock()

	if perr != nil {
		return false, perr
	}
	s.appendAudit(ctx, audit.Entry{At: s.now(), Action: "expire", Team: name, OK: true})
	s.log.Info("event expired and cleared", logx.String("event", name))
	if n != nil {
		n.EventExpired(name)
	}
	return true, nil
}

// Actor identifies who performed an operation.
type Actor struct {
	ID    int64
	Name  string
	Admin bool
}

// ---- internals ----

// mutate runs fn under the lock, persists on success, and appends an audit
// entry either way.
func (s *Service) mutate(ctx context.Context, actor Actor, action, team string, size int, fn func() error) error {
	start := s.now()

	s.mu.Lock()
	err := fn()
	if err == nil {
		err = s.persistLocked()
	}
	promoted := s.promoted
	s.promoted = nil
	n := s.notifier
	s.mu.Unlock()

	if err == nil && n != nil {
		for _, t := range promoted {
			n.TeamPromoted(t)
		}
	}

	e := audit.Entry{
		At:        start,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Action:    action,
		Team:      team,
		Size:      size,
		OK:        err == nil,
		TookMS:    s.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	s.appendAudit(ctx, e)

	if err != nil {
		s.log.Debug("event mutation rejected",
			logx.String("action", action), logx.Int64("actor", actor.ID), logx.Err(err))
	}
	return err
}

func (s *Service) appendAudit(ctx context.Context, e audit.Entry) {
	if s.au == nil {
		return
	}
	if err := s.au.Append(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.Err(err))
	}
}

// persistLocked writes the full state through the store. Each mutation is
// durable before the handler replies, matching the store's atomic-replace
// guarantee: a crash leaves either the old or the new state.
func (s *Service) persistLocked() error {
	if s.ev == nil {
		s.st.Delete(keyEvent)
	} else if err := s.st.SetJSON(keyEvent, s.ev); err != nil {
		return err
	}
	if err := s.st.SetJSON(keyAssignments, s.assignments); err != nil {
		return err
	}
	if s.logChannel != 0 {
		if err := s.st.SetJSON(keyLogChannel, s.logChannel); err != nil {
			return err
		}
	}
	return s.st.Save()
}

func (s *Service) teamTakenLocked(key string) bool {
	if _, ok := s.ev.Teams[key]; ok {
		return true
	}
	for _, w := range s.ev.Waitlist {
		if strings.ToLower(w.Name) == key {
			return true
		}
	}
	return false
}

// resolveTeamLocked maps (actor, team) to a team key: admins may name any
// team, everyone else operates on their own assignment.
func (s *Service) resolveTeamLocked(actor Actor, team string) (string, error) {
	team = strings.TrimSpace(team)
	if team != "" {
		key := strings.ToLower(team)
		if actor.Admin {
			return key, nil
		}
		if own, ok := s.assignments[userKey(actor.ID)]; ok && own == key {
			return key, nil
		}
		return "", ErrNotAssigned
	}
	key, ok := s.assignments[userKey(actor.ID)]
	if !ok {
		return "", ErrNotAssigned
	}
	return key, nil
}

func (s *Service) removeTeamLocked(key string) bool {
	if t, ok := s.ev.Teams[key]; ok {
		s.ev.SlotsUsed -= t.Size
		if s.ev.SlotsUsed < 0 {
			s.ev.SlotsUsed = 0
		}
		delete(s.ev.Teams, key)
		return true
	}
	for i, w := range s.ev.Waitlist {
		if strings.ToLower(w.Name) == key {
			s.ev.Waitlist = append(s.ev.Waitlist[:i], s.ev.Waitlist[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) dropAssignmentsLocked(key string) {
	for uid, t := range s.assignments {
		if t == key {
			delete(s.assignments, uid)
		}
	}
}

// promoteLocked moves waitlist entries into the event in FIFO order while
// they fit. An entry that does not fit blocks the ones behind it, so the
// queue order is never bypassed.
func (s *Service) promoteLocked() {
	for len(s.ev.Waitlist) > 0 {
		head := s.ev.Waitlist[0]
		if head.Size > s.ev.FreeSlots() {
			return
		}
		key := strings.ToLower(head.Name)
		t := Team{
			Name:         head.Name,
			Size:         head.Size,
			RegisteredBy: head.RequestedBy,
			RegisteredAt: s.now(),
		}
		s.ev.Teams[key] = t
		s.ev.SlotsUsed += head.Size
		s.ev.Waitlist = s.ev.Waitlist[1:]
		s.promoted = append(s.promoted, t)
		s.log.Info("promoted team from waitlist",
			logx.String("team", head.Name), logx.Int("size", head.Size))
	}
}

func (e *Event) clone() Event {
	cp := *e
	cp.Teams = make(map[string]Team, len(e.Teams))
	for k, v := range e.Teams {
		cp.Teams[k] = v
	}
	cp.Waitlist = append([]WaitlistEntry(nil), e.Waitlist...)
	return cp
}

func userKey(id int64) string { return strconv.FormatInt(id, 10) }
