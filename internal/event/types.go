package event

import "time"

// Store keys for the persisted pieces of bot state.
const (
	keyEvent       = "event"
	keyAssignments = "assignments"
	keyLogChannel  = "log_channel"
)

// Event is the single registration event the bot manages at a time.
//
// Team names are case-insensitive; Teams is keyed by the lower-cased name
// while Team.Name preserves the display spelling.
type Event struct {
	Name        string `json:"name"`
	Date        string `json:"date"` // DD.MM.YYYY
	Time        string `json:"time"` // HH:MM, informational
	Description string `json:"description,omitempty"`

	MaxSlots    int  `json:"max_slots"`
	SlotsUsed   int  `json:"slots_used"`
	MaxTeamSize int  `json:"max_team_size"`
	Open        bool `json:"open"`

	Teams    map[string]Team `json:"teams"`
	Waitlist []WaitlistEntry `json:"waitlist"`

	CreatedAt time.Time `json:"created_at"`
}

// Team is a registered group occupying Size player slots.
type Team struct {
	Name         string    `json:"name"`
	Size         int       `json:"size"`
	RegisteredBy int64     `json:"registered_by"`
	RegisteredAt time.Time `json:"registered_at"`
}

// WaitlistEntry is a team waiting for enough free slots. Entries are kept in
// request order and promoted FIFO.
type WaitlistEntry struct {
	Name        string    `json:"name"`
	Size        int       `json:"size"`
	RequestedBy int64     `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// Placement tells a caller where Register put the team.
type Placement int

const (
	PlacedEvent Placement = iota
	PlacedWaitlist
)

func (p Placement) String() string {
	if p == PlacedWaitlist {
		return "waitlist"
	}
	return "event"
}

// FreeSlots returns the number of unoccupied player slots.
func (e *Event) FreeSlots() int {
	n := e.MaxSlots - e.SlotsUsed
	if n < 0 {
		return 0
	}
	return n
}
