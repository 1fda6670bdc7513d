package event

import "errors"

var (
	ErrNoEvent         = errors.New("no active event")
	ErrEventExists     = errors.New("an event already exists")
	ErrEventClosed     = errors.New("registration is closed")
	ErrTeamExists      = errors.New("team name already taken")
	ErrTeamNotFound    = errors.New("team not found")
	ErrAlreadyAssigned = errors.New("user already belongs to a team")
	ErrNotAssigned     = errors.New("user has no team")
	ErrBadTeamSize     = errors.New("invalid team size")
	ErrEventFull       = errors.New("not enough free slots")
)
