// Package audit provides a minimal append-only trail of event mutations.
//
// It exists so an operator can reconstruct who registered, resized, or
// removed which team after the fact; the state snapshot alone only shows the
// end result.
package audit

import (
	"context"
	"errors"
	"strings"

	logx "eventbot/pkg/logx"
)

// Store is the audit API used by the event service.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}

// Open initializes the configured audit store.
// It returns (nil, nil) if auditing is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown audit driver: " + driver)
	}
}
