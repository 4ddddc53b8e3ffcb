package audit

import (
	"context"

	"go.uber.org/zap"
)

// Ledger is the append-only audit log.
type Ledger interface {
	// Append adds a new entry chained to the previous one.
	// payload is JSON-marshalled and its SHA-256 is stored as DataHash.
	Append(ctx context.Context, domain, action, actor string, payload any) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// List returns up to limit entries starting at offset, oldest first.
	List(ctx context.Context, offset, limit int) ([]*Entry, error)

	// Len returns the total number of entries (including the genesis entry).
	Len(ctx context.Context) (int, error)

	// Verify walks the entire chain and checks hash consistency.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry (the chain tip).
	Root(ctx context.Context) (string, error)
}

// Recorder returns an event callback that appends every domain lifecycle
// event to l. It matches domains.EventDispatchFunc. Append failures are
// logged; they never fail the operation that emitted the event.
func Recorder(l Ledger, logger *zap.Logger) func(ctx context.Context, eventType string, payload map[string]string) {
	return func(ctx context.Context, eventType string, payload map[string]string) {
		actor := payload["path"]
		if actor == "" {
			actor = "api"
		}
		if eventType == "domain.abandoned" {
			actor = "background"
		}
		// The caller's request may finish first; the audit write must not be cut short.
		ctx = context.WithoutCancel(ctx)
		if _, err := l.Append(ctx, payload["domain"], eventType, actor, payload); err != nil {
			logger.Error("audit: append failed",
				zap.String("domain", payload["domain"]),
				zap.String("action", eventType),
				zap.Error(err),
			)
		}
	}
}
