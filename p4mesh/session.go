package p4mesh

import (
	"context"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
)

// Dialer opens control sessions to switches.
type Dialer interface {
	// Open establishes the control connection to the given switch. The session is owned by the
	// caller and must be closed by it.
	Open(ctx context.Context, sw Switch) (Session, error)
}

// Session is a single control connection to a single switch. Sessions are never shared between
// workers.
type Session interface {
	// Arbitrate asserts mastership with the given election id, returning an error if the switch
	// did not grant it.
	Arbitrate(ctx context.Context, electionID uint64) error
	// PushPipeline sets (verifies and commits) the forwarding pipeline config.
	PushPipeline(ctx context.Context, pipeline *Pipeline) error
	// InstallRule inserts a single table entry.
	InstallRule(ctx context.Context, entry *p4v1.TableEntry) error
	// Done is closed when the session is lost; a nil channel means the session cannot report
	// losing its connection.
	Done() <-chan struct{}
	// Err returns the reason Done was closed.
	Err() error
	// Close tears the session down, it is safe to call more than once.
	Close() error
}
