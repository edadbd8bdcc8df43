package journal

import (
	"context"
	"log/slog"
	"time"

	"subledger/core/events"
	"subledger/observability"
)

const appendTimeout = 5 * time.Second

// Emitter appends every notification it receives to the journal.
type Emitter struct {
	journal *Journal
	logger  *slog.Logger
	// OnAppend, when set, receives each persisted entry.
	OnAppend func(Entry)
}

// NewEmitter wraps the journal as an events.Emitter.
func NewEmitter(j *Journal, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{journal: j, logger: logger}
}

// Emit implements events.Emitter. Append failures are logged and counted
// rather than surfaced since the ledger state is already committed.
func (e *Emitter) Emit(evt events.Event) {
	rendered := events.Render(evt)
	if rendered == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	entry, err := e.journal.Append(ctx, rendered)
	if err != nil {
		observability.Events().RecordDrop("journal")
		e.logger.Error("journal append failed", "type", rendered.Type, "error", err)
		return
	}
	observability.Events().RecordNotification(rendered.Type)
	if e.OnAppend != nil {
		e.OnAppend(*entry)
	}
}
