package audit

import (
	"context"
	"log/slog"
)

// Sink receives stored audit entries for downstream consumers.
type Sink interface {
	Forward(ctx context.Context, e Entry) error
}

// Worker drains the forwarding queue into a sink. Sink failures are logged
// and do not stop the worker; the log in the store remains authoritative.
type Worker struct {
	sink   Sink
	inbox  <-chan Entry
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan Entry, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

// Run forwards entries until ctx is cancelled or the inbox is closed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.sink.Forward(ctx, e); err != nil {
				w.logger.Error("failed to forward audit entry",
					"sequence", e.Sequence,
					"mapping_id", e.MappingID,
					"error", err,
				)
			}
		}
	}
}
