package audit

import "context"

// Store is the append-only audit log. Append assigns Sequence, PrevHash and
// Hash and returns the sealed entry; nothing is ever updated or deleted.
type Store interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	ListByPair(ctx context.Context, evidenceID, standardID string) ([]Entry, error)
	ListAll(ctx context.Context) ([]Entry, error)
}
