package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GenesisHash is the PrevHash of the first entry.
var GenesisHash = strings.Repeat("0", 64)

// seal fills in sequence, timestamp precision and hashes for e, chaining it
// after prev (nil for the first entry). Timestamps are truncated to
// microseconds so the hash survives a round trip through PostgreSQL.
func seal(e Entry, prev *Entry) Entry {
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
	if prev == nil {
		e.Sequence = 1
		e.PrevHash = GenesisHash
	} else {
		e.Sequence = prev.Sequence + 1
		e.PrevHash = prev.Hash
	}
	e.Hash = hashEntry(e)
	return e
}

func hashEntry(e Entry) string {
	fields := []string{
		strconv.FormatInt(e.Sequence, 10),
		string(e.ActorStage),
		e.MappingID.String(),
		e.EvidenceID,
		e.StandardID,
		string(e.Decision),
		strconv.FormatFloat(e.ConfidenceAtDecision, 'g', -1, 64),
		strconv.FormatFloat(e.Threshold, 'g', -1, 64),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.PrevHash,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks that entries form an unbroken chain in sequence order
// starting at the genesis entry. It reports the first broken sequence.
func VerifyChain(entries []Entry) error {
	prevHash := GenesisHash
	var prevSeq int64
	for _, e := range entries {
		if e.Sequence != prevSeq+1 {
			return fmt.Errorf("audit chain gap: expected sequence %d, got %d", prevSeq+1, e.Sequence)
		}
		if e.PrevHash != prevHash {
			return fmt.Errorf("audit chain broken at sequence %d: prev hash mismatch", e.Sequence)
		}
		if hashEntry(e) != e.Hash {
			return fmt.Errorf("audit entry %d was modified", e.Sequence)
		}
		prevHash = e.Hash
		prevSeq = e.Sequence
	}
	return nil
}
