// Package audit keeps a hash-chained log of domain lifecycle events.
//
// The chain begins with a well-known genesis entry whose Hash equals GenesisHash
// (64 hex zeros). Every subsequent entry records the hash of its predecessor,
// so rewriting or deleting an entry is detectable via Verify.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for tests and the memory settings backend.
//   - PostgresLedger: durable, alongside the Postgres settings store.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the hash of the genesis entry and the trust anchor of the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Actions recorded besides the domain lifecycle event types.
const (
	ActionGenesis = "genesis"
	ActorSystem   = "system"
)

// Entry is a single audit record.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Domain    string    `json:"domain"`
	Action    string    `json:"action"`    // domain.registered, domain.verified, ...
	Actor     string    `json:"actor"`     // api, check_now, background or system
	DataHash  string    `json:"data_hash"` // SHA-256 of the event payload
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// hashEntry computes the entry hash. Timestamps are hashed in UTC at
// microsecond precision, which is what Postgres stores.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		e.Domain, e.Action, e.Actor, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// verifyChain checks entries, which must start at the genesis entry and be
// ordered by index.
func verifyChain(entries []*Entry) error {
	var prev *Entry
	for _, curr := range entries {
		if prev == nil {
			if curr.Index != 0 || curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			prev = curr
			continue
		}
		if curr.Index != prev.Index+1 {
			return fmt.Errorf("entry missing before index %d", curr.Index)
		}
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
		prev = curr
	}
	return nil
}
