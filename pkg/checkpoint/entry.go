package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/Sternrassler/whatsnews-mirror/pkg/store"
)

// Entry is the recorded outcome of one committed item write.
type Entry struct {
	// ItemID is the store id of the item.
	ItemID int64 `json:"item_id"`

	// Fingerprint identifies the committed tag set.
	Fingerprint string `json:"fingerprint"`

	// RunID is the run that committed the write.
	RunID string `json:"run_id"`

	// CommittedAt is when the write was committed.
	CommittedAt time.Time `json:"committed_at"`
}

// NewEntry creates an entry for a write committed now.
func NewEntry(itemID int64, tags []string, runID string) *Entry {
	return &Entry{
		ItemID:      itemID,
		Fingerprint: Fingerprint(tags),
		RunID:       runID,
		CommittedAt: time.Now().UTC(),
	}
}

// Fingerprint hashes a tag set. Order and duplicates do not matter.
func Fingerprint(tags []string) string {
	sum := sha256.Sum256([]byte(strings.Join(store.NormalizeTags(tags), "\x00")))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether the entry was committed with the same tag set.
func (e *Entry) Matches(tags []string) bool {
	return e != nil && e.Fingerprint == Fingerprint(tags)
}
