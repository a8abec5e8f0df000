package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/whatsnews-mirror/pkg/checkpoint"
	"github.com/Sternrassler/whatsnews-mirror/pkg/retry"
	"github.com/Sternrassler/whatsnews-mirror/pkg/store"
	"github.com/rs/zerolog"
)

var (
	errContention = errors.New("deadlock detected")
	errFatalWrite = errors.New("check constraint violated")
)

func classifyTest(err error) retry.ErrorClass {
	if errors.Is(err, errContention) {
		return retry.ClassTransientContention
	}
	return retry.ClassFatal
}

func testRetryConfig() retry.Config {
	return retry.Config{MaxRetries: 4, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestExecutor(w Writer) *Executor {
	return NewExecutor(w, testRetryConfig(), classifyTest, zerolog.Nop())
}

// memStore is an in-memory Writer, Verifier and Index with the same insert-or-lookup
// semantics as the Postgres store. beforeCommit runs outside the lock and
// can fail the attempt; afterCommit runs once the write is visible.
type memStore struct {
	mu       sync.Mutex
	nextItem int64
	nextTag  int64
	items    map[string]store.NewsItem
	tags     map[string]int64
	assocs   map[[2]int64]bool

	beforeCommit func(ctx context.Context, item store.NewsItem) error
	afterCommit  func(item store.NewsItem)

	calls       int
	inFlight    int
	maxInFlight int
}

func newMemStore() *memStore {
	return &memStore{
		items:  make(map[string]store.NewsItem),
		tags:   make(map[string]int64),
		assocs: make(map[[2]int64]bool),
	}
}

func (m *memStore) UpsertItem(ctx context.Context, item store.NewsItem, tags []string) (int64, error) {
	m.mu.Lock()
	m.calls++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	before, after := m.beforeCommit, m.afterCommit
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if before != nil {
		if err := before(ctx, item); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	stored, ok := m.items[item.SourceID]
	if !ok {
		m.nextItem++
		item.ID = m.nextItem
		m.items[item.SourceID] = item
		stored = item
	}
	for _, name := range store.NormalizeTags(tags) {
		tagID, ok := m.tags[name]
		if !ok {
			m.nextTag++
			tagID = m.nextTag
			m.tags[name] = tagID
		}
		m.assocs[[2]int64{stored.ID, tagID}] = true
	}
	m.mu.Unlock()

	if after != nil {
		after(stored)
	}
	return stored.ID, nil
}

func (m *memStore) ExistingSourceIDs(ctx context.Context, sourceIDs []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := make(map[string]bool)
	for _, id := range sourceIDs {
		if _, ok := m.items[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

func (m *memStore) Stored(ctx context.Context, sourceID string, tags []string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[sourceID]
	if !ok {
		return 0, false, nil
	}
	for _, name := range store.NormalizeTags(tags) {
		tagID, ok := m.tags[name]
		if !ok || !m.assocs[[2]int64{item.ID, tagID}] {
			return item.ID, false, nil
		}
	}
	return item.ID, true, nil
}

func (m *memStore) counts() store.Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return store.Counts{
		Items:        int64(len(m.items)),
		Tags:         int64(len(m.tags)),
		Associations: int64(len(m.assocs)),
	}
}

func (m *memStore) item(sourceID string) (store.NewsItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[sourceID]
	return item, ok
}

func (m *memStore) tagNames(itemID int64) map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make(map[string]bool)
	for name, tagID := range m.tags {
		if m.assocs[[2]int64{itemID, tagID}] {
			names[name] = true
		}
	}
	return names
}

func (m *memStore) stats() (calls, maxInFlight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls, m.maxInFlight
}

// memCheckpoints is an in-memory Checkpointer.
type memCheckpoints struct {
	mu      sync.Mutex
	entries map[string]*checkpoint.Entry
	failGet bool
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{entries: make(map[string]*checkpoint.Entry)}
}

func (c *memCheckpoints) Lookup(ctx context.Context, sourceID string, tags []string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return 0, false, errors.New("redis unavailable")
	}
	entry, ok := c.entries[sourceID]
	if !ok || !entry.Matches(tags) {
		return 0, false, nil
	}
	return entry.ItemID, true, nil
}

func (c *memCheckpoints) Record(ctx context.Context, sourceID string, entry *checkpoint.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sourceID] = entry
	return nil
}
