package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gridsx/pipegos/event"
	"github.com/gridsx/pipegos/eventlog"
	"github.com/gridsx/pipegos/meta"
	"github.com/gridsx/pipegos/sink/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves queued records; once drained it blocks until the
// applier cancels the fetch on Stop, like an idle partition would.
type fakeFetcher struct {
	ch chan *eventlog.Record
}

func newFakeFetcher(records ...*eventlog.Record) *fakeFetcher {
	f := &fakeFetcher{ch: make(chan *eventlog.Record, len(records)+8)}
	for _, r := range records {
		f.ch <- r
	}
	return f
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*eventlog.Record, error) {
	select {
	case rec := <-f.ch:
		return rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeFetcher) Close() error { return nil }

func logRecord(t *testing.T, offset int64, op event.Op, id int, doc event.Row) *eventlog.Record {
	t.Helper()
	evt := &event.ChangeEvent{
		SchemaVersion: event.SchemaVersion,
		Source:        event.Source{SourceID: "src-1", Database: "shop", Table: "customers"},
		Op:            op,
		After:         doc,
		Key:           event.Row{"id": float64(id)},
		KeyColumns:    []string{"id"},
	}
	if op == event.OpDelete {
		evt.After = nil
		evt.Before = doc
	}
	value, err := json.Marshal(evt)
	require.NoError(t, err)
	return &eventlog.Record{Topic: "src-1.shop.customers", Offset: offset, Value: value}
}

func testApplier(f eventlog.Fetcher, store docstore.Store, offsets meta.OffsetStore, mod func(*Config)) *Applier {
	cfg := Config{
		Group:       "g1",
		Topic:       "src-1.shop.customers",
		Partition:   0,
		Index:       "customers",
		Fetcher:     f,
		Store:       store,
		Offsets:     offsets,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}
	if mod != nil {
		mod(&cfg)
	}
	return NewApplier(cfg)
}

func TestApplierAppliesInOrder(t *testing.T) {
	store := docstore.NewMemoryStore()
	offsets := &meta.MemoryOffsetStore{}
	fetcher := newFakeFetcher(
		logRecord(t, 0, event.OpInsert, 1, event.Row{"id": float64(1), "name": "alice"}),
		logRecord(t, 1, event.OpUpdate, 1, event.Row{"id": float64(1), "name": "alicia"}),
		logRecord(t, 2, event.OpInsert, 2, event.Row{"id": float64(2), "name": "bob"}),
	)
	a := testApplier(fetcher, store, offsets, nil)
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool { return a.Status().Offset == 2 }, time.Second, time.Millisecond)

	doc, ok := store.Get("customers", "1")
	require.True(t, ok)
	assert.Equal(t, "alicia", doc["name"])
	assert.Equal(t, 2, store.Count("customers"))

	stored, ok, err := offsets.Load("g1", "src-1.shop.customers", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), stored)
}

// Redelivered events are absorbed: upserts overwrite with the same document,
// deletes of an absent document succeed.
func TestApplierIdempotentOnRedelivery(t *testing.T) {
	store := docstore.NewMemoryStore()
	offsets := &meta.MemoryOffsetStore{}
	fetcher := newFakeFetcher(
		logRecord(t, 0, event.OpInsert, 1, event.Row{"id": float64(1), "name": "alice"}),
		logRecord(t, 0, event.OpInsert, 1, event.Row{"id": float64(1), "name": "alice"}),
		logRecord(t, 1, event.OpDelete, 2, event.Row{"id": float64(2)}),
	)
	a := testApplier(fetcher, store, offsets, nil)
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool { return a.Status().Offset == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, store.Count("customers"))
}

// flakyFetcher fails the first calls and records when each fetch happened,
// then serves its records like fakeFetcher does.
type flakyFetcher struct {
	mu       sync.Mutex
	failures int
	calls    []time.Time
	ch       chan *eventlog.Record
}

func (f *flakyFetcher) Fetch(ctx context.Context) (*eventlog.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, time.Now())
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("broker unavailable")
	}
	select {
	case rec := <-f.ch:
		return rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *flakyFetcher) Close() error { return nil }

func (f *flakyFetcher) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls...)
}

// The delay between fetch attempts doubles up to the cap. Three failures at
// a 25ms base must sleep at least 25+50+100ms before the fourth attempt; a
// constant-delay loop would get there after 75ms.
func TestApplierFetchBackoffGrows(t *testing.T) {
	store := docstore.NewMemoryStore()
	offsets := &meta.MemoryOffsetStore{}
	fetcher := &flakyFetcher{failures: 3, ch: make(chan *eventlog.Record, 1)}
	fetcher.ch <- logRecord(t, 0, event.OpInsert, 1, event.Row{"id": float64(1), "name": "alice"})

	a := testApplier(fetcher, store, offsets, func(c *Config) {
		c.BackoffBase = 25 * time.Millisecond
		c.BackoffMax = 200 * time.Millisecond
	})
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool { return a.Status().Offset == 0 }, 5*time.Second, time.Millisecond)

	calls := fetcher.callTimes()
	require.GreaterOrEqual(t, len(calls), 4)
	assert.GreaterOrEqual(t, calls[3].Sub(calls[0]), 150*time.Millisecond)
}

func TestApplierRetriesTransientErrors(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.FailWith(errors.New("connection reset"), errors.New("connection reset"))
	offsets := &meta.MemoryOffsetStore{}
	fetcher := newFakeFetcher(
		logRecord(t, 0, event.OpInsert, 1, event.Row{"id": float64(1), "name": "alice"}),
	)
	a := testApplier(fetcher, store, offsets, nil)
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool { return a.Status().Offset == 0 }, time.Second, time.Millisecond)
	_, ok := store.Get("customers", "1")
	assert.True(t, ok)
	assert.Equal(t, 3, store.Ops())
}

func TestApplierHaltsAfterMaxFailures(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.FailWith(errors.New("down"), errors.New("down"), errors.New("down"))
	offsets := &meta.MemoryOffsetStore{}
	fetcher := newFakeFetcher(
		logRecord(t, 0, event.OpInsert, 1, event.Row{"id": float64(1), "name": "alice"}),
	)
	a := testApplier(fetcher, store, offsets, func(c *Config) { c.MaxFailures = 3 })
	a.Start()

	require.Eventually(t, func() bool { return a.Status().State == "halted" }, time.Second, time.Millisecond)
	assert.NotEmpty(t, a.Status().LastError)

	// halted without committing, the event replays after restart
	_, ok, err := offsets.Load("g1", "src-1.shop.customers", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplierHaltsOnRejectedEvent(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.FailWith(fmt.Errorf("mapping conflict: %w", docstore.ErrRejected))
	offsets := &meta.MemoryOffsetStore{}
	fetcher := newFakeFetcher(
		logRecord(t, 0, event.OpInsert, 1, event.Row{"id": float64(1), "name": "alice"}),
	)
	a := testApplier(fetcher, store, offsets, nil)
	a.Start()

	require.Eventually(t, func() bool { return a.Status().State == "halted" }, time.Second, time.Millisecond)
	_, ok, err := offsets.Load("g1", "src-1.shop.customers", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplierSkipsPoisonWhenConfigured(t *testing.T) {
	store := docstore.NewMemoryStore()
	store.FailWith(fmt.Errorf("mapping conflict: %w", docstore.ErrRejected))
	offsets := &meta.MemoryOffsetStore{}
	fetcher := newFakeFetcher(
		logRecord(t, 0, event.OpInsert, 1, event.Row{"id": float64(1), "name": "alice"}),
		logRecord(t, 1, event.OpInsert, 2, event.Row{"id": float64(2), "name": "bob"}),
	)
	a := testApplier(fetcher, store, offsets, func(c *Config) { c.SkipPoison = true })
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool { return a.Status().Offset == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), a.Skipped())

	// the poisoned event is gone, the next one applied
	_, ok := store.Get("customers", "1")
	assert.False(t, ok)
	_, ok = store.Get("customers", "2")
	assert.True(t, ok)
}

func TestApplierHaltsOnUndecodableEvent(t *testing.T) {
	store := docstore.NewMemoryStore()
	offsets := &meta.MemoryOffsetStore{}
	fetcher := newFakeFetcher(&eventlog.Record{Topic: "src-1.shop.customers", Offset: 0, Value: []byte("{broken")})
	a := testApplier(fetcher, store, offsets, nil)
	a.Start()

	require.Eventually(t, func() bool { return a.Status().State == "halted" }, time.Second, time.Millisecond)
}

func TestApplierGracefulStop(t *testing.T) {
	store := docstore.NewMemoryStore()
	offsets := &meta.MemoryOffsetStore{}
	a := testApplier(newFakeFetcher(), store, offsets, nil)
	a.Start()

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("applier did not stop")
	}
	assert.Equal(t, "idle", a.Status().State)
}

// The full customer lifecycle: snapshot read, live update, second insert,
// delete. The store ends up with exactly the surviving row.
func TestApplierCustomerLifecycle(t *testing.T) {
	store := docstore.NewMemoryStore()
	offsets := &meta.MemoryOffsetStore{}
	fetcher := newFakeFetcher(
		logRecord(t, 0, event.OpSnapshot, 1, event.Row{"id": float64(1), "name": "alice", "city": "austin"}),
		logRecord(t, 1, event.OpUpdate, 1, event.Row{"id": float64(1), "name": "alice", "city": "boston"}),
		logRecord(t, 2, event.OpInsert, 2, event.Row{"id": float64(2), "name": "bob", "city": "chicago"}),
		logRecord(t, 3, event.OpDelete, 1, event.Row{"id": float64(1), "name": "alice", "city": "boston"}),
	)
	a := testApplier(fetcher, store, offsets, nil)
	a.Start()
	defer a.Stop()

	require.Eventually(t, func() bool { return a.Status().Offset == 3 }, time.Second, time.Millisecond)

	assert.Equal(t, 1, store.Count("customers"))
	_, ok := store.Get("customers", "1")
	assert.False(t, ok)
	doc, ok := store.Get("customers", "2")
	require.True(t, ok)
	assert.Equal(t, "bob", doc["name"])
}
