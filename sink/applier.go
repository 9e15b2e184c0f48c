package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/siddontang/go-log/log"

	"github.com/gridsx/pipegos/event"
	"github.com/gridsx/pipegos/eventlog"
	"github.com/gridsx/pipegos/meta"
	"github.com/gridsx/pipegos/sink/docstore"
	"github.com/gridsx/pipegos/telemetry"
)

type State int32

const (
	StateIdle State = iota
	StateFetching
	StateApplying
	StateCommitting
	StateBackoff
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateApplying:
		return "applying"
	case StateCommitting:
		return "committing"
	case StateBackoff:
		return "backoff"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of one partition applier.
type Status struct {
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	State     string `json:"state"`
	Offset    int64  `json:"offset"`
	LastError string `json:"lastError,omitempty"`
}

type Config struct {
	Group       string
	Topic       string
	Partition   int
	Index       string
	Fetcher     eventlog.Fetcher
	Store       docstore.Store
	Transformer *Transformer
	Offsets     meta.OffsetStore
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxFailures halts the partition after that many consecutive transient
	// apply failures; zero retries forever.
	MaxFailures int
	// SkipPoison skips permanently rejected events instead of halting.
	SkipPoison   bool
	ApplyTimeout time.Duration
}

// Applier drains one log partition into the document store. Events are
// applied strictly in offset order and the offset is committed only after
// the store acknowledged the write, so a crash between apply and commit
// replays the event; every operation being idempotent makes that safe.
type Applier struct {
	cfg Config

	state   atomic.Int32
	offset  atomic.Int64
	skipped atomic.Uint64

	mu      sync.Mutex
	lastErr error
	running bool

	stopCh chan struct{}
	doneCh chan struct{}
	cancel context.CancelFunc
}

func NewApplier(cfg Config) *Applier {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = 10 * time.Second
	}
	if cfg.Transformer == nil {
		cfg.Transformer = &Transformer{}
	}
	a := &Applier{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	a.offset.Store(-1)
	return a
}

func (a *Applier) Start() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mu.Unlock()
	go a.run(ctx)
}

// Stop cancels the fetch and waits for the loop to exit. An apply that is
// already in flight runs to completion under its own timeout and its offset
// is committed before the loop returns.
func (a *Applier) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()
	close(a.stopCh)
	a.cancel()
	<-a.doneCh
}

func (a *Applier) Status() Status {
	st := Status{
		Topic:     a.cfg.Topic,
		Partition: a.cfg.Partition,
		State:     State(a.state.Load()).String(),
		Offset:    a.offset.Load(),
	}
	a.mu.Lock()
	if a.lastErr != nil {
		st.LastError = a.lastErr.Error()
	}
	a.mu.Unlock()
	return st
}

// Skipped returns how many poison events this applier has skipped.
func (a *Applier) Skipped() uint64 {
	return a.skipped.Load()
}

func (a *Applier) setErr(err error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
}

func (a *Applier) stopped() bool {
	select {
	case <-a.stopCh:
		return true
	default:
		return false
	}
}

// sleep waits for the delay, returning early when stopping.
func (a *Applier) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-a.stopCh:
		return false
	case <-t.C:
		return true
	}
}

func (a *Applier) halt(err error) {
	a.setErr(err)
	a.state.Store(int32(StateHalted))
	telemetry.PartitionsHalted.WithLabelValues(a.cfg.Topic).Inc()
	log.Errorf("sink %s[%d] halted: %v", a.cfg.Topic, a.cfg.Partition, err)
}

func (a *Applier) run(ctx context.Context) {
	defer close(a.doneCh)
	defer a.cfg.Fetcher.Close()

	fetchDelay := a.cfg.BackoffBase
	for {
		if a.stopped() {
			a.state.Store(int32(StateIdle))
			return
		}
		a.state.Store(int32(StateFetching))
		rec, err := a.cfg.Fetcher.Fetch(ctx)
		if err != nil {
			if a.stopped() {
				a.state.Store(int32(StateIdle))
				return
			}
			a.setErr(err)
			a.state.Store(int32(StateBackoff))
			if !a.sleep(fetchDelay) {
				a.state.Store(int32(StateIdle))
				return
			}
			fetchDelay *= 2
			if fetchDelay > a.cfg.BackoffMax {
				fetchDelay = a.cfg.BackoffMax
			}
			continue
		}
		fetchDelay = a.cfg.BackoffBase

		var env event.ChangeEvent
		if err := json.Unmarshal(rec.Value, &env); err != nil {
			a.halt(fmt.Errorf("undecodable event at %s[%d]@%d: %w", rec.Topic, rec.Partition, rec.Offset, err))
			return
		}
		op, err := a.cfg.Transformer.Transform(&env)
		if err != nil {
			a.halt(fmt.Errorf("untransformable event at %s[%d]@%d: %w", rec.Topic, rec.Partition, rec.Offset, err))
			return
		}

		ok, halted := a.apply(op, rec.Offset)
		if halted {
			return
		}
		if !ok {
			// stopping mid-apply
			a.state.Store(int32(StateIdle))
			return
		}
		if !a.commit(rec.Offset) {
			return
		}
	}
}

// apply writes one operation with unbounded retry on transient errors.
// Returns (false, false) when stopping, (false, true) when halted.
func (a *Applier) apply(op Operation, offset int64) (bool, bool) {
	failures := 0
	delay := a.cfg.BackoffBase
	for {
		a.state.Store(int32(StateApplying))
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ApplyTimeout)
		var err error
		switch op.Kind {
		case OpDelete:
			err = a.cfg.Store.Delete(ctx, a.cfg.Index, op.ID)
		default:
			err = a.cfg.Store.Upsert(ctx, a.cfg.Index, op.ID, op.Doc)
		}
		cancel()
		if err == nil {
			telemetry.EventsApplied.WithLabelValues(a.cfg.Topic).Inc()
			a.setErr(nil)
			return true, false
		}

		if errors.Is(err, docstore.ErrRejected) {
			if a.cfg.SkipPoison {
				a.skipped.Add(1)
				telemetry.EventsSkipped.WithLabelValues(a.cfg.Topic).Inc()
				log.Warnf("sink %s[%d] skipped rejected event @%d doc %s: %v",
					a.cfg.Topic, a.cfg.Partition, offset, op.ID, err)
				a.setErr(err)
				return true, false
			}
			a.halt(fmt.Errorf("event @%d doc %s rejected: %w", offset, op.ID, err))
			return false, true
		}

		failures++
		telemetry.ApplyRetries.WithLabelValues(a.cfg.Topic).Inc()
		if a.cfg.MaxFailures > 0 && failures >= a.cfg.MaxFailures {
			a.halt(fmt.Errorf("event @%d doc %s failed %d times: %w", offset, op.ID, failures, err))
			return false, true
		}
		a.setErr(err)
		a.state.Store(int32(StateBackoff))
		log.Warnf("sink %s[%d] apply @%d failed, retry in %s: %v",
			a.cfg.Topic, a.cfg.Partition, offset, delay, err)
		if !a.sleep(delay) {
			return false, false
		}
		delay *= 2
		if delay > a.cfg.BackoffMax {
			delay = a.cfg.BackoffMax
		}
	}
}

// commit persists the offset, retrying transient failures. The applied
// write is durable already, so on a crash here the event replays and the
// idempotent store absorbs the duplicate.
func (a *Applier) commit(offset int64) bool {
	delay := a.cfg.BackoffBase
	for {
		a.state.Store(int32(StateCommitting))
		err := a.cfg.Offsets.Save(a.cfg.Group, a.cfg.Topic, a.cfg.Partition, offset)
		if err == nil {
			a.offset.Store(offset)
			a.setErr(nil)
			return true
		}
		a.setErr(err)
		a.state.Store(int32(StateBackoff))
		log.Warnf("sink %s[%d] offset commit @%d failed, retry in %s: %v",
			a.cfg.Topic, a.cfg.Partition, offset, delay, err)
		if !a.sleep(delay) {
			a.state.Store(int32(StateIdle))
			return false
		}
		delay *= 2
		if delay > a.cfg.BackoffMax {
			delay = a.cfg.BackoffMax
		}
	}
}
