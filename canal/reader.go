package canal

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/gridsx/pipegos/event"
	"github.com/gridsx/pipegos/filter"
	"github.com/gridsx/pipegos/meta"
	"github.com/gridsx/pipegos/telemetry"
	"github.com/siddontang/go-log/log"
)

const (
	StateCreated int32 = iota
	StateSnapshotting
	StateRunning
	StateStopped
	StateHalted
)

func stateName(s int32) string {
	switch s {
	case StateCreated:
		return "created"
	case StateSnapshotting:
		return "snapshotting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateHalted:
		return "halted"
	}
	return "unknown"
}

// Status 对外暴露的读取器健康状态, 停止后可以从 Position 继续
type Status struct {
	State     string         `json:"state"`
	Ready     bool           `json:"ready"`
	Position  mysql.Position `json:"position"`
	LastError string         `json:"lastError,omitempty"`
}

type Config struct {
	Source        SourceConfig
	Filters       []filter.Filter
	Tracker       meta.Tracker
	Handler       Handler
	FlushInterval time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration
}

// Reader 单线程顺序读取一个源库的 binlog, 保持提交顺序
// 没有历史位点且配置了全量时, 先快照后增量, 以快照结束位点无缝衔接
type Reader struct {
	cfg Config

	mu       sync.Mutex
	c        *canal.Canal
	running  bool
	fatalErr error
	lastErr  error
	stopCh   chan struct{}
	doneCh   chan struct{}

	state        atomic.Int32
	snapshotDone atomic.Bool
	tailing      atomic.Bool
	lastFlush    atomic.Int64
}

func NewReader(cfg Config) *Reader {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Reader{cfg: cfg}
}

func (r *Reader) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		log.Warnf("reader start, already running, source: %s\n", r.cfg.Source.SourceID)
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run()
	go r.flushLoop()
}

// Stop 优雅停止: 关掉 canal, 等主循环退出, 最后落一次位点
func (r *Reader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	if r.c != nil {
		r.c.Close()
	}
	done := r.doneCh
	r.mu.Unlock()
	<-done
}

// Ready 快照完成且已进入增量拉取
func (r *Reader) Ready() bool {
	return r.snapshotDone.Load() && r.tailing.Load()
}

func (r *Reader) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Status{
		State: stateName(r.state.Load()),
		Ready: r.snapshotDone.Load() && r.tailing.Load(),
	}
	if r.c != nil {
		s.Position = r.c.SyncedPosition()
	}
	if r.fatalErr != nil {
		s.LastError = r.fatalErr.Error()
	} else if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

func (r *Reader) run() {
	defer close(r.doneCh)
	delay := r.cfg.BackoffBase
	for {
		if r.stopped() {
			r.state.Store(StateStopped)
			return
		}
		c, dump, err := newCanal(r.cfg.Source)
		if err != nil {
			if errors.Is(err, ErrPartialRowImage) {
				r.halt(err)
				return
			}
			r.setLastErr(err)
			log.Errorf("reader connect failed, source: %s, err: %v\n", r.cfg.Source.SourceID, err)
			if !r.sleep(delay) {
				r.state.Store(StateStopped)
				return
			}
			delay = nextDelay(delay, r.cfg.BackoffMax)
			continue
		}
		c.SetEventHandler(&binlogHandler{r: r})
		r.setCanal(c)

		pos, err := r.cfg.Tracker.Load()
		if err != nil {
			r.setLastErr(err)
			c.Close()
			if !r.sleep(delay) {
				r.state.Store(StateStopped)
				return
			}
			delay = nextDelay(delay, r.cfg.BackoffMax)
			continue
		}

		// 没有位点即从头开始: 先全量快照, 再从快照结束位点增量
		if pos == nil {
			if dump {
				r.state.Store(StateSnapshotting)
				log.Infof("reader starting snapshot, source: %s\n", r.cfg.Source.SourceID)
				if dumpErr := c.Dump(); dumpErr != nil {
					r.setLastErr(dumpErr)
					c.Close()
					if r.stopped() {
						r.state.Store(StateStopped)
						return
					}
					log.Errorf("reader snapshot failed, source: %s, err: %v\n", r.cfg.Source.SourceID, dumpErr)
					if !r.sleep(delay) {
						r.state.Store(StateStopped)
						return
					}
					delay = nextDelay(delay, r.cfg.BackoffMax)
					continue
				}
				synced := c.SyncedPosition()
				pos = &synced
				if saveErr := r.cfg.Tracker.Save(synced); saveErr != nil {
					log.Errorf("reader save snapshot position failed: %v\n", saveErr)
				}
			} else {
				master, posErr := c.GetMasterPos()
				if posErr != nil {
					r.setLastErr(posErr)
					c.Close()
					if !r.sleep(delay) {
						r.state.Store(StateStopped)
						return
					}
					delay = nextDelay(delay, r.cfg.BackoffMax)
					continue
				}
				pos = &master
			}
		}
		r.snapshotDone.Store(true)

		r.state.Store(StateRunning)
		r.tailing.Store(true)
		delay = r.cfg.BackoffBase
		runErr := c.RunFrom(*pos)
		r.tailing.Store(false)
		r.flushPos(true)

		if r.stopped() {
			r.state.Store(StateStopped)
			return
		}
		if fe := r.getFatal(); fe != nil {
			r.halt(fe)
			return
		}
		// 其余的 RunFrom 错误按瞬时故障处理, 从已保存位点重连
		r.setLastErr(runErr)
		log.Errorf("reader disconnected, source: %s, err: %v\n", r.cfg.Source.SourceID, runErr)
		if !r.sleep(delay) {
			r.state.Store(StateStopped)
			return
		}
		delay = nextDelay(delay, r.cfg.BackoffMax)
	}
}

// flushLoop 定时刷位点, 不快于 FlushInterval, 限制崩溃后的重放窗口
func (r *Reader) flushLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.flushPos(false)
		}
	}
}

func (r *Reader) flushPos(force bool) {
	if !force && !r.tailing.Load() {
		return
	}
	now := time.Now().Unix()
	last := r.lastFlush.Load()
	if !force && now-last < int64(r.cfg.FlushInterval/time.Second) {
		return
	}
	if !r.lastFlush.CompareAndSwap(last, now) {
		return
	}
	pos := r.syncedPos()
	if pos.Name == "" && pos.Pos == 0 {
		return
	}
	if err := r.cfg.Tracker.Save(pos); err != nil {
		log.Errorf("reader save position failed: %v\n", err)
	}
}

// savePos rotate 或 DDL 的时候也落一次位点
func (r *Reader) savePos() {
	r.flushPos(true)
}

func (r *Reader) emit(rec *event.ChangeRecord) error {
	if err := r.cfg.Handler.Handle(rec); err != nil {
		if !r.stopped() && !errors.Is(err, ErrStopped) {
			r.markFatal(err)
		}
		return err
	}
	telemetry.EventsCaptured.WithLabelValues(r.cfg.Source.SourceID).Inc()
	return nil
}

func (r *Reader) filtered(rec *event.ChangeRecord) bool {
	for _, f := range r.cfg.Filters {
		if f.Match(rec) {
			return true
		}
	}
	return false
}

func (r *Reader) syncedPos() mysql.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		return mysql.Position{}
	}
	return r.c.SyncedPosition()
}

func (r *Reader) setCanal(c *canal.Canal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c = c
}

func (r *Reader) markFatal(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatalErr == nil {
		r.fatalErr = err
	}
}

func (r *Reader) getFatal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatalErr
}

func (r *Reader) setLastErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err
}

func (r *Reader) halt(err error) {
	r.markFatal(err)
	r.state.Store(StateHalted)
	log.Errorf("reader halted, source: %s, err: %v\n", r.cfg.Source.SourceID, err)
}

func (r *Reader) stopped() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (r *Reader) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		d = max
	}
	return d
}
