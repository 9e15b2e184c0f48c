package task

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/siddontang/go-log/log"

	"github.com/gridsx/pipegos/canal"
	"github.com/gridsx/pipegos/config"
	"github.com/gridsx/pipegos/event"
	"github.com/gridsx/pipegos/eventlog"
	"github.com/gridsx/pipegos/meta"
	"github.com/gridsx/pipegos/sink"
	"github.com/gridsx/pipegos/sink/docstore"
	"github.com/gridsx/pipegos/telemetry"
)

// Pipeline 一个实例的完整链路: 捕获 binlog -> 编码 -> 写事件日志,
// 同时每个投递任务按分区起消费者写目标存储
// 捕获侧和投递侧互相独立, 一侧故障不影响另一侧
type Pipeline struct {
	key  string
	Inst *meta.InstanceInfo

	reader   *canal.Reader
	pub      eventlog.Publisher
	enc      *event.Encoder
	appliers []*sink.Applier
	stores   []docstore.Store

	lock    sync.Mutex
	running bool
	stopCh  chan struct{}
}

func NewPipeline(inst *meta.InstanceInfo, tasks []*meta.SinkTaskInfo) (*Pipeline, error) {
	conf := config.GetConf()
	pub, err := eventlog.New("kafka", eventlog.Options{
		Brokers:   conf.Kafka.Brokers,
		NatsURL:   conf.Nats.URL,
		BatchSize: conf.Kafka.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		key:    fmt.Sprintf("%d", inst.Id),
		Inst:   inst,
		pub:    pub,
		enc:    event.NewEncoder(inst.SourceID),
		stopCh: make(chan struct{}),
	}

	backoffBase := time.Duration(conf.Pipeline.BackoffBaseMillis) * time.Millisecond
	backoffMax := time.Duration(conf.Pipeline.BackoffMaxMillis) * time.Millisecond

	p.reader = canal.NewReader(canal.Config{
		Source: canal.SourceConfig{
			SourceID:   inst.SourceID,
			MasterInfo: inst.MySQLInstance,
			DumpFilter: inst.ToDumpFilter(),
		},
		Filters:       inst.ToFilters(),
		Tracker:       meta.NewTracker(inst.SourceID),
		Handler:       canal.HandlerFunc(p.publish),
		FlushInterval: time.Duration(conf.Pipeline.FlushIntervalSeconds) * time.Second,
		BackoffBase:   backoffBase,
		BackoffMax:    backoffMax,
	})

	for _, t := range tasks {
		if err := p.addSink(t, conf); err != nil {
			p.closeSinks()
			pub.Close()
			return nil, err
		}
	}
	return p, nil
}

// addSink 按任务配置接上目标存储, 每个表 topic 的每个分区一个消费者
func (p *Pipeline) addSink(t *meta.SinkTaskInfo, conf *config.Config) error {
	cfg := t.ToSinkConfig()
	if cfg == nil {
		return fmt.Errorf("sink task %d has no usable config", t.Id)
	}
	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("sink task %d store: %w", t.Id, err)
	}
	p.stores = append(p.stores, store)

	offsets := meta.NewOffsetStore()
	backoffBase := time.Duration(conf.Pipeline.BackoffBaseMillis) * time.Millisecond
	backoffMax := time.Duration(conf.Pipeline.BackoffMaxMillis) * time.Millisecond
	applyTimeout := time.Duration(conf.Pipeline.ApplyTimeoutMillis) * time.Millisecond

	for _, table := range cfg.Tables {
		topic := eventlog.TopicName(p.Inst.SourceID, cfg.Database, table)
		parts, err := eventlog.Partitions(conf.Kafka.Brokers, topic)
		if err != nil {
			return fmt.Errorf("sink task %d partitions of %s: %w", t.Id, topic, err)
		}
		for _, part := range parts {
			stored, ok, err := offsets.Load(cfg.Group, topic, part)
			if err != nil {
				return fmt.Errorf("sink task %d offset of %s[%d]: %w", t.Id, topic, part, err)
			}
			start := eventlog.StartEarliest
			if ok {
				// 位点记录的是最后一条已确认的, 从下一条继续
				start = stored + 1
			}
			fetcher, err := eventlog.NewKafkaFetcher(conf.Kafka.Brokers, topic, part, start)
			if err != nil {
				return fmt.Errorf("sink task %d fetcher of %s[%d]: %w", t.Id, topic, part, err)
			}
			p.appliers = append(p.appliers, sink.NewApplier(sink.Config{
				Group:        cfg.Group,
				Topic:        topic,
				Partition:    part,
				Index:        cfg.IndexPrefix + table,
				Fetcher:      fetcher,
				Store:        store,
				Offsets:      offsets,
				BackoffBase:  backoffBase,
				BackoffMax:   backoffMax,
				MaxFailures:  cfg.MaxFailures,
				SkipPoison:   cfg.SkipPoison,
				ApplyTimeout: applyTimeout,
			}))
		}
	}
	return nil
}

func newStore(cfg *meta.SinkConfig) (docstore.Store, error) {
	switch cfg.Type {
	case "elastic":
		if cfg.Elastic == nil {
			return nil, fmt.Errorf("elastic sink misses elastic config")
		}
		return docstore.NewElasticStore(cfg.Elastic.Addresses, cfg.Elastic.Username, cfg.Elastic.Password)
	case "mysql":
		if cfg.Mysql == nil {
			return nil, fmt.Errorf("mysql sink misses mysql config")
		}
		db := cfg.Mysql.ToDatasource()
		if db == nil {
			return nil, fmt.Errorf("mysql sink datasource unreachable: %s", cfg.Mysql.Addr())
		}
		return docstore.NewMySQLStore(db), nil
	default:
		return nil, fmt.Errorf("unknown sink type: %s", cfg.Type)
	}
}

// publish 编码并写事件日志, 发送失败退避重试, 不丢不乱序
// 缺主键属于数据完整性问题, 直接让捕获停下来
func (p *Pipeline) publish(rec *event.ChangeRecord) error {
	evt, err := p.enc.Encode(rec)
	if err != nil {
		return err
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	topic := eventlog.TopicName(evt.Source.SourceID, evt.Source.Database, evt.Source.Table)

	conf := config.GetConf()
	delay := time.Duration(conf.Pipeline.BackoffBaseMillis) * time.Millisecond
	max := time.Duration(conf.Pipeline.BackoffMaxMillis) * time.Millisecond
	for {
		pubErr := p.pub.Publish(topic, evt.PartitionKey, value)
		if pubErr == nil {
			telemetry.EventsPublished.WithLabelValues(topic).Inc()
			return nil
		}
		log.Warnf("publish to %s failed, retry in %s: %v\n", topic, delay, pubErr)
		timer := time.NewTimer(delay)
		select {
		case <-p.stopCh:
			timer.Stop()
			// 停止中放弃重试, 读取器不会把这次中断当成故障
			return fmt.Errorf("%w: %v", canal.ErrStopped, pubErr)
		case <-timer.C:
		}
		delay *= 2
		if delay > max {
			delay = max
		}
	}
}

// Start 先起消费侧再起捕获侧, 消费的是日志而不是捕获的内存队列,
// 顺序无关紧要, 但这样起来马上能消化积压
func (p *Pipeline) Start() error {
	p.lock.Lock()
	if p.running {
		p.lock.Unlock()
		log.Warnf("pipeline start, already running, instance: %d\n", p.Inst.Id)
		return nil
	}
	if GetPipeline(p.key) != nil {
		p.lock.Unlock()
		return nil
	}
	StorePipeline(p)
	p.running = true
	p.lock.Unlock()

	if err := meta.Manager.UpdateInstanceState(p.Inst.Id, meta.InstanceRunning); err != nil {
		log.Errorf("pipeline update instance state failed: %v\n", err)
	}
	for _, a := range p.appliers {
		a.Start()
	}
	p.reader.Start()
	return nil
}

// Stop 先停捕获侧, 再停消费侧, 正在投递的事件会先落位点
func (p *Pipeline) Stop() {
	p.lock.Lock()
	if !p.running {
		p.lock.Unlock()
		log.Warnf("pipeline stop, already stopped, instance: %d\n", p.Inst.Id)
		return
	}
	p.running = false
	close(p.stopCh)
	p.lock.Unlock()

	RemovePipeline(p)
	p.reader.Stop()
	for _, a := range p.appliers {
		a.Stop()
	}
	if err := p.pub.Close(); err != nil {
		log.Errorf("pipeline close publisher failed: %v\n", err)
	}
	p.closeSinks()
	if err := meta.Manager.UpdateInstanceState(p.Inst.Id, meta.InstanceStopped); err != nil {
		log.Errorf("pipeline update instance state failed: %v\n", err)
	}
}

func (p *Pipeline) closeSinks() {
	for _, s := range p.stores {
		if err := s.Close(); err != nil {
			log.Errorf("pipeline close store failed: %v\n", err)
		}
	}
}

func (p *Pipeline) Running() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.running
}

// Ready 快照完成且增量已经跟上
func (p *Pipeline) Ready() bool {
	return p.reader.Ready()
}

// Status 捕获侧与每个分区消费者的状态汇总
type Status struct {
	Instance string        `json:"instance"`
	Running  bool          `json:"running"`
	Ready    bool          `json:"ready"`
	Reader   canal.Status  `json:"reader"`
	Sinks    []sink.Status `json:"sinks"`
}

func (p *Pipeline) Status() Status {
	s := Status{
		Instance: p.Inst.SourceID,
		Running:  p.Running(),
		Ready:    p.Ready(),
		Reader:   p.reader.Status(),
		Sinks:    make([]sink.Status, 0, len(p.appliers)),
	}
	for _, a := range p.appliers {
		s.Sinks = append(s.Sinks, a.Status())
	}
	return s
}
