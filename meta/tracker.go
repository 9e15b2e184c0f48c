package meta

import (
	"strconv"
	"sync"

	"github.com/go-mysql-org/go-mysql/mysql"
)

// Tracker 捕获位点的持久化, 一个 LogReader 实例注入一个, 不做全局共享
// Load 返回 nil 表示没有历史位点, 即从头开始
type Tracker interface {
	Load() (*mysql.Position, error)
	Save(pos mysql.Position) error
}

// OffsetStore 投递位点的持久化, 按 (消费组, topic, 分区) 记录
type OffsetStore interface {
	Load(group, topic string, partition int) (offset int64, ok bool, err error)
	Save(group, topic string, partition int, offset int64) error
}

type mysqlTracker struct {
	sourceID string
}

func NewTracker(sourceID string) Tracker {
	return &mysqlTracker{sourceID: sourceID}
}

func (t *mysqlTracker) Load() (*mysql.Position, error) {
	return Manager.LoadPosition(t.sourceID)
}

func (t *mysqlTracker) Save(pos mysql.Position) error {
	return Manager.SavePosition(t.sourceID, pos)
}

type mysqlOffsetStore struct{}

func NewOffsetStore() OffsetStore {
	return &mysqlOffsetStore{}
}

func (s *mysqlOffsetStore) Load(group, topic string, partition int) (int64, bool, error) {
	return Manager.LoadOffset(group, topic, partition)
}

func (s *mysqlOffsetStore) Save(group, topic string, partition int, offset int64) error {
	return Manager.SaveOffset(group, topic, partition, offset)
}

// MemoryTracker 内存位点, 测试与一次性任务用
type MemoryTracker struct {
	mu  sync.Mutex
	pos *mysql.Position
}

func (t *MemoryTracker) Load() (*mysql.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pos == nil {
		return nil, nil
	}
	p := *t.pos
	return &p, nil
}

func (t *MemoryTracker) Save(pos mysql.Position) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos = &pos
	return nil
}

type MemoryOffsetStore struct {
	mu sync.Mutex
	m  map[string]int64
}

func offsetKey(group, topic string, partition int) string {
	return group + "|" + topic + "|" + strconv.Itoa(partition)
}

func (s *MemoryOffsetStore) Load(group, topic string, partition int) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return 0, false, nil
	}
	v, ok := s.m[offsetKey(group, topic, partition)]
	return v, ok, nil
}

func (s *MemoryOffsetStore) Save(group, topic string, partition int, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]int64, 8)
	}
	s.m[offsetKey(group, topic, partition)] = offset
	return nil
}
