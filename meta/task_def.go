package meta

import (
	"encoding/json"
	"time"

	"github.com/siddontang/go-log/log"
)

// SinkTaskInfo 对应 sink_tasks 表, 一个源实例可以对应多个下游投递任务
type SinkTaskInfo struct {
	Id          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	InstanceId  int       `json:"instanceId"`
	SinkConfig  string    `json:"sinkConfig"`
	State       int       `json:"state"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

type ElasticInstance struct {
	Addresses []string `json:"addresses"`
	Username  string   `json:"username,omitempty"`
	Password  string   `json:"password,omitempty"`
}

// SinkConfig 投递任务配置: 消费哪些表的事件流, 写到哪种目标存储
type SinkConfig struct {
	Type     string   `json:"type"` // elastic, mysql
	Database string   `json:"database"`
	Tables   []string `json:"tables"`

	// 消费组标识, 位点按 (group, topic, partition) 记录, 重启后继续
	Group string `json:"group"`

	IndexPrefix string           `json:"indexPrefix,omitempty"`
	Elastic     *ElasticInstance `json:"elastic,omitempty"`
	Mysql       *MySQLInstance   `json:"mysql,omitempty"`

	// 永久性写入拒绝的处理策略: 默认停分区, 开启后跳过并计数
	SkipPoison  bool `json:"skipPoison,omitempty"`
	MaxFailures int  `json:"maxFailures,omitempty"`
}

func (t *SinkTaskInfo) ToSinkConfig() *SinkConfig {
	if len(t.SinkConfig) == 0 {
		return nil
	}
	cfg := new(SinkConfig)
	if err := json.Unmarshal([]byte(t.SinkConfig), cfg); err != nil {
		log.Errorf("convert sink config error, config: %s\n", t.SinkConfig)
		return nil
	}
	if cfg.Group == "" {
		cfg.Group = t.Name
	}
	return cfg
}
