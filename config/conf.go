package config

import (
	"sync"

	config "github.com/winjeg/go-commons/conf"
)

var (
	once sync.Once
	conf *Config
)

func GetConf() *Config {
	if conf != nil {
		return conf
	} else {
		once.Do(getConf)
	}
	return conf
}

type MysqlConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database,omitempty" yaml:"database"`
}

type ServerConfig struct {
	Port int `json:"port" yaml:"port"`
}

type KafkaConfig struct {
	Brokers   []string `json:"brokers" yaml:"brokers"`
	BatchSize int      `json:"batchSize" yaml:"batchSize"`
}

type NatsConfig struct {
	URL string `json:"url" yaml:"url"`
}

// PipelineConfig 管道进程级参数: 位点刷新间隔与重试退避, 对所有任务生效
type PipelineConfig struct {
	FlushIntervalSeconds int `json:"flushIntervalSeconds" yaml:"flushIntervalSeconds"`
	BackoffBaseMillis    int `json:"backoffBaseMillis" yaml:"backoffBaseMillis"`
	BackoffMaxMillis     int `json:"backoffMaxMillis" yaml:"backoffMaxMillis"`
	ApplyTimeoutMillis   int `json:"applyTimeoutMillis" yaml:"applyTimeoutMillis"`
}

type Config struct {
	Mysql    MysqlConfig    `json:"mysql" yaml:"mysql"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Kafka    KafkaConfig    `json:"kafka" yaml:"kafka"`
	Nats     NatsConfig     `json:"nats" yaml:"nats"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
}

const configFile = "conf.yaml"

func getConf() {
	conf = new(Config)
	err := config.Yaml2Object(configFile, &conf)
	if err != nil {
		panic(err)
	}
	fillDefaults(conf)
}

func fillDefaults(c *Config) {
	if c.Pipeline.FlushIntervalSeconds <= 0 {
		c.Pipeline.FlushIntervalSeconds = 5
	}
	if c.Pipeline.BackoffBaseMillis <= 0 {
		c.Pipeline.BackoffBaseMillis = 1000
	}
	if c.Pipeline.BackoffMaxMillis <= 0 {
		c.Pipeline.BackoffMaxMillis = 30000
	}
	if c.Pipeline.ApplyTimeoutMillis <= 0 {
		c.Pipeline.ApplyTimeoutMillis = 10000
	}
	if c.Kafka.BatchSize <= 0 {
		c.Kafka.BatchSize = 100
	}
}
