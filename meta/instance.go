package meta

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gridsx/pipegos/filter"
	"github.com/siddontang/go-log/log"
)

type MySQLInstance struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database,omitempty" yaml:"database"`
}

// InstanceInfo 对应 instances 表, 描述一个被捕获的源库
type InstanceInfo struct {
	Id           int       `json:"id"`
	SourceID     string    `json:"sourceId"`
	State        int       `json:"state"`
	DumpConfig   string    `json:"dumpConfig"`
	FilterConfig string    `json:"filterConfig"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
	MySQLInstance
}

func (i *InstanceInfo) ToDumpFilter() *filter.DumpFilter {
	if len(i.DumpConfig) > 0 {
		dumpFilter := new(filter.DumpFilter)
		err := json.Unmarshal([]byte(i.DumpConfig), dumpFilter)
		if err != nil {
			log.Warnf("error converting dump filter: %s\n", i.DumpConfig)
			return nil
		}
		return dumpFilter
	}
	return nil
}

// ToFilters 捕获侧过滤器配置, 表过滤与数据过滤
func (i *InstanceInfo) ToFilters() []filter.Filter {
	if len(i.FilterConfig) == 0 {
		return nil
	}
	var cfg struct {
		TableFilters []*filter.TableFilter     `json:"tableFilters,omitempty"`
		DataFilters  []*filter.EventDataFilter `json:"dataFilters,omitempty"`
	}
	if err := json.Unmarshal([]byte(i.FilterConfig), &cfg); err != nil {
		log.Warnf("error converting filters: %s\n", i.FilterConfig)
		return nil
	}
	filters := make([]filter.Filter, 0, len(cfg.TableFilters)+len(cfg.DataFilters))
	for _, v := range cfg.TableFilters {
		filters = append(filters, v)
	}
	for _, v := range cfg.DataFilters {
		filters = append(filters, v)
	}
	return filters
}

func (i *MySQLInstance) ToDatasource() *sql.DB {
	db, err := sql.Open("mysql", fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
		i.Username, i.Password, i.Host, i.Port, i.Database))
	if err != nil {
		log.Error(err.Error())
		return nil
	}
	db.SetMaxOpenConns(5)
	pingErr := db.Ping()
	if pingErr != nil {
		log.Error(pingErr.Error())
		return nil
	}
	return db
}

func (i *MySQLInstance) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}
