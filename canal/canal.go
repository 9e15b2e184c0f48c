package canal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/gridsx/pipegos/filter"
	"github.com/gridsx/pipegos/meta"
	"github.com/siddontang/go-log/log"
)

// ErrPartialRowImage 源库没有开启完整行镜像, 无法做幂等投递, 启动时直接失败
var ErrPartialRowImage = errors.New("source binlog_row_image is not FULL")

// ErrStopped handler 因为上层在停止而放弃当前记录, 不算捕获故障
// 位点不会越过未处理完的记录, 重启后从它继续
var ErrStopped = errors.New("capture handler aborted by shutdown")

// SourceConfig binlog 生产者配置
type SourceConfig struct {
	SourceID   string             `json:"sourceId"`
	MasterInfo meta.MySQLInstance `json:"masterInfo"`
	DumpFilter *filter.DumpFilter `json:"dumpFilter"`
}

// newCanal 创建 canal 通道, 返回是否带全量
func newCanal(c SourceConfig) (*canal.Canal, bool, error) {
	cfg := canal.NewDefaultConfig()
	cfg.Addr = fmt.Sprintf("%s:%d", c.MasterInfo.Host, c.MasterInfo.Port)
	cfg.User = c.MasterInfo.Username
	cfg.Password = c.MasterInfo.Password
	cfg.HeartbeatPeriod = time.Second * 5
	cfg.DiscardNoMetaRowEvent = true
	cfg.TimestampStringLocation = time.UTC

	if c.DumpFilter != nil {
		// 全量配置相关
		cfg.Dump.ExecutionPath = `mysqldump`
		cfg.Dump.SkipMasterData = true
		cfg.Dump.Databases = c.DumpFilter.Databases
		cfg.Dump.Where = c.DumpFilter.Where
		cfg.Dump.TableDB = c.DumpFilter.TableDB
		cfg.Dump.Tables = c.DumpFilter.Tables
		cfg.Dump.IgnoreTables = c.DumpFilter.IgnoreTables
	} else {
		cfg.Dump.ExecutionPath = ""
	}
	cx, err := canal.NewCanal(cfg)
	if err != nil {
		log.Errorln(err)
		return nil, false, err
	}
	if err := checkRowImage(cx); err != nil {
		cx.Close()
		return nil, false, err
	}
	return cx, c.DumpFilter != nil, nil
}

// checkRowImage 校验 binlog_row_image=FULL, 部分行镜像拿不到完整前镜像
func checkRowImage(c *canal.Canal) error {
	res, err := c.Execute(`SHOW GLOBAL VARIABLES LIKE 'binlog_row_image'`)
	if err != nil {
		return err
	}
	if res.RowNumber() == 0 {
		// 老版本没有这个变量, 等价于 FULL
		return nil
	}
	v, err := res.GetString(0, 1)
	if err != nil {
		return err
	}
	if !strings.EqualFold(v, "FULL") {
		return fmt.Errorf("%w: got %s", ErrPartialRowImage, v)
	}
	return nil
}
