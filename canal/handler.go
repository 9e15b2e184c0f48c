package canal

import (
	"fmt"
	"time"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/gridsx/pipegos/event"
	"github.com/siddontang/go-log/log"
)

// Handler 消费解码后的变更记录, 返回错误则停止捕获
type Handler interface {
	Handle(r *event.ChangeRecord) error
}

// HandlerFunc 函数式适配
type HandlerFunc func(r *event.ChangeRecord) error

func (f HandlerFunc) Handle(r *event.ChangeRecord) error {
	return f(r)
}

type binlogHandler struct {
	canal.DummyEventHandler
	r *Reader
}

// OnRow 对于 DUMP, 此处的区别是 Header 是否为空, header 为空即快照行
func (h *binlogHandler) OnRow(e *canal.RowsEvent) error {
	records, err := decodeRowsEvent(e, h.r.syncedPos())
	if err != nil {
		// 无法解析的行事件不允许跳过, 宁可停下来
		h.r.markFatal(err)
		return err
	}
	for _, rec := range records {
		if h.r.filtered(rec) {
			continue
		}
		if err := h.r.emit(rec); err != nil {
			return err
		}
	}
	return nil
}

func (h *binlogHandler) String() string {
	return "binlogHandler"
}

func (h *binlogHandler) OnRotate(e *replication.RotateEvent) error {
	h.r.savePos()
	return nil
}

func (h *binlogHandler) OnDDL(nextPos mysql.Position, queryEvent *replication.QueryEvent) error {
	h.r.savePos()
	return nil
}

func (h *binlogHandler) OnTableChanged(schema string, table string) error {
	h.r.savePos()
	return nil
}

// decodeRowsEvent 把一条 RowsEvent 拆成若干 ChangeRecord
// update 偶数行为前镜像, 奇数行为后镜像
func decodeRowsEvent(e *canal.RowsEvent, pos mysql.Position) ([]*event.ChangeRecord, error) {
	if e.Table == nil {
		return nil, fmt.Errorf("rows event without table meta")
	}
	snapshot := e.Header == nil
	tsMs := time.Now().UnixMilli()
	if e.Header != nil {
		tsMs = int64(e.Header.Timestamp) * 1000
	}

	pkCols := make([]string, 0, len(e.Table.PKColumns))
	for _, idx := range e.Table.PKColumns {
		pkCols = append(pkCols, e.Table.Columns[idx].Name)
	}

	base := event.ChangeRecord{
		Database:  e.Table.Schema,
		Table:     e.Table.Name,
		PKColumns: pkCols,
		Pos:       pos,
		TsMs:      tsMs,
	}

	records := make([]*event.ChangeRecord, 0, len(e.Rows))
	switch e.Action {
	case canal.InsertAction:
		for _, row := range e.Rows {
			img, err := rowToImage(e, row)
			if err != nil {
				return nil, err
			}
			rec := base
			rec.Op = event.OpInsert
			if snapshot {
				rec.Op = event.OpSnapshot
			}
			rec.After = img
			records = append(records, &rec)
		}
	case canal.UpdateAction:
		if len(e.Rows)%2 != 0 {
			return nil, fmt.Errorf("update event of %s.%s has odd row count %d", e.Table.Schema, e.Table.Name, len(e.Rows))
		}
		for i := 0; i < len(e.Rows); i += 2 {
			before, err := rowToImage(e, e.Rows[i])
			if err != nil {
				return nil, err
			}
			after, err := rowToImage(e, e.Rows[i+1])
			if err != nil {
				return nil, err
			}
			rec := base
			rec.Op = event.OpUpdate
			rec.Before = before
			rec.After = after
			records = append(records, &rec)
		}
	case canal.DeleteAction:
		for _, row := range e.Rows {
			img, err := rowToImage(e, row)
			if err != nil {
				return nil, err
			}
			rec := base
			rec.Op = event.OpDelete
			rec.Before = img
			records = append(records, &rec)
		}
	default:
		log.Warnf("unknown rows event action: %s\n", e.Action)
	}
	return records, nil
}

func rowToImage(e *canal.RowsEvent, row []interface{}) (event.Row, error) {
	if len(row) != len(e.Table.Columns) {
		return nil, fmt.Errorf("row of %s.%s has %d values for %d columns",
			e.Table.Schema, e.Table.Name, len(row), len(e.Table.Columns))
	}
	img := make(event.Row, len(row))
	for i, col := range e.Table.Columns {
		img[col.Name] = row[i]
	}
	return img, nil
}
