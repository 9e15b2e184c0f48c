package event

import (
	"fmt"

	"github.com/go-mysql-org/go-mysql/mysql"
)

// Op is the operation kind of a captured row change. The codes follow the
// Debezium convention so downstream consumers can tell snapshot reads ("r")
// apart from live inserts ("c").
type Op string

const (
	OpInsert   Op = "c"
	OpUpdate   Op = "u"
	OpDelete   Op = "d"
	OpSnapshot Op = "r"
)

// Name returns the long form used by filters and logs.
func (o Op) Name() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpSnapshot:
		return "snapshot"
	}
	return string(o)
}

// Row is a full row image, column name to value.
type Row map[string]interface{}

// ChangeRecord is a single decoded row change in source commit order.
// Before is empty for inserts and snapshot reads, After is empty for deletes.
type ChangeRecord struct {
	Database  string
	Table     string
	Op        Op
	Before    Row
	After     Row
	PKColumns []string
	Pos       mysql.Position
	TsMs      int64
}

// KeyImage returns the row image that carries the primary key: the after
// image, except for deletes where only the before image exists.
func (r *ChangeRecord) KeyImage() Row {
	if r.Op == OpDelete {
		return r.Before
	}
	return r.After
}

// Key extracts the primary key columns from the key image. A record whose
// key cannot be resolved is undeliverable and must halt capture.
func (r *ChangeRecord) Key() (Row, error) {
	if len(r.PKColumns) == 0 {
		return nil, fmt.Errorf("table %s.%s has no primary key", r.Database, r.Table)
	}
	img := r.KeyImage()
	key := make(Row, len(r.PKColumns))
	for _, col := range r.PKColumns {
		v, ok := img[col]
		if !ok {
			return nil, fmt.Errorf("row image of %s.%s is missing key column %s", r.Database, r.Table, col)
		}
		key[col] = v
	}
	return key, nil
}
