package filter

import (
	"testing"

	"github.com/gridsx/pipegos/event"
	"github.com/stretchr/testify/assert"
)

func record(db, table string, op event.Op) *event.ChangeRecord {
	return &event.ChangeRecord{Database: db, Table: table, Op: op}
}

func TestTableFilterIgnoreTables(t *testing.T) {
	f := &TableFilter{IgnoreTables: []string{"audit_log"}}
	assert.True(t, f.Match(record("shop", "audit_log", event.OpInsert)))
	assert.True(t, f.Match(record("shop", "AUDIT_LOG", event.OpInsert)))
	assert.False(t, f.Match(record("shop", "customers", event.OpInsert)))
}

func TestTableFilterIgnoreDatabases(t *testing.T) {
	f := &TableFilter{IgnoreDatabases: []string{"tmp"}}
	assert.True(t, f.Match(record("tmp", "customers", event.OpInsert)))
	assert.False(t, f.Match(record("shop", "customers", event.OpInsert)))
}

func TestTableFilterIgnoreActions(t *testing.T) {
	f := &TableFilter{IgnoreActions: []string{"delete"}}
	assert.True(t, f.Match(record("shop", "customers", event.OpDelete)))
	assert.False(t, f.Match(record("shop", "customers", event.OpInsert)))
	assert.False(t, f.Match(record("shop", "customers", event.OpSnapshot)))
}

// IncludeTables overrides every ignore list.
func TestTableFilterIncludeTables(t *testing.T) {
	f := &TableFilter{
		IncludeTables: []string{"customers"},
		IgnoreTables:  []string{"customers"},
	}
	assert.False(t, f.Match(record("shop", "customers", event.OpInsert)))
	assert.True(t, f.Match(record("shop", "orders", event.OpInsert)))
}

func TestTableFilterEmpty(t *testing.T) {
	f := &TableFilter{}
	assert.False(t, f.Match(record("shop", "customers", event.OpInsert)))
}
