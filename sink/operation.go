package sink

import (
	"fmt"
	"strings"

	"github.com/gridsx/pipegos/event"
)

type OpKind int

const (
	OpUpsert OpKind = iota
	OpDelete
)

// Operation is the idempotent store command a change event maps to.
type Operation struct {
	Kind OpKind
	ID   string
	Doc  event.Row
}

// Transformer maps change events to document operations. An empty Fields
// list keeps the whole row image; otherwise only the named columns survive.
type Transformer struct {
	Fields []string
}

// DocID derives a stable document id from the key image, joining the
// primary key values in key-column order.
func DocID(e *event.ChangeEvent) (string, error) {
	if len(e.KeyColumns) == 0 {
		return "", fmt.Errorf("event %s.%s has no key columns", e.Source.Database, e.Source.Table)
	}
	parts := make([]string, 0, len(e.KeyColumns))
	for _, col := range e.KeyColumns {
		v, ok := e.Key[col]
		if !ok {
			return "", fmt.Errorf("event %s.%s key image misses column %s", e.Source.Database, e.Source.Table, col)
		}
		parts = append(parts, event.FormatValue(v))
	}
	return strings.Join(parts, "_"), nil
}

// Transform converts a change event into the operation the document store
// should apply. Inserts, updates and snapshot reads all become upserts of
// the after image; deletes become deletes addressed by the key the event
// carries, which the capture side derived from the before image.
func (t *Transformer) Transform(e *event.ChangeEvent) (Operation, error) {
	id, err := DocID(e)
	if err != nil {
		return Operation{}, err
	}
	switch e.Op {
	case event.OpInsert, event.OpUpdate, event.OpSnapshot:
		if e.After == nil {
			return Operation{}, fmt.Errorf("%s event %s.%s misses after image", e.Op.Name(), e.Source.Database, e.Source.Table)
		}
		return Operation{Kind: OpUpsert, ID: id, Doc: t.project(e.After)}, nil
	case event.OpDelete:
		return Operation{Kind: OpDelete, ID: id}, nil
	default:
		return Operation{}, fmt.Errorf("unknown op %q for %s.%s", string(e.Op), e.Source.Database, e.Source.Table)
	}
}

func (t *Transformer) project(row event.Row) event.Row {
	if len(t.Fields) == 0 {
		return row
	}
	out := make(event.Row, len(t.Fields))
	for _, f := range t.Fields {
		if v, ok := row[f]; ok {
			out[f] = v
		}
	}
	return out
}
