package event

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// ErrMissingKey marks a record that cannot be delivered idempotently because
// no stable primary key could be resolved from its row image.
var ErrMissingKey = errors.New("change record has no resolvable primary key")

// Encoder turns ChangeRecords into ChangeEvent envelopes. Encoding is
// deterministic apart from the diagnostic sequence number.
type Encoder struct {
	sourceID string
	seq      atomic.Uint64
}

func NewEncoder(sourceID string) *Encoder {
	return &Encoder{sourceID: sourceID}
}

func (e *Encoder) Encode(r *ChangeRecord) (*ChangeEvent, error) {
	key, err := r.Key()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingKey, err)
	}
	return &ChangeEvent{
		SchemaVersion: SchemaVersion,
		Seq:           e.seq.Add(1),
		Source: Source{
			SourceID: e.sourceID,
			Database: r.Database,
			Table:    r.Table,
			File:     r.Pos.Name,
			Pos:      r.Pos.Pos,
			TsMs:     r.TsMs,
		},
		Op:           r.Op,
		Before:       r.Before,
		After:        r.After,
		Key:          key,
		KeyColumns:   append([]string(nil), r.PKColumns...),
		PartitionKey: PartitionKey(r.PKColumns, key),
	}, nil
}

// PartitionKey hashes the primary key values in column order so that all
// events of one row land in the same partition, across restarts.
func PartitionKey(cols []string, key Row) string {
	d := xxhash.New()
	for _, col := range cols {
		_, _ = d.WriteString(col)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(FormatValue(key[col]))
		_, _ = d.Write([]byte{0})
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// FormatValue renders a column value the same way before and after a JSON
// round trip, so partition keys and document ids stay stable end to end.
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", v)
	}
}
