package event

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertRecord() *ChangeRecord {
	return &ChangeRecord{
		Database:  "shop",
		Table:     "customers",
		Op:        OpInsert,
		After:     Row{"id": int64(7), "name": "alice", "city": "austin"},
		PKColumns: []string{"id"},
		Pos:       mysql.Position{Name: "mysql-bin.000003", Pos: 1024},
		TsMs:      1700000000000,
	}
}

func TestEncodeInsert(t *testing.T) {
	enc := NewEncoder("src-1")
	evt, err := enc.Encode(insertRecord())
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, evt.SchemaVersion)
	assert.Equal(t, "src-1", evt.Source.SourceID)
	assert.Equal(t, "shop", evt.Source.Database)
	assert.Equal(t, "customers", evt.Source.Table)
	assert.Equal(t, "mysql-bin.000003", evt.Source.File)
	assert.Equal(t, OpInsert, evt.Op)
	assert.Nil(t, evt.Before)
	assert.Equal(t, Row{"id": int64(7)}, evt.Key)
	assert.Equal(t, []string{"id"}, evt.KeyColumns)
	assert.NotEmpty(t, evt.PartitionKey)
}

func TestEncodeDeleteKeyFromBeforeImage(t *testing.T) {
	enc := NewEncoder("src-1")
	evt, err := enc.Encode(&ChangeRecord{
		Database:  "shop",
		Table:     "customers",
		Op:        OpDelete,
		Before:    Row{"id": int64(7), "name": "alice"},
		PKColumns: []string{"id"},
	})
	require.NoError(t, err)
	assert.Equal(t, Row{"id": int64(7)}, evt.Key)
	assert.Nil(t, evt.After)
}

// All events of one row must carry the same partition key regardless of the
// operation, or updates and the final delete could land in different
// partitions and be applied out of order.
func TestPartitionKeyStableAcrossOps(t *testing.T) {
	enc := NewEncoder("src-1")

	ins, err := enc.Encode(insertRecord())
	require.NoError(t, err)

	upd, err := enc.Encode(&ChangeRecord{
		Database:  "shop",
		Table:     "customers",
		Op:        OpUpdate,
		Before:    Row{"id": int64(7), "name": "alice"},
		After:     Row{"id": int64(7), "name": "alicia"},
		PKColumns: []string{"id"},
	})
	require.NoError(t, err)

	del, err := enc.Encode(&ChangeRecord{
		Database:  "shop",
		Table:     "customers",
		Op:        OpDelete,
		Before:    Row{"id": int64(7), "name": "alicia"},
		PKColumns: []string{"id"},
	})
	require.NoError(t, err)

	assert.Equal(t, ins.PartitionKey, upd.PartitionKey)
	assert.Equal(t, upd.PartitionKey, del.PartitionKey)
}

// A republished event goes through a JSON round trip that turns integers
// into float64. The partition key has to survive that.
func TestPartitionKeySurvivesJSONRoundTrip(t *testing.T) {
	enc := NewEncoder("src-1")
	evt, err := enc.Encode(insertRecord())
	require.NoError(t, err)

	data, err := json.Marshal(evt)
	require.NoError(t, err)
	var decoded ChangeEvent
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, evt.PartitionKey, PartitionKey(decoded.KeyColumns, decoded.Key))
}

func TestEncodeMissingKey(t *testing.T) {
	enc := NewEncoder("src-1")

	_, err := enc.Encode(&ChangeRecord{
		Database: "shop",
		Table:    "audit_log",
		Op:       OpInsert,
		After:    Row{"msg": "hello"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingKey))

	_, err = enc.Encode(&ChangeRecord{
		Database:  "shop",
		Table:     "customers",
		Op:        OpInsert,
		After:     Row{"name": "alice"},
		PKColumns: []string{"id"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingKey))
}

func TestSeqMonotonic(t *testing.T) {
	enc := NewEncoder("src-1")
	first, err := enc.Encode(insertRecord())
	require.NoError(t, err)
	second, err := enc.Encode(insertRecord())
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "alice", FormatValue("alice"))
	assert.Equal(t, "alice", FormatValue([]byte("alice")))
	assert.Equal(t, "7", FormatValue(int64(7)))
	assert.Equal(t, "7", FormatValue(float64(7)))
	assert.Equal(t, "7.25", FormatValue(float64(7.25)))
	assert.Equal(t, "true", FormatValue(true))
}
