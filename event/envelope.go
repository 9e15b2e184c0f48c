package event

// SchemaVersion is bumped whenever the envelope layout changes.
const SchemaVersion = 1

// Source identifies where an event was captured and at which binlog position.
type Source struct {
	SourceID string `json:"sourceId"`
	Database string `json:"db"`
	Table    string `json:"table"`
	File     string `json:"file"`
	Pos      uint32 `json:"pos"`
	TsMs     int64  `json:"tsMs"`
}

// ChangeEvent is the envelope persisted in the event log. It is immutable
// once published; Seq is assigned per encoder instance and is diagnostic
// only, ordering comes from the partition offset.
type ChangeEvent struct {
	SchemaVersion int      `json:"schemaVersion"`
	Seq           uint64   `json:"seq"`
	Source        Source   `json:"source"`
	Op            Op       `json:"op"`
	Before        Row      `json:"before,omitempty"`
	After         Row      `json:"after,omitempty"`
	Key           Row      `json:"key"`
	KeyColumns    []string `json:"keyColumns"`
	PartitionKey  string   `json:"partitionKey"`
}
