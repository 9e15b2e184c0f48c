package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gridsx/pipegos/event"
)

const (
	createDocTableSql = "CREATE TABLE IF NOT EXISTS `%s` (doc_id VARCHAR(255) PRIMARY KEY, doc JSON NOT NULL, updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP)"
	upsertDocSql      = "REPLACE INTO `%s` (doc_id, doc) VALUES (?, ?)"
	deleteDocSql      = "DELETE FROM `%s` WHERE doc_id = ?"
)

// MySQLStore keeps documents in one (doc_id, doc) table per index.
// REPLACE INTO makes the upsert idempotent, DELETE of an absent id is a
// no-op by nature.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) ensureTable(ctx context.Context, index string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(createDocTableSql, index))
	return err
}

func (s *MySQLStore) Upsert(ctx context.Context, index, id string, doc event.Row) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err := s.ensureTable(ctx, index); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(upsertDocSql, index), id, string(data))
	return err
}

func (s *MySQLStore) Delete(ctx context.Context, index, id string) error {
	if err := s.ensureTable(ctx, index); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(deleteDocSql, index), id)
	return err
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
