package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"chatline/internal/message"
)

// RecordStore is the tree-structured store the handler and hub work against.
type RecordStore interface {
	Push(ctx context.Context, node string) (string, error)
	Get(ctx context.Context, node, key string) (json.RawMessage, error)
	Set(ctx context.Context, node, key string, value json.RawMessage) error
	Remove(ctx context.Context, node, key string) (bool, error)
	Snapshot(ctx context.Context, node string) ([]message.Child, error)
}

type Repository struct {
	db   *sql.DB
	keys *snowflake.Node
}

func NewRepository(db *sql.DB, nodeID int64) (*Repository, error) {
	keys, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &Repository{db: db, keys: keys}, nil
}

// Push hands out a fresh key without writing anything. Keys are
// time-ordered, so sorting by them follows creation order.
func (r *Repository) Push(_ context.Context, _ string) (string, error) {
	return r.keys.Generate().String(), nil
}

func (r *Repository) Get(ctx context.Context, node, key string) (json.RawMessage, error) {
	var value []byte
	query := "SELECT value FROM records WHERE node = $1 AND key = $2"
	err := r.db.QueryRowContext(ctx, query, node, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// Set writes value under key. An existing record keeps its position.
func (r *Repository) Set(ctx context.Context, node, key string, value json.RawMessage) error {
	query := `
		INSERT INTO records (node, key, seq, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (node, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.db.ExecContext(ctx, query, node, key, r.seqFor(key), []byte(value))
	return err
}

// Keys outside this window are not taken for pushed keys even if they parse.
var (
	oldestPushKey = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	keyClockSkew  = time.Hour
)

// seqFor orders pushed keys by their embedded time; any other key is placed
// after everything written so far.
func (r *Repository) seqFor(key string) int64 {
	if id, ok := pushedKey(key, time.Now()); ok {
		return id.Int64()
	}
	return r.keys.Generate().Int64()
}

func pushedKey(key string, now time.Time) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(key)
	if err != nil || id <= 0 || id.String() != key {
		return 0, false
	}
	at := time.UnixMilli(id.Time())
	if at.Before(oldestPushKey) || at.After(now.Add(keyClockSkew)) {
		return 0, false
	}
	return id, true
}

func (r *Repository) Remove(ctx context.Context, node, key string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM records WHERE node = $1 AND key = $2", node, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repository) Snapshot(ctx context.Context, node string) ([]message.Child, error) {
	query := "SELECT key, value FROM records WHERE node = $1 ORDER BY seq, key"
	rows, err := r.db.QueryContext(ctx, query, node)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	children := []message.Child{}
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		children = append(children, message.Child{Key: key, Value: value})
	}
	return children, rows.Err()
}
