package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const changeChannel = "record_changes"

const schema = `
	CREATE TABLE IF NOT EXISTS records (
		path       TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// PostgresStore is a RecordStore backed by a single records table.
// Subscriptions are driven by LISTEN/NOTIFY.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new postgres-backed record store
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the records table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create records table: %w", err)
	}
	return nil
}

// Push implements RecordStore
func (s *PostgresStore) Push(ctx context.Context, path string, value interface{}) (string, error) {
	path, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	key, err := newPushKey()
	if err != nil {
		return "", err
	}
	if err := s.Set(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Set implements RecordStore
func (s *PostgresStore) Set(ctx context.Context, path string, value interface{}) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", path, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// A write replaces its whole subtree and any leaf above it
	deleteQuery := `
		DELETE FROM records
		WHERE left(path, char_length($2)) = $2
		   OR left($1, char_length(path) + 1) = path || '/'
	`
	if _, err := tx.Exec(ctx, deleteQuery, path, path+"/"); err != nil {
		return fmt.Errorf("failed to clear %s: %w", path, err)
	}

	upsertQuery := `
		INSERT INTO records (path, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.Exec(ctx, upsertQuery, path, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changeChannel, path); err != nil {
		return fmt.Errorf("failed to notify change of %s: %w", path, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit write of %s: %w", path, err)
	}
	return nil
}

// Get implements RecordStore
func (s *PostgresStore) Get(ctx context.Context, path string) (Snapshot, error) {
	path, err := cleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}

	query := `
		SELECT path, value
		FROM records
		WHERE path = $1 OR left(path, char_length($2)) = $2
	`
	rows, err := s.db.Query(ctx, query, path, path+"/")
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer rows.Close()

	values := make(map[string]json.RawMessage)
	for rows.Next() {
		var p string
		var value []byte
		if err := rows.Scan(&p, &value); err != nil {
			return Snapshot{}, fmt.Errorf("failed to scan record: %w", err)
		}
		values[p] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("error iterating records: %w", err)
	}

	return assemble(path, values)
}

// Subscribe implements RecordStore. Each subscription holds one pooled connection.
func (s *PostgresStore) Subscribe(ctx context.Context, path string) (<-chan Snapshot, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{changeChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen for changes: %w", err)
	}

	// Read after LISTEN so no change between the two is lost
	snap, err := s.Get(ctx, path)
	if err != nil {
		conn.Release()
		return nil, err
	}

	ch := make(chan Snapshot, 1)
	ch <- snap

	go func() {
		defer close(ch)
		defer s.releaseListener(conn)

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Str("path", path).Msg("Record subscription stopped")
				}
				return
			}
			if !affects(path, notification.Payload) {
				continue
			}
			snap, err := s.Get(ctx, path)
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Str("path", path).Msg("Failed to refresh subscription snapshot")
				continue
			}
			offer(ch, snap)
		}
	}()

	return ch, nil
}

func (s *PostgresStore) releaseListener(conn *pgxpool.Conn) {
	if !conn.Conn().IsClosed() {
		if _, err := conn.Exec(context.Background(), "UNLISTEN *"); err != nil {
			log.Warn().Err(err).Msg("Failed to unlisten record changes")
		}
	}
	conn.Release()
}
