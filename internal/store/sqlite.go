package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/plc-datalink/rfc1006/internal/apperr"
	"github.com/plc-datalink/rfc1006/internal/models"
)

// SQLite stores documents in an embedded database file.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create profile store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	// Serialize revision checks and writes.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	rev TEXT NOT NULL,
	doc TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize profile store: %w", err)
		}
	}

	return &SQLite{db: db, logger: logger.Named("sqlite")}, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (Document, error) {
	var rev, doc string
	err := s.db.QueryRowContext(ctx, `SELECT rev, doc FROM profiles WHERE id = ?`, id).Scan(&rev, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, apperr.NotFound("profile %q does not exist", id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("query profile %q: %w", id, err)
	}
	return decodeRow(id, rev, doc)
}

func (s *SQLite) List(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, rev, doc FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		var id, rev, doc string
		if err := rows.Scan(&id, &rev, &doc); err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		d, err := decodeRow(id, rev, doc)
		if err != nil {
			s.logger.Warn("Skipping undecodable profile", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile rows: %w", err)
	}
	return out, nil
}

func (s *SQLite) Create(ctx context.Context, p models.MachineProfile) (Document, error) {
	id := p.Name()
	var doc Document
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, found, err := currentRev(ctx, tx, id)
		if err != nil {
			return err
		}
		if found {
			return apperr.Conflict("profile %q already exists", id)
		}
		doc = Document{ID: id, Rev: nextRev(""), MachineProfile: p}
		return write(ctx, tx, doc, `INSERT INTO profiles (doc, rev, updated_at, id) VALUES (?, ?, ?, ?)`)
	})
	return doc, err
}

func (s *SQLite) Update(ctx context.Context, p models.MachineProfile, rev string) (Document, error) {
	id := p.Name()
	var doc Document
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, found, err := currentRev(ctx, tx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperr.NotFound("profile %q does not exist", id)
		}
		if cur != rev {
			return apperr.Conflict("profile %q revision %q is stale, current is %q", id, rev, cur)
		}
		doc = Document{ID: id, Rev: nextRev(cur), MachineProfile: p}
		return write(ctx, tx, doc, `UPDATE profiles SET doc = ?, rev = ?, updated_at = ? WHERE id = ?`)
	})
	return doc, err
}

func (s *SQLite) Delete(ctx context.Context, id, rev string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		cur, found, err := currentRev(ctx, tx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperr.NotFound("profile %q does not exist", id)
		}
		if cur != rev {
			return apperr.Conflict("profile %q revision %q is stale, current is %q", id, rev, cur)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete profile %q: %w", id, err)
		}
		return nil
	})
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin profile transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit profile transaction: %w", err)
	}
	return nil
}

func currentRev(ctx context.Context, tx *sql.Tx, id string) (string, bool, error) {
	var rev string
	err := tx.QueryRowContext(ctx, `SELECT rev FROM profiles WHERE id = ?`, id).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query profile %q: %w", id, err)
	}
	return rev, true, nil
}

func write(ctx context.Context, tx *sql.Tx, doc Document, stmt string) error {
	payload, err := json.Marshal(doc.MachineProfile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, stmt, string(payload), doc.Rev, now, doc.ID); err != nil {
		return fmt.Errorf("write profile %q: %w", doc.ID, err)
	}
	return nil
}

func decodeRow(id, rev, payload string) (Document, error) {
	doc := Document{ID: id, Rev: rev}
	if err := json.Unmarshal([]byte(payload), &doc.MachineProfile); err != nil {
		return Document{}, fmt.Errorf("unmarshal profile %q: %w", id, err)
	}
	return doc, nil
}
