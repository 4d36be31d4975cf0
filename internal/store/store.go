// Package store persists machine profile documents. Two backends exist: a
// CouchDB database, which is what deployed installations use, and an embedded
// SQLite file with the same revision semantics for single-host setups.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plc-datalink/rfc1006/internal/apperr"
	"github.com/plc-datalink/rfc1006/internal/models"
)

// Drivers accepted by Open.
const (
	DriverCouchDB = "couchdb"
	DriverSQLite  = "sqlite"
)

// Document is a stored machine profile. The document ID is the machine name
// and Rev changes on every write; a write must name the current Rev.
type Document struct {
	ID  string `json:"_id"`
	Rev string `json:"_rev,omitempty"`
	models.MachineProfile
}

// Store is the profile document store.
type Store interface {
	// Get returns the document for a machine, or a NotFound error.
	Get(ctx context.Context, id string) (Document, error)
	// List returns all documents ordered by ID.
	List(ctx context.Context) ([]Document, error)
	// Create stores a new document. It fails with Conflict if one exists.
	Create(ctx context.Context, p models.MachineProfile) (Document, error)
	// Update replaces the document at rev. A stale rev fails with Conflict.
	Update(ctx context.Context, p models.MachineProfile, rev string) (Document, error)
	// Delete removes the document at rev.
	Delete(ctx context.Context, id, rev string) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver     string
	URL        string
	User       string
	Password   string
	Database   string
	SQLitePath string
	Timeout    time.Duration
}

// Open connects to the configured backend.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Store, error) {
	switch opts.Driver {
	case DriverCouchDB:
		c := NewCouchDB(opts.URL, opts.Database, opts.User, opts.Password, opts.Timeout, logger)
		if err := c.EnsureDatabase(ctx); err != nil {
			return nil, err
		}
		return c, nil
	case DriverSQLite:
		return OpenSQLite(opts.SQLitePath, logger)
	default:
		return nil, apperr.Validation("unknown store driver %q", opts.Driver)
	}
}

// nextRev returns the revision following rev, "<generation>-<random hex>".
func nextRev(rev string) string {
	gen := 0
	if head, _, ok := strings.Cut(rev, "-"); ok {
		gen, _ = strconv.Atoi(head)
	}
	return fmt.Sprintf("%d-%s", gen+1, strings.ReplaceAll(uuid.NewString(), "-", ""))
}
