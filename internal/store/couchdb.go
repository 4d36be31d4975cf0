package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/errdefs/pkg/errhttp"
	"go.uber.org/zap"

	"github.com/plc-datalink/rfc1006/internal/models"
)

// defaultRequestTimeout bounds each CouchDB round trip.
const defaultRequestTimeout = 10 * time.Second

// CouchDB stores documents in a CouchDB database over its HTTP API.
type CouchDB struct {
	client   *http.Client
	baseURL  string
	database string
	user     string
	password string
	logger   *zap.Logger
}

// NewCouchDB creates a client for database at baseURL using basic auth.
func NewCouchDB(baseURL, database, user, password string, timeout time.Duration, logger *zap.Logger) *CouchDB {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &CouchDB{
		client:   &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(baseURL, "/"),
		database: database,
		user:     user,
		password: password,
		logger:   logger.Named("couchdb"),
	}
}

// couchError is the error body CouchDB returns with non-2xx responses.
type couchError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type putResponse struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

type allDocsResponse struct {
	Rows []struct {
		ID  string          `json:"id"`
		Doc json.RawMessage `json:"doc"`
	} `json:"rows"`
}

// EnsureDatabase creates the database if it does not exist yet.
func (c *CouchDB) EnsureDatabase(ctx context.Context) error {
	err := c.do(ctx, http.MethodPut, c.dbPath(), nil, nil)
	if err == nil {
		c.logger.Info("Created database", zap.String("database", c.database))
		return nil
	}
	// 412 Precondition Failed: the database already exists.
	if errdefs.IsFailedPrecondition(err) {
		return nil
	}
	return err
}

// Get fetches a document by machine name.
func (c *CouchDB) Get(ctx context.Context, id string) (Document, error) {
	var doc Document
	if err := c.do(ctx, http.MethodGet, c.docPath(id), nil, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// List reads all non-design documents ordered by ID.
func (c *CouchDB) List(ctx context.Context) ([]Document, error) {
	var resp allDocsResponse
	if err := c.do(ctx, http.MethodGet, c.dbPath()+"/_all_docs?include_docs=true", nil, &resp); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if strings.HasPrefix(row.ID, "_design/") {
			continue
		}
		var doc Document
		if err := json.Unmarshal(row.Doc, &doc); err != nil {
			c.logger.Warn("Skipping undecodable document", zap.String("id", row.ID), zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Create stores a new document; an existing one fails with Conflict.
func (c *CouchDB) Create(ctx context.Context, p models.MachineProfile) (Document, error) {
	return c.put(ctx, Document{ID: p.Name(), MachineProfile: p})
}

// Update writes p at rev; CouchDB rejects a stale rev with Conflict.
func (c *CouchDB) Update(ctx context.Context, p models.MachineProfile, rev string) (Document, error) {
	return c.put(ctx, Document{ID: p.Name(), Rev: rev, MachineProfile: p})
}

// Delete removes the document at rev.
func (c *CouchDB) Delete(ctx context.Context, id, rev string) error {
	return c.do(ctx, http.MethodDelete, c.docPath(id)+"?rev="+url.QueryEscape(rev), nil, nil)
}

// Close releases idle connections.
func (c *CouchDB) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *CouchDB) put(ctx context.Context, doc Document) (Document, error) {
	var resp putResponse
	if err := c.do(ctx, http.MethodPut, c.docPath(doc.ID), doc, &resp); err != nil {
		return Document{}, err
	}
	doc.Rev = resp.Rev
	return doc, nil
}

func (c *CouchDB) dbPath() string {
	return "/" + url.PathEscape(c.database)
}

func (c *CouchDB) docPath(id string) string {
	return c.dbPath() + "/" + url.PathEscape(id)
}

// do performs one request. Non-2xx responses are mapped to errdefs classes
// by status code, so 404 is NotFound and 409 is Conflict.
func (c *CouchDB) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("Request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("couchdb %s %s: %w: %w", method, path, errdefs.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ce couchError
		_ = json.Unmarshal(data, &ce)
		reason := ce.Reason
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		native := errhttp.ToNative(resp.StatusCode)
		if native == nil {
			native = errdefs.ErrUnknown
		}
		c.logger.Debug("Request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("reason", reason))
		return fmt.Errorf("couchdb %s %s: %w: %s", method, path, native, reason)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
