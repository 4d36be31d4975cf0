package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/containerd/errdefs"
	"go.uber.org/zap"
)

// fakeCouch implements the subset of the CouchDB API the client uses.
type fakeCouch struct {
	mu      sync.Mutex
	created bool
	docs    map[string]map[string]any
	gen     int
}

func (f *fakeCouch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if user, pass, ok := r.BasicAuth(); !ok || user != "admin" || pass != "secret" {
		reply(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "reason": "Name or password is incorrect."})
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/profiles")
	switch {
	case path == "" && r.Method == http.MethodPut:
		if f.created {
			reply(w, http.StatusPreconditionFailed, map[string]string{"error": "file_exists", "reason": "The database could not be created, the file already exists."})
			return
		}
		f.created = true
		reply(w, http.StatusCreated, map[string]bool{"ok": true})
	case path == "/_all_docs" && r.Method == http.MethodGet:
		ids := make([]string, 0, len(f.docs))
		for id := range f.docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		rows := []map[string]any{{"id": "_design/views", "doc": map[string]any{"_id": "_design/views"}}}
		for _, id := range ids {
			rows = append(rows, map[string]any{"id": id, "doc": f.docs[id]})
		}
		reply(w, http.StatusOK, map[string]any{"total_rows": len(rows), "rows": rows})
	default:
		id := strings.TrimPrefix(path, "/")
		f.doc(w, r, id)
	}
}

func (f *fakeCouch) doc(w http.ResponseWriter, r *http.Request, id string) {
	cur, exists := f.docs[id]
	switch r.Method {
	case http.MethodGet:
		if !exists {
			reply(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "missing"})
			return
		}
		reply(w, http.StatusOK, cur)
	case http.MethodPut:
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			reply(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "reason": err.Error()})
			return
		}
		rev, _ := body["_rev"].(string)
		if exists && rev != cur["_rev"] || !exists && rev != "" {
			reply(w, http.StatusConflict, map[string]string{"error": "conflict", "reason": "Document update conflict."})
			return
		}
		f.gen++
		body["_rev"] = fmt.Sprintf("%d-fake", f.gen)
		f.docs[id] = body
		reply(w, http.StatusCreated, map[string]any{"ok": true, "id": id, "rev": body["_rev"]})
	case http.MethodDelete:
		if !exists {
			reply(w, http.StatusNotFound, map[string]string{"error": "not_found", "reason": "deleted"})
			return
		}
		if r.URL.Query().Get("rev") != cur["_rev"] {
			reply(w, http.StatusConflict, map[string]string{"error": "conflict", "reason": "Document update conflict."})
			return
		}
		delete(f.docs, id)
		reply(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestCouch(t *testing.T) (*CouchDB, *fakeCouch) {
	t.Helper()
	fake := &fakeCouch{docs: map[string]map[string]any{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c := NewCouchDB(srv.URL+"/", "profiles", "admin", "secret", 0, zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })
	return c, fake
}

func TestCouchDB_EnsureDatabase(t *testing.T) {
	c, fake := newTestCouch(t)
	ctx := context.Background()

	if err := c.EnsureDatabase(ctx); err != nil {
		t.Fatal(err)
	}
	if !fake.created {
		t.Error("database not created")
	}
	if err := c.EnsureDatabase(ctx); err != nil {
		t.Errorf("EnsureDatabase on existing database = %v, want nil", err)
	}
}

func TestCouchDB_Lifecycle(t *testing.T) {
	c, _ := newTestCouch(t)
	ctx := context.Background()

	created, err := c.Create(ctx, testProfile("press-01"))
	if err != nil {
		t.Fatal(err)
	}
	if created.Rev != "1-fake" {
		t.Errorf("created rev = %q, want 1-fake", created.Rev)
	}
	if _, err := c.Create(ctx, testProfile("press-01")); !errdefs.IsConflict(err) {
		t.Errorf("duplicate Create err = %v, want conflict", err)
	}

	got, err := c.Get(ctx, "press-01")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "press-01" || got.Connection.PLCIP != "10.0.0.7" || got.Tags[0].Address != "DB1.W0" {
		t.Errorf("Get = %+v, want stored profile", got)
	}

	p := testProfile("press-01")
	p.Connection.PLCSlot = 2
	updated, err := c.Update(ctx, p, got.Rev)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Update(ctx, p, got.Rev); !errdefs.IsConflict(err) {
		t.Errorf("stale Update err = %v, want conflict", err)
	}

	docs, err := c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Connection.PLCSlot != 2 {
		t.Errorf("List = %+v, want one updated document and no design docs", docs)
	}

	if err := c.Delete(ctx, "press-01", updated.Rev); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "press-01"); !errdefs.IsNotFound(err) {
		t.Errorf("Get after delete err = %v, want not found", err)
	}
}

func TestCouchDB_Unauthorized(t *testing.T) {
	fake := &fakeCouch{docs: map[string]map[string]any{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewCouchDB(srv.URL, "profiles", "admin", "wrong", 0, zap.NewNop())
	_, err := c.Get(context.Background(), "press-01")
	if !errdefs.IsUnauthorized(err) {
		t.Errorf("err = %v, want unauthorized", err)
	}
	if !strings.Contains(err.Error(), "Name or password is incorrect.") {
		t.Errorf("err = %v, want CouchDB reason in message", err)
	}
}

func TestCouchDB_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewCouchDB(url, "profiles", "", "", 0, zap.NewNop())
	if _, err := c.List(context.Background()); !errdefs.IsUnavailable(err) {
		t.Errorf("err = %v, want unavailable", err)
	}
}
