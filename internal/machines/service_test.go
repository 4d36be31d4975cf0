package machines

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/plc-datalink/rfc1006/internal/apperr"
	"github.com/plc-datalink/rfc1006/internal/catalog"
	"github.com/plc-datalink/rfc1006/internal/lifecycle"
	"github.com/plc-datalink/rfc1006/internal/logstate"
	"github.com/plc-datalink/rfc1006/internal/models"
	"github.com/plc-datalink/rfc1006/internal/procscan"
	"github.com/plc-datalink/rfc1006/internal/render"
	"github.com/plc-datalink/rfc1006/internal/store"
)

// procTable is a fake process table shared by the controller and catalog.
type procTable struct {
	mu    sync.Mutex
	next  int32
	procs map[int32]string
}

func (p *procTable) Find(_ context.Context, path string) (models.ProcessHandle, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for pid, cfg := range p.procs {
		if cfg == path {
			return models.ProcessHandle{MachineName: machineOf(cfg), PID: pid}, true, nil
		}
	}
	return models.ProcessHandle{}, false, nil
}

func (p *procTable) ListAll(context.Context) ([]models.ProcessHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.ProcessHandle
	for pid, cfg := range p.procs {
		out = append(out, models.ProcessHandle{MachineName: machineOf(cfg), PID: pid})
	}
	return out, nil
}

func (p *procTable) Launch(_ context.Context, path string) (int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.procs[p.next] = path
	return p.next, nil
}

func (p *procTable) Terminate(_ context.Context, pid int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.procs[pid]; !ok {
		return procscan.ErrProcessGone
	}
	delete(p.procs, pid)
	return nil
}

func (p *procTable) Kill(ctx context.Context, pid int32) error { return p.Terminate(ctx, pid) }

func (p *procTable) Alive(_ context.Context, pid int32) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.procs[pid]
	return ok, nil
}

func machineOf(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".conf")
}

type fixture struct {
	svc   *Service
	dir   string
	procs *procTable
	store store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "profiles.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	procs := &procTable{next: 1000, procs: map[int32]string{}}
	ctl := lifecycle.New(render.NewWriter(dir, ".conf", logger), procs, procs, procs, lifecycle.Options{}, logger)
	cat := catalog.New(dir, ".conf", procs, logger)
	inf := logstate.New(dir, 0, logger)

	return &fixture{svc: New(st, ctl, cat, inf, logger), dir: dir, procs: procs, store: st}
}

func (f *fixture) writeLog(t *testing.T, machine, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.dir, machine+".log"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testProfile(name string) models.MachineProfile {
	return models.MachineProfile{
		Agent: models.AgentSettings{
			FlushInterval: models.DefaultFlushInterval,
			Hostname:      models.DefaultHostname,
			LogTimezone:   models.DefaultLogTimezone,
			RoundInterval: true,
		},
		Connection: models.ConnectionParams{
			MachineName:     name,
			MachineState:    models.DefaultMachineState,
			PDUSize:         960,
			PLCIP:           "10.0.0.7",
			PLCPort:         102,
			PLCSlot:         1,
			RequestInterval: 5,
			RequestTimeout:  models.DefaultRequestTimeout,
		},
		Sink: models.SinkParams{
			DataFormat:     models.DefaultDataFormat,
			BrokerIP:       "10.0.0.2",
			TimestampUnits: models.DefaultTimestampUnits,
			Layout:         models.DefaultLayout,
			BrokerPort:     1883,
			Topic:          "plant/" + name,
		},
		Tags: []models.Tag{{Name: "speed", Address: "DB1.W0"}},
	}
}

func TestCreateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.CreateProfile(ctx, testProfile("press-01"))
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != "press-01" || doc.Rev == "" {
		t.Errorf("CreateProfile = %+v, want stored document", doc)
	}

	_, err = f.svc.CreateProfile(ctx, testProfile("press-01"))
	if got := apperr.Kind(err); got != "conflict" {
		t.Errorf("duplicate Kind = %q, want conflict", got)
	}

	bad := testProfile("lathe")
	bad.Tags = []models.Tag{{Name: "", Address: "DB1.W0"}}
	_, err = f.svc.CreateProfile(ctx, bad)
	if got := apperr.Kind(err); got != "validation" {
		t.Errorf("invalid Kind = %q, want validation", got)
	}
	if _, err := f.store.Get(ctx, "lathe"); apperr.Kind(err) != "not_found" {
		t.Errorf("invalid profile reached the store: %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateProfile(ctx, testProfile("press-01"))
	if k := apperr.Kind(err); k != "not_found" {
		t.Fatalf("update of missing Kind = %q, want not_found", k)
	}

	created, err := f.svc.CreateProfile(ctx, testProfile("press-01"))
	if err != nil {
		t.Fatal(err)
	}
	p := testProfile("press-01")
	p.Sink.Topic = "plant/b/press-01"
	updated, err := f.svc.UpdateProfile(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Rev == created.Rev || updated.Sink.Topic != "plant/b/press-01" {
		t.Errorf("UpdateProfile = %+v, want new revision with new topic", updated)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, "press-01")
	if k := apperr.Kind(err); k != "not_found" {
		t.Fatalf("start without profile Kind = %q, want not_found", k)
	}

	if _, err := f.svc.CreateProfile(ctx, testProfile("press-01")); err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.Start(ctx, "press-01")
	if err != nil {
		t.Fatal(err)
	}

	active, err := f.svc.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].MachineName != "press-01" || active[0].PID != res.PID {
		t.Errorf("Active = %+v, want press-01 pid %d", active, res.PID)
	}
	configured, err := f.svc.Configured()
	if err != nil {
		t.Fatal(err)
	}
	if len(configured) != 1 || configured[0] != "press-01" {
		t.Errorf("Configured = %v, want [press-01]", configured)
	}

	stop, err := f.svc.Stop(ctx, "press-01")
	if err != nil {
		t.Fatal(err)
	}
	if stop.Outcome != lifecycle.Stopped {
		t.Errorf("Outcome = %v, want stopped", stop.Outcome)
	}
	stop, err = f.svc.Stop(ctx, "press-01")
	if err != nil {
		t.Fatal(err)
	}
	if stop.Outcome != lifecycle.NothingToStop {
		t.Errorf("second Outcome = %v, want nothing_to_stop", stop.Outcome)
	}

	_, err = f.svc.Stop(ctx, "lathe")
	if k := apperr.Kind(err); k != "not_found" {
		t.Errorf("stop without profile Kind = %q, want not_found", k)
	}
}

func TestRemoveProfile_Guard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateProfile(ctx, testProfile("press-01")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Start(ctx, "press-01"); err != nil {
		t.Fatal(err)
	}
	f.writeLog(t, "press-01", "2024-05-01T10:00:00Z I! [agent] Starting service inputs\n")

	err := f.svc.RemoveProfile(ctx, "press-01")
	if k := apperr.Kind(err); k != "conflict" {
		t.Fatalf("remove while running Kind = %q, want conflict", k)
	}
	if _, err := f.store.Get(ctx, "press-01"); err != nil {
		t.Errorf("profile deleted despite conflict: %v", err)
	}

	if _, err := f.svc.Stop(ctx, "press-01"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.RemoveProfile(ctx, "press-01"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Get(ctx, "press-01"); apperr.Kind(err) != "not_found" {
		t.Errorf("profile still stored: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "press-01.log")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("log still present: %v", err)
	}

	err = f.svc.RemoveProfile(ctx, "press-01")
	if k := apperr.Kind(err); k != "not_found" {
		t.Errorf("second remove Kind = %q, want not_found", k)
	}
}

func TestRemoveMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateProfile(ctx, testProfile("lathe")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Start(ctx, "lathe"); err != nil {
		t.Fatal(err)
	}
	f.writeLog(t, "lathe", "")

	if k := apperr.Kind(f.svc.RemoveMachine(ctx, "lathe")); k != "conflict" {
		t.Errorf("remove running machine Kind = %q, want conflict", k)
	}
	if _, err := f.svc.Stop(ctx, "lathe"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.RemoveMachine(ctx, "lathe"); err != nil {
		t.Fatal(err)
	}
	standby, err := f.svc.Standby()
	if err != nil {
		t.Fatal(err)
	}
	if len(standby) != 0 {
		t.Errorf("Standby = %v, want empty", standby)
	}
	// The profile survives; only the log goes.
	if _, err := f.svc.GetProfile(ctx, "lathe"); err != nil {
		t.Errorf("GetProfile after RemoveMachine: %v", err)
	}
}

func TestState(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "press-01", `2024-05-01T10:00:03Z D! [inputs.s7comm]   got [0] for field "press-01.speed"`+"\n")

	st, err := f.svc.State("press-01")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Active || st.LastUpdate != "2024-05-01T10:00:03" {
		t.Errorf("State = %+v, want active", st)
	}
}

func TestResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"press-01", "lathe"} {
		if _, err := f.svc.CreateProfile(ctx, testProfile(name)); err != nil {
			t.Fatal(err)
		}
		if _, err := f.svc.Start(ctx, name); err != nil {
			t.Fatal(err)
		}
	}
	// Simulate a host reboot: the processes are gone, the files remain.
	f.procs.procs = map[int32]string{}

	results, err := f.svc.Resume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("Resume = %+v, want 2 results", results)
	}
	overview, err := f.svc.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(overview.Active) != 2 || len(overview.Idle) != 0 {
		t.Errorf("Overview = %+v, want both machines active", overview)
	}
}

func TestGetProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GetProfile(ctx, "press-01"); apperr.Kind(err) != "not_found" {
		t.Errorf("GetProfile err = %v, want not_found", err)
	}
	if _, err := f.svc.GetProfile(ctx, ""); apperr.Kind(err) != "validation" {
		t.Errorf("GetProfile(\"\") err = %v, want validation", err)
	}
	if _, err := f.svc.CreateProfile(ctx, testProfile("press-01")); err != nil {
		t.Fatal(err)
	}
	docs, err := f.svc.ListProfiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Errorf("ListProfiles = %d docs, want 1", len(docs))
	}
}
