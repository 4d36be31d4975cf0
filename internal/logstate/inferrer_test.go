package logstate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/plc-datalink/rfc1006/internal/apperr"
	"github.com/plc-datalink/rfc1006/internal/models"
)

const (
	lineInitPlugins  = `2024-05-01T10:00:00Z I! [agent] Initializing plugins`
	lineStartService = `2024-05-01T10:00:01Z I! [agent] Starting service inputs`
	lineConnecting   = `2024-05-01T10:00:02Z D! [inputs.s7comm] Connecting to "10.0.0.7:102"...`
	lineData1        = `2024-05-01T10:00:03Z D! [inputs.s7comm]   got [0] for field "press-01.speed"`
	lineTimeout      = `2024-05-01T10:00:04Z E! [inputs.s7comm] Error in plugin: connecting to "10.0.0.7:102" failed: dial tcp 10.0.0.7:102: i/o timeout`
	lineData2        = `2024-05-01T10:00:05Z D! [inputs.s7comm]   got [1] for field "press-01.speed"`
	lineData3        = `2024-05-01T10:00:06Z D! [inputs.s7comm]   got [2] for field "press-01.speed"`
	lineStopping     = `2024-05-01T10:00:07Z I! [agent] Stopping running outputs`
	lineStopped      = `2024-05-01T10:00:08Z D! [agent] Stopped Successfully`
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line           string
		wantConnect    bool
		wantDisconnect bool
	}{
		{lineInitPlugins, false, false},
		{lineStartService, false, false},
		{lineConnecting, false, false},
		{`2024-05-01T10:00:00Z I! [agent] Successfully connected to outputs.mqtt`, false, false},
		{lineData1, true, false},
		{lineTimeout, false, true},
		{`2024-05-01T10:00:00Z E! [inputs.s7comm] reading batch 0 failed: Connection to address 10.0.0.7:102 is null; reconnecting...`, false, true},
		{`2024-05-01T10:00:00Z E! [telegraf] Error running agent: starting input inputs.s7comm: connecting to "10.0.0.7:102" failed: dial tcp 10.0.0.7:102: i/o timeout`, false, true},
		// The trailing dots match any three characters.
		{`2024-05-01T10:00:00Z E! [inputs.s7comm] reading batch 3 failed: Connection to address 10.0.0.7:102 is null; reconnecting (1)`, false, true},
		{`2024-05-01T10:00:00Z E! [inputs.s7comm] reading batch 3 failed: Connection to address 10.0.0.7:102 is null; reconnecting`, false, false},
		{lineStopping, false, true},
		{lineStopped, false, true},
		{`2024-05-01T10:00:00Z W! [outputs.mqtt] buffer fullness: 0 / 10000 metrics`, false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		c, d := Classify(tt.line)
		if c != tt.wantConnect || d != tt.wantDisconnect {
			t.Errorf("Classify(%q) = (%v, %v), want (%v, %v)", tt.line, c, d, tt.wantConnect, tt.wantDisconnect)
		}
	}
}

func TestMatch(t *testing.T) {
	got := Match(lineConnecting)
	if len(got) != 1 || got[0] != "successful_connection" {
		t.Errorf("Match = %v, want [successful_connection]", got)
	}
	if got := Match("nothing here"); len(got) != 0 {
		t.Errorf("Match = %v, want none", got)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  models.ConnectionState
	}{
		{
			name:  "empty window",
			lines: nil,
			want:  models.ConnectionState{},
		},
		{
			name:  "only informational lines",
			lines: []string{lineInitPlugins, lineStartService, lineConnecting},
			want:  models.ConnectionState{},
		},
		{
			name:  "data received only",
			lines: []string{lineInitPlugins, lineConnecting, lineData1},
			want: models.ConnectionState{
				Active:      true,
				LastUpdate:  "2024-05-01T10:00:03",
				LastConnect: "2024-05-01T10:00:03",
			},
		},
		{
			name:  "stopped after data",
			lines: []string{lineData1, lineStopped},
			want: models.ConnectionState{
				Active:         false,
				LastUpdate:     "2024-05-01T10:00:08",
				LastConnect:    "2024-05-01T10:00:03",
				LastDisconnect: "2024-05-01T10:00:08",
			},
		},
		{
			// The oldest data line wins the reverse scan, so a recovery after
			// the timeout is not seen.
			name:  "recovery after timeout",
			lines: []string{lineData1, lineTimeout, lineData2, lineData3},
			want: models.ConnectionState{
				Active:         false,
				LastUpdate:     "2024-05-01T10:00:04",
				LastConnect:    "2024-05-01T10:00:03",
				LastDisconnect: "2024-05-01T10:00:04",
			},
		},
		{
			name:  "repeated data keeps the oldest",
			lines: []string{lineData1, lineData2, lineData3},
			want: models.ConnectionState{
				Active:      true,
				LastUpdate:  "2024-05-01T10:00:03",
				LastConnect: "2024-05-01T10:00:03",
			},
		},
		{
			name:  "timeout before first data",
			lines: []string{lineTimeout, lineData2},
			want: models.ConnectionState{
				Active:         true,
				LastUpdate:     "2024-05-01T10:00:05",
				LastConnect:    "2024-05-01T10:00:05",
				LastDisconnect: "2024-05-01T10:00:04",
			},
		},
		{
			name:  "disconnects only",
			lines: []string{lineStopping, lineStopped},
			want: models.ConnectionState{
				LastUpdate:     "2024-05-01T10:00:07",
				LastDisconnect: "2024-05-01T10:00:07",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.lines); got != tt.want {
				t.Errorf("Resolve = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func writeLog(t *testing.T, dir, machine string, lines ...string) {
	t.Helper()
	data := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, machine+".log"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestInfer_MissingLog(t *testing.T) {
	inf := New(t.TempDir(), 0, zap.NewNop())
	got, err := inf.Infer("press-01")
	if err != nil {
		t.Fatal(err)
	}
	if got != (models.ConnectionState{}) {
		t.Errorf("Infer = %+v, want inactive with no timestamps", got)
	}
}

func TestInfer_FromFile(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "press-01", lineInitPlugins, lineConnecting, lineData1)

	got, err := New(dir, 0, zap.NewNop()).Infer("press-01")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Active || got.LastUpdate != "2024-05-01T10:00:03" {
		t.Errorf("Infer = %+v, want active since 2024-05-01T10:00:03", got)
	}
}

func TestInfer_WindowLimit(t *testing.T) {
	dir := t.TempDir()
	lines := []string{lineData1}
	for i := 0; i < DefaultTailLines; i++ {
		lines = append(lines, fmt.Sprintf("2024-05-01T11:%02d:00Z D! [outputs.mqtt] wrote batch of %d metrics", i%60, i))
	}
	writeLog(t, dir, "press-01", lines...)

	got, err := New(dir, 0, zap.NewNop()).Infer("press-01")
	if err != nil {
		t.Fatal(err)
	}
	if got != (models.ConnectionState{}) {
		t.Errorf("Infer = %+v, want data line outside the window to be ignored", got)
	}

	got, err = New(dir, DefaultTailLines+1, zap.NewNop()).Infer("press-01")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Active {
		t.Errorf("Infer with wider window = %+v, want active", got)
	}
}

func TestInfer_InvalidName(t *testing.T) {
	_, err := New(t.TempDir(), 0, zap.NewNop()).Infer("../secret")
	if got := apperr.Kind(err); got != "validation" {
		t.Errorf("Kind(err) = %q, want validation", got)
	}
}

func TestInfer_Unreadable(t *testing.T) {
	dir := t.TempDir()
	// A directory where the log should be cannot be read as a file.
	if err := os.Mkdir(filepath.Join(dir, "press-01.log"), 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := New(dir, 0, zap.NewNop()).Infer("press-01")
	if got := apperr.Kind(err); got != "io" {
		t.Errorf("Kind(err) = %q, want io", got)
	}
}
