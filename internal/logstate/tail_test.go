package logstate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTailLines(t *testing.T) {
	var all []string
	for i := 0; i < 500; i++ {
		all = append(all, fmt.Sprintf("2024-05-01T10:00:00Z I! line %03d with some padding to cross block boundaries", i))
	}

	tests := []struct {
		name    string
		content string
		n       int
		want    []string
	}{
		{"empty file", "", 10, nil},
		{"fewer lines than requested", "a\nb\n", 10, []string{"a", "b"}},
		{"no trailing newline", "a\nb\nc", 2, []string{"b", "c"}},
		{"crlf", "a\r\nb\r\n", 5, []string{"a", "b"}},
		{"zero requested", "a\nb\n", 0, nil},
		{"many blocks", strings.Join(all, "\n") + "\n", 50, all[450:]},
		{"whole large file", strings.Join(all, "\n") + "\n", 1000, all},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "m.log")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			got, err := TailLines(path, tt.n)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("TailLines returned %d lines, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("line %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTailLines_Missing(t *testing.T) {
	if _, err := TailLines(filepath.Join(t.TempDir(), "absent.log"), 5); !os.IsNotExist(err) {
		t.Errorf("err = %v, want not-exist", err)
	}
}
