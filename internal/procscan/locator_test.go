package procscan

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func fakeTable(procs ...Proc) ListFunc {
	return func(context.Context) ([]Proc, error) {
		return procs, nil
	}
}

var table = fakeTable(
	Proc{PID: 1, Cmdline: []string{"/sbin/init"}},
	Proc{PID: 10, Cmdline: []string{"/usr/bin/telegraf", "--config", "/etc/telegraf/telegraf.d/press-01.conf", "--watch-config", "notify"}},
	Proc{PID: 11, Cmdline: []string{"telegraf", "--config=/etc/telegraf/telegraf.d/lathe.conf"}},
	Proc{PID: 12, Cmdline: []string{"/usr/bin/telegraf", "--version"}},
	Proc{PID: 13, Cmdline: []string{"vim", "/etc/telegraf/telegraf.d/press-01.conf"}},
	Proc{PID: 14, Cmdline: []string{"/usr/bin/telegraf", "--config", "/etc/telegraf/telegraf.d/press.02.conf"}},
)

func TestFind(t *testing.T) {
	l := NewWithLister("telegraf", table, zap.NewNop())

	tests := []struct {
		path    string
		wantPID int32
		wantOK  bool
	}{
		{"/etc/telegraf/telegraf.d/press-01.conf", 10, true},
		{"/etc/telegraf/telegraf.d//press-01.conf", 10, true},
		{"/etc/telegraf/telegraf.d/lathe.conf", 11, true},
		{"/etc/telegraf/telegraf.d/press.02.conf", 14, true},
		{"/etc/telegraf/telegraf.d/absent.conf", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			h, ok, err := l.Find(context.Background(), tt.path)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.wantOK || h.PID != tt.wantPID {
				t.Errorf("Find(%q) = (%d, %v), want (%d, %v)", tt.path, h.PID, ok, tt.wantPID, tt.wantOK)
			}
		})
	}
}

func TestFind_IgnoresOtherBinaries(t *testing.T) {
	l := NewWithLister("telegraf", fakeTable(
		Proc{PID: 13, Cmdline: []string{"vim", "/etc/telegraf/telegraf.d/press-01.conf"}},
	), zap.NewNop())

	_, ok, err := l.Find(context.Background(), "/etc/telegraf/telegraf.d/press-01.conf")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Find matched a process of a different binary")
	}
}

func TestListAll(t *testing.T) {
	l := NewWithLister("telegraf", table, zap.NewNop())

	handles, err := l.ListAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int32{"press-01": 10, "lathe": 11, "press.02": 14}
	if len(handles) != len(want) {
		t.Fatalf("ListAll = %+v, want %d handles", handles, len(want))
	}
	for _, h := range handles {
		if want[h.MachineName] != h.PID {
			t.Errorf("handle %s has pid %d, want %d", h.MachineName, h.PID, want[h.MachineName])
		}
	}
}

func TestListAll_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	l := NewWithLister("telegraf", func(context.Context) ([]Proc, error) { return nil, boom }, zap.NewNop())

	if _, err := l.ListAll(context.Background()); !errors.Is(err, boom) {
		t.Errorf("ListAll error = %v, want %v", err, boom)
	}
	if _, _, err := l.Find(context.Background(), "/x.conf"); !errors.Is(err, boom) {
		t.Errorf("Find error = %v, want %v", err, boom)
	}
}

func TestConfigArg(t *testing.T) {
	tests := []struct {
		args   []string
		want   string
		wantOK bool
	}{
		{[]string{"--config", "/a.conf"}, "/a.conf", true},
		{[]string{"--config=/b.conf"}, "/b.conf", true},
		{[]string{"--debug", "--config", "/c.conf", "--watch-config", "poll"}, "/c.conf", true},
		{[]string{"--config"}, "", false},
		{nil, "", false},
	}
	for _, tt := range tests {
		got, ok := configArg(tt.args)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("configArg(%v) = (%q, %v), want (%q, %v)", tt.args, got, ok, tt.want, tt.wantOK)
		}
	}
}
