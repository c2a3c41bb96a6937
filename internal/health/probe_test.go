package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

var ctx = context.Background()

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func passing() CheckFunc { return func(context.Context) error { return nil } }

// --- Fixed ---

func TestFixed(t *testing.T) {
	if err := Fixed(true, "ignored").Check(ctx); err != nil {
		t.Fatalf("ok probe failed: %v", err)
	}
	if err := Fixed(false, "database down").Check(ctx); err == nil || err.Error() != "database down" {
		t.Fatalf("err = %v", err)
	}
	if err := Fixed(false, "").Check(ctx); err == nil || err.Error() != "unhealthy" {
		t.Fatalf("default reason = %v", err)
	}
}

// --- All / Any ---

func TestAll(t *testing.T) {
	tests := []struct {
		name    string
		probes  []Probe
		wantErr string
	}{
		{"empty", nil, ""},
		{"all pass", []Probe{passing(), passing()}, ""},
		{"nil skipped", []Probe{nil, passing(), nil}, ""},
		{"first failure wins", []Probe{passing(), failing("a"), failing("b")}, "a"},
		{"nil before failure", []Probe{nil, failing("x")}, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := All(tt.probes...).Check(ctx)
			if tt.wantErr == "" && err != nil {
				t.Fatalf("err = %v", err)
			}
			if tt.wantErr != "" && (err == nil || err.Error() != tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestAll_ShortCircuits(t *testing.T) {
	called := false
	later := CheckFunc(func(context.Context) error { called = true; return nil })
	_ = All(failing("stop"), later).Check(ctx)
	if called {
		t.Fatal("probe after a failure was evaluated")
	}
}

func TestAny(t *testing.T) {
	tests := []struct {
		name    string
		probes  []Probe
		wantErr string
	}{
		{"one passes", []Probe{failing("a"), passing()}, ""},
		{"all fail returns last", []Probe{failing("a"), failing("b")}, "b"},
		{"empty", nil, "no healthy probes"},
		{"only nil", []Probe{nil, nil}, "no healthy probes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Any(tt.probes...).Check(ctx)
			if tt.wantErr == "" && err != nil {
				t.Fatalf("err = %v", err)
			}
			if tt.wantErr != "" && (err == nil || err.Error() != tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

// --- DirProbe ---

func TestDirProbe(t *testing.T) {
	dir := t.TempDir()
	if err := DirProbe(dir).Check(ctx); err != nil {
		t.Fatalf("existing dir: %v", err)
	}

	file := filepath.Join(dir, "a.css")
	if err := os.WriteFile(file, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := DirProbe(file).Check(ctx); err == nil {
		t.Fatal("file accepted as site root")
	}

	gone := filepath.Join(dir, "gone")
	if err := DirProbe(gone).Check(ctx); err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing dir err = %v", err)
	}
}

// --- ShutdownGate ---

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()

	if err := p.Check(ctx); err != nil {
		t.Fatalf("open gate failed: %v", err)
	}
	g.Set("shutting down")
	if err := p.Check(ctx); err == nil || err.Error() != "shutting down" {
		t.Fatalf("err = %v", err)
	}
	g.Set("")
	if err := p.Check(ctx); err == nil || err.Error() != "draining" {
		t.Fatalf("default reason = %v", err)
	}
	g.Clear()
	if err := p.Check(ctx); err != nil {
		t.Fatalf("cleared gate failed: %v", err)
	}
}

func TestShutdownGate_Concurrent(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); g.Set("drain") }()
		go func() { defer wg.Done(); _ = p.Check(ctx) }()
	}
	wg.Wait()
	if err := p.Check(ctx); err == nil {
		t.Fatal("gate open after Set")
	}
}

func TestReadiness_GateAndRoot(t *testing.T) {
	var g ShutdownGate
	root := filepath.Join(t.TempDir(), "site")
	p := All(g.Probe(), DirProbe(root))

	if err := p.Check(ctx); err == nil {
		t.Fatal("ready without a root")
	}
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := p.Check(ctx); err != nil {
		t.Fatalf("not ready with root: %v", err)
	}
	g.Set("shutting down")
	if err := p.Check(ctx); err == nil || err.Error() != "shutting down" {
		t.Fatalf("gate ignored: %v", err)
	}
}
