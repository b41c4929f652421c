package diag

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProfile struct{}

func (fakeProfile) WriteTo(w io.Writer, debug int) error {
	_, err := w.Write([]byte("goroutine profile: total 1\n"))
	return err
}

func newTestWatchdog(t *testing.T, progress *int64, now *time.Time) *Watchdog {
	t.Helper()
	return NewWatchdog(Options{
		StallThreshold:  time.Second,
		Dir:             t.TempDir(),
		ProgressFn:      func() int64 { return atomic.LoadInt64(progress) },
		NowFn:           func() time.Time { return *now },
		ProfileLookupFn: func(name string) profileWriter { return fakeProfile{} },
	})
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWatchdogDumpsOnStall(t *testing.T) {
	var progress int64
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	w := newTestWatchdog(t, &progress, &now)
	w.lastProgress = 0
	w.lastProgressAt = now

	now = now.Add(2 * time.Second)
	w.probe(now)

	names := listFiles(t, w.dir)
	var hasEvent, hasProfile bool
	for _, name := range names {
		if strings.HasPrefix(name, "appvet-stall-") {
			hasEvent = true
		}
		if strings.HasSuffix(name, ".pprof") {
			hasProfile = true
		}
	}
	if !hasEvent || !hasProfile {
		t.Fatalf("artifacts = %v", names)
	}

	data, err := os.ReadFile(filepath.Join(w.dir, names[0]))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "validation_stalled") && !strings.Contains(string(data), "goroutine") {
		t.Fatalf("unexpected artifact content: %s", data)
	}
}

func TestWatchdogQuietWhileProgressing(t *testing.T) {
	var progress int64
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	w := newTestWatchdog(t, &progress, &now)
	w.lastProgress = 0
	w.lastProgressAt = now

	// Progress moves between probes, so nothing should ever dump.
	for i := 0; i < 5; i++ {
		atomic.AddInt64(&progress, 1)
		now = now.Add(2 * time.Second)
		w.probe(now)
	}
	if names := listFiles(t, w.dir); len(names) != 0 {
		t.Fatalf("unexpected artifacts: %v", names)
	}
}

func TestWatchdogRateLimitsDumps(t *testing.T) {
	var progress int64
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	w := newTestWatchdog(t, &progress, &now)
	w.lastProgress = 0
	w.lastProgressAt = now

	now = now.Add(2 * time.Second)
	w.probe(now)
	// Still stalled, but inside the rate-limit window.
	now = now.Add(100 * time.Millisecond)
	w.probe(now)

	var events int
	for _, name := range listFiles(t, w.dir) {
		if strings.HasPrefix(name, "appvet-stall-") {
			events++
		}
	}
	if events != 1 {
		t.Fatalf("events = %d, want exactly 1", events)
	}
}

func TestWatchdogDisabledWithoutThreshold(t *testing.T) {
	w := NewWatchdog(Options{Dir: t.TempDir()})
	w.Start(context.Background())
	if w.stopCh != nil {
		t.Fatal("watchdog must stay inert without a threshold and progress fn")
	}
	w.Close()
}
