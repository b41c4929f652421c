// Package diag watches long-running validation sweeps and dumps diagnostic
// artifacts when progress stalls, typically because a child process refuses
// to die or an install hangs past its timeout.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"appvet/logger"
)

type profileWriter interface {
	WriteTo(w io.Writer, debug int) error
}

// Options configures a Watchdog. StallThreshold <= 0 or a nil ProgressFn
// disables it entirely.
type Options struct {
	// StallThreshold is how long the progress counter may stay unchanged
	// before artifacts are dumped.
	StallThreshold time.Duration
	// Dir receives the stall event and profile files.
	Dir string
	// ProgressFn returns the number of applications validated so far.
	ProgressFn func() int64

	NowFn           func() time.Time
	ProfileLookupFn func(name string) profileWriter
}

// Watchdog periodically samples a progress counter and writes a stall event
// plus a goroutine profile whenever it stops moving for the threshold.
// Repeated dumps for the same stall are rate-limited to one per threshold.
type Watchdog struct {
	threshold       time.Duration
	dir             string
	progressFn      func() int64
	nowFn           func() time.Time
	profileLookupFn func(name string) profileWriter

	mu             sync.Mutex
	lastProgress   int64
	lastProgressAt time.Time
	lastDumpAt     time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewWatchdog(opts Options) *Watchdog {
	nowFn := opts.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	profileLookup := opts.ProfileLookupFn
	if profileLookup == nil {
		profileLookup = func(name string) profileWriter {
			return pprof.Lookup(name)
		}
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}

	return &Watchdog{
		threshold:       opts.StallThreshold,
		dir:             dir,
		progressFn:      opts.ProgressFn,
		nowFn:           nowFn,
		profileLookupFn: profileLookup,
	}
}

func (w *Watchdog) Start(ctx context.Context) {
	if w == nil || w.threshold <= 0 || w.progressFn == nil || w.stopCh != nil {
		return
	}

	now := w.nowFn()
	w.mu.Lock()
	w.lastProgress = w.progressFn()
	w.lastProgressAt = now
	w.lastDumpAt = time.Time{}
	w.mu.Unlock()

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	interval := w.threshold / 2
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if interval > 2*time.Second {
		interval = 2 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(w.doneCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.probe(w.nowFn())
			}
		}
	}()
}

func (w *Watchdog) Close() {
	if w == nil || w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.stopCh = nil
	w.doneCh = nil
}

func (w *Watchdog) probe(now time.Time) {
	progress := w.progressFn()

	w.mu.Lock()
	if progress != w.lastProgress {
		w.lastProgress = progress
		w.lastProgressAt = now
		w.mu.Unlock()
		return
	}
	stalledFor := now.Sub(w.lastProgressAt)
	shouldDump := stalledFor >= w.threshold &&
		(w.lastDumpAt.IsZero() || now.Sub(w.lastDumpAt) >= w.threshold)
	if shouldDump {
		w.lastDumpAt = now
	}
	w.mu.Unlock()

	if shouldDump {
		if err := w.dumpStallArtifacts(now, progress, stalledFor); err != nil {
			logger.Warnf("stall diagnostics dump failed: %v", err)
		}
	}
}

func (w *Watchdog) dumpStallArtifacts(now time.Time, progress int64, stalledFor time.Duration) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	ts := now.UTC().Format("20060102-150405.000")
	event := map[string]interface{}{
		"event":             "validation_stalled",
		"timestamp":         now.UTC().Format(time.RFC3339Nano),
		"appsValidated":     progress,
		"thresholdMs":       w.threshold.Milliseconds(),
		"observedStalledMs": stalledFor.Milliseconds(),
	}
	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return err
	}
	eventPath := filepath.Join(w.dir, fmt.Sprintf("appvet-stall-%s.json", ts))
	if err := os.WriteFile(eventPath, data, 0o600); err != nil {
		return err
	}

	if path, err := w.writeProfile("goroutine", 2); err != nil {
		logger.Warnf("goroutine profile dump failed: %v", err)
	} else {
		logger.Warnf("validation stalled for %s; wrote %s and %s", stalledFor, eventPath, path)
	}
	return nil
}

func (w *Watchdog) writeProfile(name string, debug int) (string, error) {
	profile := w.profileLookupFn(name)
	if profile == nil {
		return "", fmt.Errorf("pprof profile %q unavailable", name)
	}
	ts := w.nowFn().UTC().Format("20060102-150405.000")
	path := filepath.Join(w.dir, fmt.Sprintf("appvet-%s-profile-%s.pprof", name, ts))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := profile.WriteTo(f, debug); err != nil {
		return "", err
	}
	return path, nil
}
