package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"mkv-converter/internal/config"
	"mkv-converter/internal/scanner"
	"mkv-converter/internal/transcoder"
	"mkv-converter/pkg/models"
)

// fakeEngine writes outputSize bytes to the claim path (the last argument)
// unless the input's base name is listed in fail.
type fakeEngine struct {
	outputSize map[string]int64
	fail       map[string]bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeEngine) Invoke(ctx context.Context, args []string, dir string) (transcoder.Result, error) {
	input := filepath.Base(args[slices.Index(args, "-i")+1])
	f.mu.Lock()
	f.calls = append(f.calls, input)
	f.mu.Unlock()

	if f.fail[input] {
		return transcoder.Result{ExitCode: 1, Stderr: []byte("Invalid data found when processing input")}, nil
	}
	size := f.outputSize[input]
	if size == 0 {
		size = 1
	}
	if err := os.WriteFile(args[len(args)-1], bytes.Repeat([]byte{'x'}, int(size)), 0o644); err != nil {
		return transcoder.Result{}, err
	}
	return transcoder.Result{Elapsed: time.Millisecond}, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRecorder struct{ reports []models.RunReport }

func (f *fakeRecorder) RecordRun(ctx context.Context, r models.RunReport, started, finished time.Time) error {
	f.reports = append(f.reports, r)
	return nil
}

type fakeNotifier struct {
	payloads []models.RunSummaryPayload
	err      error
}

func (f *fakeNotifier) NotifyRun(ctx context.Context, p models.RunSummaryPayload) error {
	f.payloads = append(f.payloads, p)
	return f.err
}

func writeInput(t *testing.T, root, rel string, size int) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{'m'}, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	dir := t.TempDir()
	s := config.Default()
	s.InputRoot = filepath.Join(dir, "input")
	s.OutputRoot = filepath.Join(dir, "output")
	s.LogRoot = filepath.Join(dir, "logs")
	s.HeartbeatSeconds = 0
	s.Subtitles.Enabled = false
	if err := os.MkdirAll(s.InputRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRun_SuccessAndFailure(t *testing.T) {
	s := testSettings(t)
	s.SkipExisting = false
	s.ParallelProcessing = true
	writeInput(t, s.InputRoot, "a.mkv", 100)
	writeInput(t, s.InputRoot, "b.mkv", 50)

	engine := &fakeEngine{outputSize: map[string]int64{"a.mkv": 40}, fail: map[string]bool{"b.mkv": true}}
	rec := &fakeRecorder{}
	notify := &fakeNotifier{err: errors.New("webhook down")}
	var out bytes.Buffer

	rep, err := New(s,
		WithInvoker(engine),
		WithRecorder(rec),
		WithNotifier(notify),
		WithOutput(&out),
	).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	tot := rep.Totals
	if len(rep.Outcomes) != 2 || tot.Succeeded != 1 || tot.Failed != 1 {
		t.Fatalf("totals = %+v", tot)
	}
	if tot.InputBytes != 150 || tot.OutputBytes != 40 {
		t.Errorf("bytes in=%d out=%d, want 150/40", tot.InputBytes, tot.OutputBytes)
	}
	if rep.Outcomes[0].Job.Input.RelPath != "a.mkv" || rep.Outcomes[1].Category != models.CategoryEngine {
		t.Errorf("outcomes = %+v", rep.Outcomes)
	}
	if _, err := os.Stat(filepath.Join(s.OutputRoot, "a_480p.mp4")); err != nil {
		t.Errorf("a output missing: %v", err)
	}
	if rep.RunID == "" {
		t.Error("run id not set")
	}

	if !strings.Contains(out.String(), "b.mkv") || !strings.Contains(out.String(), "Invalid data") {
		t.Errorf("rendered report missing failure:\n%s", out.String())
	}
	if len(rec.reports) != 1 || rec.reports[0].RunID != rep.RunID {
		t.Errorf("recorder got %d reports", len(rec.reports))
	}
	if len(notify.payloads) != 1 || notify.payloads[0].Status != "COMPLETED_WITH_FAILURES" {
		t.Errorf("notifier payloads = %+v", notify.payloads)
	}
}

func TestRun_RerunSkipsConverted(t *testing.T) {
	s := testSettings(t)
	writeInput(t, s.InputRoot, "a.mkv", 100)
	writeInput(t, s.InputRoot, "season/b.mkv", 50)

	first := &fakeEngine{outputSize: map[string]int64{"a.mkv": 40, "b.mkv": 20}}
	rep, err := New(s, WithInvoker(first), WithOutput(&bytes.Buffer{})).Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if rep.Totals.Succeeded != 2 || first.callCount() != 2 {
		t.Fatalf("first run totals = %+v calls=%d", rep.Totals, first.callCount())
	}

	second := &fakeEngine{}
	rep, err = New(s, WithInvoker(second), WithOutput(&bytes.Buffer{})).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.callCount() != 0 {
		t.Errorf("rerun invoked the engine %d times", second.callCount())
	}
	if len(rep.Outcomes) != 2 || rep.Totals.Succeeded != 2 || rep.Totals.Skipped != 2 {
		t.Errorf("rerun totals = %+v", rep.Totals)
	}
	for _, o := range rep.Outcomes {
		if !o.Skipped || o.Elapsed != 0 {
			t.Errorf("outcome = %+v, want skip", o)
		}
	}
	if rep.Totals.InputBytes != 60 {
		t.Errorf("skip input bytes = %d, want existing sizes 60", rep.Totals.InputBytes)
	}
}

func TestRun_InvalidSettingsSpawnNothing(t *testing.T) {
	s := testSettings(t)
	s.Video.QualityFactor = -5
	writeInput(t, s.InputRoot, "a.mkv", 10)
	engine := &fakeEngine{}

	_, err := New(s, WithInvoker(engine)).Run(context.Background())
	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if engine.callCount() != 0 {
		t.Errorf("engine called %d times", engine.callCount())
	}
}

func TestRun_MissingInputRoot(t *testing.T) {
	s := testSettings(t)
	s.InputRoot = filepath.Join(t.TempDir(), "absent")

	_, err := New(s, WithInvoker(&fakeEngine{})).Run(context.Background())
	var scanErr *scanner.ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("err = %v, want ScanError", err)
	}
}

func TestRun_LockHeld(t *testing.T) {
	s := testSettings(t)
	if err := os.MkdirAll(s.OutputRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	other := flock.New(filepath.Join(s.OutputRoot, LockFileName))
	ok, err := other.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	defer other.Unlock()

	_, err = New(s, WithInvoker(&fakeEngine{})).Run(context.Background())
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	s := testSettings(t)
	writeInput(t, s.InputRoot, "a.mkv", 10)
	writeInput(t, s.InputRoot, "b.mkv", 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := &fakeEngine{}

	rep, err := New(s, WithInvoker(engine), WithOutput(&bytes.Buffer{})).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if engine.callCount() != 0 || rep.Totals.Failed != 2 {
		t.Errorf("calls=%d totals=%+v", engine.callCount(), rep.Totals)
	}
	for _, o := range rep.Outcomes {
		if o.Category != models.CategoryCanceled {
			t.Errorf("outcome = %+v, want canceled", o)
		}
	}
}

func TestInventory(t *testing.T) {
	s := testSettings(t)
	writeInput(t, s.InputRoot, "a.mkv", 10)
	writeInput(t, s.InputRoot, "b.mkv", 10)
	if err := os.MkdirAll(s.OutputRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.OutputRoot, "a_480p.mp4"), []byte("done"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := Inventory(s, nil)
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Status != StatusConverted || entries[1].Status != StatusPending {
		t.Errorf("statuses = %s, %s", entries[0].Status, entries[1].Status)
	}
}
