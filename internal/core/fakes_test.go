package core

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/care/detectd/internal/emitter"
	"github.com/care/detectd/internal/store"
	"github.com/care/detectd/internal/types"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

type fakeCamera struct {
	mu    sync.Mutex
	seq   uint64
	err   error
	calls int
}

func (f *fakeCamera) CaptureFrame(ctx context.Context) (types.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return types.Frame{}, f.err
	}
	f.seq++
	return types.Frame{
		Seq:       f.seq,
		Timestamp: baseTime.Add(time.Duration(f.seq) * time.Second),
		TraceID:   fmt.Sprintf("trace-%d", f.seq),
	}, nil
}

func (f *fakeCamera) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeDetector returns one scripted result per call, then nothing
type fakeDetector struct {
	mu     sync.Mutex
	script [][]types.Detection
	err    error
}

func (f *fakeDetector) Detect(ctx context.Context, frame types.Frame, threshold float64) ([]types.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.script) == 0 {
		return nil, nil
	}
	next := f.script[0]
	f.script = f.script[1:]
	return next, nil
}

func (f *fakeDetector) push(dets ...types.Detection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, dets)
}

type fakeLabels map[int]string

func (f fakeLabels) Resolve(id int) string {
	if l, ok := f[id]; ok {
		return l
	}
	return fmt.Sprintf("unknown(%d)", id)
}

type fakeProber struct {
	mu     sync.Mutex
	online bool
}

func (f *fakeProber) IsReachable(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeProber) set(online bool) {
	f.mu.Lock()
	f.online = online
	f.mu.Unlock()
}

// fakeSession records the class label of every accepted publish. The
// publish with absolute index failAt is rejected.
type fakeSession struct {
	mu         sync.Mutex
	labels     []string
	topics     []string
	publishes  int
	failAt     int
	connects   int
	connectErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{failAt: -1}
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeSession) Publish(topic string, payload []byte, qos byte, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.publishes
	f.publishes++
	if idx == f.failAt {
		return emitter.ErrNotConnected
	}

	var p struct {
		Timestamp  string `json:"timestamp"`
		ClassLabel string `json:"class_label"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	f.labels = append(f.labels, p.ClassLabel)
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeSession) IsConnected() bool { return true }

func (f *fakeSession) Published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.labels...)
}

// faultyStore injects failures into a real store
type faultyStore struct {
	store.Store
	readErr    error
	clearErr   error
	appendErr  error
	replaceErr error
}

func (f *faultyStore) Append(ctx context.Context, events []types.DetectionEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.Store.Append(ctx, events)
}

func (f *faultyStore) Replace(ctx context.Context, events []types.DetectionEvent) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	return f.Store.Replace(ctx, events)
}

func (f *faultyStore) ReadAll(ctx context.Context) ([]types.DetectionEvent, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.Store.ReadAll(ctx)
}

func (f *faultyStore) Clear(ctx context.Context) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	return f.Store.Clear(ctx)
}

type harness struct {
	camera   *fakeCamera
	detector *fakeDetector
	prober   *fakeProber
	session  *fakeSession
	store    store.Store
	ctrl     *Controller
}

func testLabels() fakeLabels {
	return fakeLabels{0: "person", 1: "bicycle", 2: "car", 16: "dog", 17: "horse", 18: "sheep"}
}

func newHarness(t *testing.T, opts ControllerOptions) *harness {
	t.Helper()
	return newHarnessWithStore(t, store.NewFileStore(filepath.Join(t.TempDir(), "history.csv")), opts)
}

func newHarnessWithStore(t *testing.T, st store.Store, opts ControllerOptions) *harness {
	t.Helper()
	if opts.Threshold == 0 {
		opts.Threshold = 0.6
	}
	if opts.Topic == "" {
		opts.Topic = "raspberry/meta"
	}

	h := &harness{
		camera:   &fakeCamera{},
		detector: &fakeDetector{},
		prober:   &fakeProber{},
		session:  newFakeSession(),
		store:    st,
	}
	ctrl, err := NewController(context.Background(), Deps{
		Camera:   h.camera,
		Detector: h.detector,
		Labels:   testLabels(),
		Prober:   h.prober,
		Session:  h.session,
		Store:    st,
	}, opts)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	h.ctrl = ctrl
	return h
}

func det(classID int, score float64) types.Detection {
	return types.Detection{ClassID: classID, Score: score}
}

func storedLabels(t *testing.T, st store.Store) []string {
	t.Helper()
	events, err := st.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ClassLabel)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
