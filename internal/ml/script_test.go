package ml

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"rasp/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWorker speaks the worker protocol without needing a trained artifact:
// the prediction is the sum of the present features, "sleep" in the model
// file stalls every request, "fail" refuses to start, "noisy" prints library
// warnings on stdout and "garble" answers 7 lanes with a broken object.
const fakeWorker = `
import json, sys, time
mode = open(sys.argv[1]).read().strip()
if mode == "fail":
    print(json.dumps({"error": "load model: corrupt"}), flush=True)
    sys.exit(1)
if mode == "noisy":
    print("[10:00:00] WARNING: model was saved with an older version", flush=True)
print(json.dumps({"ready": True}), flush=True)
for line in sys.stdin:
    req = json.loads(line)
    if mode == "sleep":
        time.sleep(5)
    if mode == "noisy":
        print("[10:00:01] WARNING: feature names mismatch", flush=True)
        print("", flush=True)
    if mode == "garble" and req["features"][0] == 7:
        print('{"prediction": ', flush=True)
    if len(req["columns"]) != 19:
        print(json.dumps({"error": "bad columns"}), flush=True)
        continue
    if req["features"][0] == -1:
        print(json.dumps({"error": "negative lanes"}), flush=True)
        continue
    print(json.dumps({"prediction": sum(v for v in req["features"] if v is not None)}), flush=True)
`

func newFakeScriptModel(t *testing.T, mode string, timeout time.Duration) (*ScriptModel, *MockMetrics, error) {
	t.Helper()
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}

	modelPath := filepath.Join(t.TempDir(), "model.pkl")
	require.NoError(t, os.WriteFile(modelPath, []byte(mode), 0o644))

	metrics := &MockMetrics{}
	m := &ScriptModel{
		pythonPath: python,
		modelPath:  modelPath,
		script:     fakeWorker,
		timeout:    timeout,
		metrics:    metrics,
	}
	m.mu.Lock()
	err = m.start()
	m.mu.Unlock()
	if err == nil {
		t.Cleanup(func() { m.Close() })
	}
	return m, metrics, err
}

func TestScriptModel_Predict(t *testing.T) {
	m, metrics, err := newFakeScriptModel(t, "ok", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, BackendScript, m.Name())

	var v features.Vector
	v[features.NumLanes] = 2
	v[features.SpeedLimit] = 0.5

	for i := 0; i < 3; i++ {
		pred, err := m.Predict(context.Background(), v)
		require.NoError(t, err)
		assert.InDelta(t, 2.5, pred, 1e-12)
	}

	inferences, failures, _ := metrics.counts()
	assert.Equal(t, 3, inferences)
	assert.Equal(t, 0, failures)
}

func TestScriptModel_WorkerError(t *testing.T) {
	m, metrics, err := newFakeScriptModel(t, "ok", 5*time.Second)
	require.NoError(t, err)

	var v features.Vector
	v[features.NumLanes] = -1
	_, err = m.Predict(context.Background(), v)
	assert.ErrorContains(t, err, "negative lanes")

	// The worker keeps serving after a per-request error.
	v[features.NumLanes] = 1
	pred, err := m.Predict(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, 1.0, pred)

	_, failures, _ := metrics.counts()
	assert.Equal(t, 1, failures)
}

func TestScriptModel_SkipsLibraryOutput(t *testing.T) {
	m, _, err := newFakeScriptModel(t, "noisy", 5*time.Second)
	require.NoError(t, err, "warnings before ready must not fail startup")

	for lanes := 1.0; lanes <= 3; lanes++ {
		var v features.Vector
		v[features.NumLanes] = lanes
		pred, err := m.Predict(context.Background(), v)
		require.NoError(t, err)
		assert.Equal(t, lanes, pred, "each request gets its own prediction")
	}
}

func TestScriptModel_MalformedResponseRestartsWorker(t *testing.T) {
	m, _, err := newFakeScriptModel(t, "garble", 5*time.Second)
	require.NoError(t, err)

	var v features.Vector
	v[features.NumLanes] = 7
	_, err = m.Predict(context.Background(), v)
	assert.ErrorContains(t, err, "failed to parse response")

	m.mu.Lock()
	assert.Nil(t, m.cmd, "worker is stopped after a malformed response")
	m.mu.Unlock()

	for lanes := 1.0; lanes <= 2; lanes++ {
		v[features.NumLanes] = lanes
		pred, err := m.Predict(context.Background(), v)
		require.NoError(t, err)
		assert.Equal(t, lanes, pred)
	}
}

func TestScriptModel_TimeoutRestartsWorker(t *testing.T) {
	m, metrics, err := newFakeScriptModel(t, "sleep", 100*time.Millisecond)
	require.NoError(t, err)

	_, err = m.Predict(context.Background(), features.Vector{})
	assert.ErrorContains(t, err, "timeout")

	_, _, timeouts := metrics.counts()
	assert.Equal(t, 1, timeouts)

	m.mu.Lock()
	assert.Nil(t, m.cmd, "worker is stopped after a timeout")
	m.mu.Unlock()
}

func TestScriptModel_ContextCancel(t *testing.T) {
	m, _, err := newFakeScriptModel(t, "sleep", 5*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.Predict(ctx, features.Vector{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestScriptModel_StartupFailure(t *testing.T) {
	_, _, err := newFakeScriptModel(t, "fail", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModelUnavailable))
	assert.Contains(t, err.Error(), "corrupt")
}

func TestNewScriptModel_MissingArtifact(t *testing.T) {
	_, err := NewScriptModel(filepath.Join(t.TempDir(), "missing.pkl"), "python3", time.Second, nil)
	assert.True(t, errors.Is(err, ErrModelUnavailable))
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 4}
	tb.Write([]byte("ab"))
	tb.Write([]byte("cdef"))
	assert.Equal(t, "cdef", tb.String())
}
