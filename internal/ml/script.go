package ml

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rasp/internal/features"

	"github.com/rs/zerolog/log"
)

//go:embed severity_worker.py
var workerScript string

// startupTimeout bounds how long the worker may take to load the artifact.
const startupTimeout = 30 * time.Second

// maxStderr caps the worker stderr kept for error reports.
const maxStderr = 8 << 10

// ScriptModel runs the exported training artifact in a Python worker process.
// The worker loads the model once and then answers one JSON line per request.
// Requests are serialized; a request that times out kills the worker and the
// next request starts a fresh one.
type ScriptModel struct {
	pythonPath string
	modelPath  string
	script     string
	timeout    time.Duration
	metrics    MetricsInterface

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan workerLine
	stderr *tailBuffer
}

type workerRequest struct {
	Features []*float64 `json:"features"`
	Columns  []string   `json:"columns"`
}

type workerResponse struct {
	Ready      bool     `json:"ready,omitempty"`
	Prediction *float64 `json:"prediction,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type workerLine struct {
	data []byte
	err  error
}

// NewScriptModel starts a worker for the artifact at modelPath. An empty pythonPath
// means auto-detect.
func NewScriptModel(modelPath, pythonPath string, timeout time.Duration, metrics MetricsInterface) (*ScriptModel, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: model artifact %s: %v", ErrModelUnavailable, modelPath, err)
	}

	if pythonPath == "" {
		p, err := findPython()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		pythonPath = p
	}

	m := &ScriptModel{
		pythonPath: pythonPath,
		modelPath:  modelPath,
		script:     workerScript,
		timeout:    timeout,
		metrics:    metrics,
	}

	m.mu.Lock()
	err := m.start()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	reportModelAge(modelPath, metrics)
	return m, nil
}

// Name implements Model.
func (m *ScriptModel) Name() string { return BackendScript }

// Predict implements Model.
func (m *ScriptModel) Predict(ctx context.Context, v features.Vector) (float64, error) {
	start := time.Now()
	pred, err := m.predict(ctx, v)
	observe(m.metrics, start, err)
	return pred, err
}

func (m *ScriptModel) predict(ctx context.Context, v features.Vector) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cmd == nil {
		if err := m.start(); err != nil {
			return 0, err
		}
	}

	req, err := json.Marshal(workerRequest{Features: v.Nullable(), Columns: features.Names()})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}
	req = append(req, '\n')

	if _, err := m.stdin.Write(req); err != nil {
		m.stopLocked()
		return 0, fmt.Errorf("write to model worker: %w", err)
	}

	resp, err := m.readLocked(ctx, m.timeout)
	if err != nil {
		return 0, err
	}
	if resp.Error != "" {
		log.Error().
			Str("python_error", resp.Error).
			Interface("features", v.Nullable()).
			Msg("Model worker returned error")
		return 0, fmt.Errorf("model worker error: %s", resp.Error)
	}
	if resp.Prediction == nil {
		return 0, fmt.Errorf("model worker response has no prediction")
	}
	return *resp.Prediction, nil
}

// start launches the worker and waits for it to report the model loaded.
// Callers hold m.mu.
func (m *ScriptModel) start() error {
	cmd := exec.Command(m.pythonPath, "-u", "-c", m.script, m.modelPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("model worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("model worker stdout: %w", err)
	}
	stderr := &tailBuffer{max: maxStderr}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start model worker: %v", ErrModelUnavailable, err)
	}

	lines := make(chan workerLine)
	go func() {
		r := bufio.NewReader(stdout)
		for {
			b, err := r.ReadBytes('\n')
			if err != nil {
				lines <- workerLine{err: err}
				close(lines)
				return
			}
			lines <- workerLine{data: b}
		}
	}()

	m.cmd, m.stdin, m.lines, m.stderr = cmd, stdin, lines, stderr

	resp, err := m.readLocked(context.Background(), startupTimeout)
	if err != nil {
		m.stopLocked()
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if !resp.Ready {
		m.stopLocked()
		return fmt.Errorf("%w: model worker: %s", ErrModelUnavailable, resp.Error)
	}

	log.Info().
		Str("python_path", m.pythonPath).
		Str("model_path", m.modelPath).
		Int("pid", cmd.Process.Pid).
		Msg("Model worker started")
	return nil
}

// readLocked waits for one response line. Lines that are not JSON objects are
// library chatter and are skipped. On timeout, cancellation, a broken pipe or
// a malformed response the worker is stopped so the next request starts clean.
func (m *ScriptModel) readLocked(ctx context.Context, timeout time.Duration) (workerResponse, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		var line workerLine
		select {
		case l, ok := <-m.lines:
			if !ok {
				l = workerLine{err: io.EOF}
			}
			line = l
		case <-timer.C:
			if m.metrics != nil {
				m.metrics.MLTimeoutsInc()
			}
			m.stopLocked()
			return workerResponse{}, fmt.Errorf("prediction timeout after %v", timeout)
		case <-ctx.Done():
			m.stopLocked()
			return workerResponse{}, ctx.Err()
		}

		if line.err != nil {
			stderr := m.stderr.String()
			m.stopLocked()
			log.Error().
				Err(line.err).
				Str("python_path", m.pythonPath).
				Str("model_path", m.modelPath).
				Str("stderr", stderr).
				Msg("Model worker exited")
			return workerResponse{}, fmt.Errorf("model worker exited: %w, stderr: %s", line.err, stderr)
		}

		data := bytes.TrimSpace(line.data)
		if len(data) == 0 || data[0] != '{' {
			log.Warn().Str("stdout", string(data)).Msg("Skipping non-protocol output from model worker")
			continue
		}

		var resp workerResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			m.stopLocked()
			return workerResponse{}, fmt.Errorf("failed to parse response: %w, stdout: %s", err, data)
		}
		return resp, nil
	}
}

// stopLocked kills the worker and releases its pipes. Callers hold m.mu.
func (m *ScriptModel) stopLocked() {
	if m.cmd == nil {
		return
	}
	m.stdin.Close()
	if m.cmd.Process != nil {
		m.cmd.Process.Kill()
	}
	// Drain so the reader goroutine can exit.
	go func(lines chan workerLine) {
		for range lines {
		}
	}(m.lines)
	m.cmd.Wait()
	m.cmd, m.stdin, m.lines = nil, nil, nil
}

// Close implements Model.
func (m *ScriptModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func findPython() (string, error) {
	var candidates []string

	if venvPath := os.Getenv("VIRTUAL_ENV"); venvPath != "" {
		candidates = append(candidates,
			filepath.Join(venvPath, "bin", "python3"),
			filepath.Join(venvPath, "bin", "python"),
			filepath.Join(venvPath, "Scripts", "python.exe"),
		)
	}
	for _, root := range []string{".venv", "venv"} {
		candidates = append(candidates, filepath.Join(root, "bin", "python3"))
	}
	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			candidates = append(candidates, path)
		}
	}

	var fallback string
	for _, c := range candidates {
		if _, err := os.Stat(c); err != nil {
			continue
		}
		out, err := exec.Command(c, "-c", "import sys, joblib; print('Python', sys.version)").Output()
		if err == nil && strings.Contains(string(out), "Python 3") {
			log.Info().Str("python_path", c).Msg("Using Python with joblib")
			return c, nil
		}
		if fallback == "" {
			fallback = c
		}
	}

	if fallback != "" {
		log.Warn().Str("python_path", fallback).Msg("Found Python but joblib may not be installed")
		return fallback, nil
	}
	return "", fmt.Errorf("no suitable Python 3 executable found")
}
