package services

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/TFMV/duckprof/pkg/errors"
	"github.com/TFMV/duckprof/pkg/models"
	"github.com/TFMV/duckprof/pkg/repositories"
)

// recordingLogger keeps every message so tests can assert on warnings.
type recordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *recordingLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, level+": "+msg)
}

func (l *recordingLogger) Debug(msg string, _ ...interface{}) { l.log("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...interface{})  { l.log("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...interface{})  { l.log("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...interface{}) { l.log("error", msg) }

func (l *recordingLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m == entry {
			return true
		}
	}
	return false
}

// recordingMetrics counts counter increments by name and label values.
type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: make(map[string]int)}
}

func (m *recordingMetrics) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[fmt.Sprint(name, labels)]++
}

func (m *recordingMetrics) count(name string, labels ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[fmt.Sprint(name, labels)]
}

func (m *recordingMetrics) RecordHistogram(string, float64, ...string) {}
func (m *recordingMetrics) RecordGauge(string, float64, ...string)     {}
func (m *recordingMetrics) StartTimer(string) Timer                    { return &stubTimer{start: time.Now()} }

type stubTimer struct{ start time.Time }

func (t *stubTimer) Stop() time.Duration { return time.Since(t.start) }

// fakeTarget hands out one scripted session per call.
type fakeTarget struct {
	newSession func() *fakeSession
	sessionErr error
	sessions   []*fakeSession
	mu         sync.Mutex
}

func (f *fakeTarget) Schema(ctx context.Context) ([]models.TableSchema, error) {
	return nil, nil
}

func (f *fakeTarget) Session(ctx context.Context) (repositories.TargetSession, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	s := f.newSession()
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

// fakeSession scripts a target session. While profiling is on, Execute
// writes profileJSON to the configured output path.
type fakeSession struct {
	plan        string
	explainErr  error
	enableErr   error
	disableErr  error
	profileJSON string
	profileErr  error
	stats       repositories.ExecutionStats
	execErr     error
	onExecute   func(ctx context.Context) error

	calls      []string
	profiling  bool
	outputPath string
	closed     bool
}

func (s *fakeSession) ExplainAnalyze(ctx context.Context, query string) (string, error) {
	s.calls = append(s.calls, "explain")
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.plan, s.explainErr
}

func (s *fakeSession) EnableProfiling(ctx context.Context, format, outputPath string) error {
	s.calls = append(s.calls, "enable:"+format)
	if s.enableErr != nil {
		return s.enableErr
	}
	s.profiling = true
	s.outputPath = outputPath
	return nil
}

func (s *fakeSession) DisableProfiling(ctx context.Context) error {
	s.calls = append(s.calls, "disable")
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.disableErr != nil {
		return s.disableErr
	}
	s.profiling = false
	return nil
}

func (s *fakeSession) Execute(ctx context.Context, query string) (*repositories.ExecutionStats, error) {
	if s.profiling {
		s.calls = append(s.calls, "execute:profiled")
		if s.profileErr != nil {
			return &repositories.ExecutionStats{}, s.profileErr
		}
		if s.profileJSON != "" {
			if err := os.WriteFile(s.outputPath, []byte(s.profileJSON), 0o600); err != nil {
				return nil, err
			}
		}
		return &repositories.ExecutionStats{RowCount: s.stats.RowCount}, nil
	}

	s.calls = append(s.calls, "execute")
	if s.onExecute != nil {
		if err := s.onExecute(ctx); err != nil {
			return &repositories.ExecutionStats{}, err
		}
	}
	stats := s.stats
	return &stats, s.execErr
}

func (s *fakeSession) Close() error {
	s.calls = append(s.calls, "close")
	s.closed = true
	return nil
}

// memoryLog is an in-memory AnalysisLogRepository.
type memoryLog struct {
	mu        sync.Mutex
	records   []models.QueryRecord
	appendErr error
}

func (l *memoryLog) Init(context.Context) error { return nil }

func (l *memoryLog) Append(ctx context.Context, rec *models.QueryRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Wrap(err, errors.CodePersistenceFailed, "append")
	}
	if l.appendErr != nil {
		return 0, l.appendErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec.QueryID = int64(len(l.records) + 1)
	l.records = append(l.records, *rec)
	return rec.QueryID, nil
}

func (l *memoryLog) Get(ctx context.Context, id int64) (*models.QueryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 1 || id > int64(len(l.records)) {
		return nil, errors.Wrapf(errors.ErrRecordNotFound, errors.CodeNotFound, "query %d not found", id)
	}
	rec := l.records[id-1]
	return &rec, nil
}

func (l *memoryLog) List(ctx context.Context, opts models.ListOptions) ([]models.QueryRecord, error) {
	l.mu.Lock()
	out := append([]models.QueryRecord(nil), l.records...)
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecTimeMs > out[j].ExecTimeMs })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (l *memoryLog) Count(context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.records)), nil
}

func (l *memoryLog) Reset(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	return nil
}

// fakeRenderer records rendered ids.
type fakeRenderer struct {
	mu       sync.Mutex
	rendered map[int64][]models.OperatorCostEntry
	err      error
	clearErr error
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{rendered: make(map[int64][]models.OperatorCostEntry)}
}

func (r *fakeRenderer) Render(ctx context.Context, id int64, costs []models.OperatorCostEntry, execTimeMs float64) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered[id] = costs
	return fmt.Sprintf("/charts/query_%d_profile.html", id), nil
}

func (r *fakeRenderer) Handle(id int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rendered[id]; !ok {
		return "", false
	}
	return fmt.Sprintf("/charts/query_%d_profile.html", id), true
}

func (r *fakeRenderer) Clear(ctx context.Context) error {
	if r.clearErr != nil {
		return r.clearErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered = make(map[int64][]models.OperatorCostEntry)
	return nil
}
