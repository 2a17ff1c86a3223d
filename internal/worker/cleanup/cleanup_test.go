package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockSweeper はSessionSweeperのモック実装。
type mockSweeper struct {
	calls   atomic.Int32
	deleted int64
	err     error
}

func (m *mockSweeper) Sweep(ctx context.Context) (int64, error) {
	m.calls.Add(1)
	return m.deleted, m.err
}

// lockedBuffer はゴルーチンから並行に書き込まれるログ用のバッファ。
type lockedBuffer struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_ReturnsNonNil(t *testing.T) {
	job := NewCleanupJob(&mockSweeper{}, nil)

	if job == nil {
		t.Fatal("NewCleanupJob は nil を返してはならない")
	}
}

func TestCleanupJob_Run_ReturnsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &mockSweeper{deleted: 5}
	job := NewCleanupJob(sweeper, newTestLogger(&buf))

	deleted, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if deleted != 5 {
		t.Errorf("deleted = %d, want 5", deleted)
	}
	if sweeper.calls.Load() != 1 {
		t.Errorf("Sweep の呼び出し回数 = %d, want 1", sweeper.calls.Load())
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockSweeper{deleted: 42}, newTestLogger(&buf))

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if count, ok := entry["deleted_count"]; ok {
			found = true
			if count != float64(42) {
				t.Errorf("deleted_count = %v, want 42", count)
			}
			if _, ok := entry["duration_ms"]; !ok {
				t.Error("ログに duration_ms が含まれていない")
			}
		}
	}
	if !found {
		t.Errorf("ログに deleted_count が含まれていない: %s", buf.String())
	}
}

func TestCleanupJob_Run_NoExpiredSessions(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockSweeper{deleted: 0}, newTestLogger(&buf))

	deleted, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("削除対象なしでもエラーにならないべき: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}

func TestCleanupJob_Run_SweepError(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockSweeper{err: errors.New("connection refused")}, newTestLogger(&buf))

	_, err := job.Run(context.Background())
	if err == nil {
		t.Fatal("Sweep エラー時は Run もエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("元のエラーがラップされていない: %v", err)
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("エラーログが出力されていない: %s", buf.String())
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &mockSweeper{}
	job := NewCleanupJob(sweeper, slog.New(slog.NewJSONHandler(&lockedBuffer{buf: &buf}, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sweeper.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("Sweep が周期実行されていない: calls = %d", sweeper.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("コンテキストのキャンセル後に Start が終了しない")
	}
}

func TestCleanupJob_Start_ContinuesAfterError(t *testing.T) {
	sweeper := &mockSweeper{err: errors.New("temporary failure")}
	job := NewCleanupJob(sweeper, slog.New(slog.NewJSONHandler(&lockedBuffer{buf: &bytes.Buffer{}}, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go job.Start(ctx, 10*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for sweeper.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("エラー後に再試行されていない: calls = %d", sweeper.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
