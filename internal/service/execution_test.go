package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/coderscreen/coderunner/internal/apperror"
	"github.com/coderscreen/coderunner/internal/model"
	"github.com/coderscreen/coderunner/internal/repository"
)

// =========================================================================
// FAKES
// =========================================================================

// mockExecutionRepo stores records in memory. createErr simulates a database
// that is down.
type mockExecutionRepo struct {
	mu        sync.Mutex
	records   []model.ExecutionRecord
	lastOpts  repository.ListOptions
	createErr error
	listErr   error
}

func (m *mockExecutionRepo) Create(ctx context.Context, rec *model.ExecutionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("mock-%d", len(m.records)+1)
	}
	m.records = append(m.records, *rec)
	return nil
}

func (m *mockExecutionRepo) GetByID(_ context.Context, id string) (*model.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, apperror.NotFound("execution", id)
}

func (m *mockExecutionRepo) ListByRoom(_ context.Context, roomID string, opts repository.ListOptions) ([]model.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOpts = opts
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.ExecutionRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].RoomID == roomID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

// mockExecutor returns res (or err) and remembers what it was asked to run.
type mockExecutor struct {
	calls []model.ExecutionRequest
	res   *model.ExecutionResult
	err   error
}

func (m *mockExecutor) Execute(_ context.Context, req model.ExecutionRequest) (*model.ExecutionResult, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	res := *m.res
	return &res, nil
}

func newTestService(t *testing.T) (*ExecutionService, *mockExecutor, *mockExecutionRepo) {
	t.Helper()
	exec := &mockExecutor{res: &model.ExecutionResult{
		ID:       "res-1",
		Success:  true,
		Stdout:   "hi\n",
		ExitCode: 0,
	}}
	repo := &mockExecutionRepo{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewExecutionService(exec, repo, logger), exec, repo
}

// =========================================================================
// EXECUTE
// =========================================================================

func TestExecute_Success(t *testing.T) {
	svc, exec, repo := newTestService(t)

	res, err := svc.Execute(context.Background(), " room-1 ", "Python", `print("hi")`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Stdout != "hi\n" || !res.Success {
		t.Errorf("result = %+v", res)
	}

	if len(exec.calls) != 1 {
		t.Fatalf("executor called %d times, want 1", len(exec.calls))
	}
	got := exec.calls[0]
	if got.RoomID != "room-1" || got.Language != "python" {
		t.Errorf("request = %+v, want trimmed room and lower-case language", got)
	}

	if len(repo.records) != 1 {
		t.Fatalf("recorded %d executions, want 1", len(repo.records))
	}
	rec := repo.records[0]
	if rec.ID != "res-1" || rec.RoomID != "room-1" || rec.Code != `print("hi")` {
		t.Errorf("record = %+v", rec)
	}
}

func TestExecute_Validation(t *testing.T) {
	tests := []struct {
		name     string
		roomID   string
		language string
		code     string
		field    string
	}{
		{"missing room", "", "python", "x", "roomId"},
		{"whitespace room", "   ", "python", "x", "roomId"},
		{"room too long", strings.Repeat("r", MaxRoomIDLength+1), "python", "x", "roomId"},
		{"missing language", "room", "", "x", "language"},
		{"empty code", "room", "python", "", "code"},
		{"whitespace code", "room", "python", " \n\t", "code"},
		{"code too long", "room", "python", strings.Repeat("a", MaxCodeLength+1), "code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, exec, _ := newTestService(t)

			_, err := svc.Execute(context.Background(), tt.roomID, tt.language, tt.code)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			var appErr *apperror.AppError
			if errors.As(err, &appErr) && appErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", appErr.Field, tt.field)
			}
			if len(exec.calls) != 0 {
				t.Error("executor must not run an invalid submission")
			}
		})
	}
}

func TestExecute_MaxLengthCodeAccepted(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Execute(context.Background(), "room", "python", strings.Repeat("a", MaxCodeLength)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestExecute_ExecutorErrorPropagates(t *testing.T) {
	svc, exec, repo := newTestService(t)
	exec.err = apperror.UnsupportedLanguage("react")

	_, err := svc.Execute(context.Background(), "room", "react", "<App />")
	if !errors.Is(err, apperror.ErrUnsupported) {
		t.Fatalf("error = %v, want ErrUnsupported", err)
	}
	if len(repo.records) != 0 {
		t.Error("a failed dispatch must not be recorded")
	}
}

func TestExecute_HistoryFailureDoesNotMaskResult(t *testing.T) {
	svc, _, repo := newTestService(t)
	repo.createErr = errors.New("disk I/O error")

	res, err := svc.Execute(context.Background(), "room", "python", "print(1)")
	if err != nil {
		t.Fatalf("Execute() error = %v, want the result despite the history failure", err)
	}
	if res.Stdout != "hi\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestExecute_RecordsAfterCallerCancels(t *testing.T) {
	svc, _, repo := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The mock executor ignores ctx, standing in for a run that finished
	// just as the client went away.
	if _, err := svc.Execute(ctx, "room", "python", "print(1)"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(repo.records) != 1 {
		t.Errorf("recorded %d executions, want 1", len(repo.records))
	}
}

// =========================================================================
// HISTORY
// =========================================================================

func TestGetByID(t *testing.T) {
	svc, _, repo := newTestService(t)
	repo.records = []model.ExecutionRecord{
		{ExecutionResult: model.ExecutionResult{ID: "a"}, RoomID: "room-1"},
		{ExecutionResult: model.ExecutionResult{ID: "b"}, RoomID: "room-2"},
	}

	rec, err := svc.GetByID(context.Background(), "room-1", "a")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if rec.ID != "a" {
		t.Errorf("ID = %q, want a", rec.ID)
	}

	if _, err := svc.GetByID(context.Background(), "room-1", "b"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("other room's execution: error = %v, want ErrNotFound", err)
	}
	if _, err := svc.GetByID(context.Background(), "room-1", "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("missing execution: error = %v, want ErrNotFound", err)
	}
	if _, err := svc.GetByID(context.Background(), "room-1", " "); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("empty id: error = %v, want ErrValidation", err)
	}
}

func TestListByRoom_ClampsBadValues(t *testing.T) {
	tests := []struct {
		limit, offset int
		want          repository.ListOptions
	}{
		{0, 0, repository.ListOptions{Limit: DefaultListLimit, Offset: 0}},
		{-5, -5, repository.ListOptions{Limit: DefaultListLimit, Offset: 0}},
		{1000, 10, repository.ListOptions{Limit: MaxListLimit, Offset: 10}},
		{7, 3, repository.ListOptions{Limit: 7, Offset: 3}},
	}

	for _, tt := range tests {
		svc, _, repo := newTestService(t)
		if _, err := svc.ListByRoom(context.Background(), "room", tt.limit, tt.offset); err != nil {
			t.Fatalf("ListByRoom() error = %v", err)
		}
		if repo.lastOpts != tt.want {
			t.Errorf("ListByRoom(%d, %d) asked repo for %+v, want %+v", tt.limit, tt.offset, repo.lastOpts, tt.want)
		}
	}
}

func TestListByRoom_Errors(t *testing.T) {
	svc, _, repo := newTestService(t)

	if _, err := svc.ListByRoom(context.Background(), "", 0, 0); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("empty room: error = %v, want ErrValidation", err)
	}

	dbErr := errors.New("database is locked")
	repo.listErr = dbErr
	if _, err := svc.ListByRoom(context.Background(), "room", 0, 0); !errors.Is(err, dbErr) {
		t.Errorf("error = %v, want wrapped %v", err, dbErr)
	}
}
