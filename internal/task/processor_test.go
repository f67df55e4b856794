package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Mother-Agent/internal/agent"
	xerrors "Mother-Agent/internal/errors"
	"Mother-Agent/internal/observability/alerting"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration

	mu        sync.Mutex
	planCalls int
	// planFailures 次 CreatePlan 返回模型错误后恢复正常。
	planFailures int
	processResp  *agent.Response
	confirmErr   error
	confirmIDs   []string
	preConfirmed []bool
}

func (f *fakeExecutor) Process(ctx context.Context, sessionID, input string, preConfirmed bool) *agent.Response {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
		}
	}
	f.processed.Add(1)
	f.mu.Lock()
	f.preConfirmed = append(f.preConfirmed, preConfirmed)
	resp := f.processResp
	f.mu.Unlock()
	if resp != nil {
		return resp
	}
	return &agent.Response{SessionID: sessionID, Text: "done: " + input, Success: true}
}

func (f *fakeExecutor) Confirm(_ context.Context, sessionID, id string) (*agent.Response, error) {
	f.mu.Lock()
	f.confirmIDs = append(f.confirmIDs, id)
	f.mu.Unlock()
	if f.confirmErr != nil {
		return &agent.Response{SessionID: sessionID, Text: "No pending action to confirm.", Code: agent.CodeNoPendingAction}, f.confirmErr
	}
	return &agent.Response{SessionID: sessionID, Text: "Action completed successfully.", Success: true}, nil
}

func (f *fakeExecutor) CreatePlan(_ context.Context, sessionID, input string) *agent.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planCalls++
	if f.planCalls <= f.planFailures {
		return &agent.Response{SessionID: sessionID, Text: "API error during planning: 503", Code: agent.CodeLLMFailure}
	}
	return &agent.Response{SessionID: sessionID, Text: "📋 Execution Plan", Success: true, PendingPlan: &agent.ExecutionPlan{ID: "p1", Goal: input}}
}

func (f *fakeExecutor) ExecutePlan(_ context.Context, sessionID, planID string) (*agent.Response, error) {
	return &agent.Response{SessionID: sessionID, Text: "Plan Execution Complete", Success: true}, nil
}

type alertRecorder struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *alertRecorder) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *alertRecorder) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Metadata["stage"])
	}
	return out
}

func startProcessor(t *testing.T, exec Executor, opts ...ProcessorOption) (*Service, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	service := NewService(store, queue, 3)
	processor := NewProcessor(exec, store, queue, queue, opts...)
	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(cancel)
	return service, cancel
}

func waitJob(t *testing.T, service *Service, id string) *Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := service.WaitUntilCompleted(ctx, id, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait job %s: %v", id, err)
	}
	return job
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	exec := &fakeExecutor{latency: 5 * time.Millisecond}
	service, cancel := startProcessor(t, exec, WithWorkerCount(8))
	defer cancel()

	total := 100
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		job, err := service.Submit(context.Background(), SubmitRequest{Input: fmt.Sprintf("turn-%d", i)})
		if err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		job := waitJob(t, service, id)
		if job.Status != StatusSucceeded || job.Result == nil || !job.Result.Success {
			t.Fatalf("job %s did not succeed: %+v", id, job)
		}
	}
	if int(exec.processed.Load()) != total {
		t.Fatalf("expected %d turns, got %d", total, exec.processed.Load())
	}
}

func TestProcessorStoresPendingConfirmation(t *testing.T) {
	exec := &fakeExecutor{processResp: &agent.Response{
		Text:                "This action requires confirmation",
		Success:             true,
		PendingConfirmation: &agent.PendingConfirmation{ID: "call_1", Tool: "shell.exec"},
	}}
	service, cancel := startProcessor(t, exec)
	defer cancel()

	job, err := service.Submit(context.Background(), SubmitRequest{SessionID: "s1", Input: "rm -rf build", PreConfirmed: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := waitJob(t, service, job.ID)
	if done.Result.PendingConfirmation == nil || done.Result.PendingConfirmation.ID != "call_1" {
		t.Fatalf("pending confirmation not persisted: %+v", done.Result)
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.preConfirmed) != 1 || !exec.preConfirmed[0] {
		t.Fatalf("preConfirmed flag not forwarded: %v", exec.preConfirmed)
	}
}

func TestProcessorRetriesPlanAfterModelFailure(t *testing.T) {
	exec := &fakeExecutor{planFailures: 1}
	alerts := &alertRecorder{}
	service, cancel := startProcessor(t, exec, WithAlertDispatcher(alerts))
	defer cancel()

	job, err := service.Submit(context.Background(), SubmitRequest{Kind: KindPlan, Input: "upgrade the cluster"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := waitJob(t, service, job.ID)
	if done.Status != StatusSucceeded || done.Attempts != 2 {
		t.Fatalf("plan job should succeed on retry: %+v", done)
	}
	if done.Result.PendingPlan == nil || done.Result.PendingPlan.Goal != "upgrade the cluster" {
		t.Fatalf("pending plan not persisted: %+v", done.Result)
	}
	if stages := alerts.stages(); len(stages) != 1 || stages[0] != "retry" {
		t.Fatalf("unexpected alert stages: %v", stages)
	}
}

func TestProcessorDoesNotRetryCommandAfterModelFailure(t *testing.T) {
	exec := &fakeExecutor{processResp: &agent.Response{Text: "API error: upstream 500", Code: agent.CodeLLMFailure}}
	alerts := &alertRecorder{}
	service, cancel := startProcessor(t, exec, WithAlertDispatcher(alerts))
	defer cancel()

	job, err := service.Submit(context.Background(), SubmitRequest{Input: "status"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := waitJob(t, service, job.ID)
	if done.Status != StatusFailed || done.ErrorCode != string(agent.CodeLLMFailure) {
		t.Fatalf("expected terminal failure: %+v", done)
	}
	if done.LastError != "API error: upstream 500" {
		t.Fatalf("unexpected last error %q", done.LastError)
	}
	if got := exec.processed.Load(); got != 1 {
		t.Fatalf("command turn must not be replayed, ran %d times", got)
	}
	if stages := alerts.stages(); len(stages) != 1 || stages[0] != "non_retryable" {
		t.Fatalf("unexpected alert stages: %v", stages)
	}
}

func TestProcessorConfirmPreconditionFailureIsTerminal(t *testing.T) {
	exec := &fakeExecutor{confirmErr: xerrors.New(agent.CodeNoPendingAction, "no pending action")}
	service, cancel := startProcessor(t, exec)
	defer cancel()

	job, err := service.Submit(context.Background(), SubmitRequest{SessionID: "s1", Kind: KindConfirm, Input: "call_9"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := waitJob(t, service, job.ID)
	if done.Status != StatusFailed || done.ErrorCode != string(agent.CodeNoPendingAction) {
		t.Fatalf("expected NO_PENDING_ACTION failure: %+v", done)
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.confirmIDs) != 1 || exec.confirmIDs[0] != "call_9" {
		t.Fatalf("confirm id not forwarded: %v", exec.confirmIDs)
	}
}

func TestProcessorRecoveryProducesFallback(t *testing.T) {
	exec := &fakeExecutor{confirmErr: xerrors.New(agent.CodeNoPendingAction, "no pending action")}
	var recovered atomic.Int32
	recovery := RecoveryFunc(func(_ context.Context, job *Job, cause error) (*JobResult, error) {
		recovered.Add(1)
		return &JobResult{Text: "nothing to confirm for " + job.SessionID}, nil
	})
	alerts := &alertRecorder{}
	service, cancel := startProcessor(t, exec, WithRecoveryHandler(recovery), WithAlertDispatcher(alerts))
	defer cancel()

	job, err := service.Submit(context.Background(), SubmitRequest{SessionID: "s7", Kind: KindConfirm})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := waitJob(t, service, job.ID)
	if done.Status != StatusSucceeded || done.Result.Text != "nothing to confirm for s7" {
		t.Fatalf("fallback not stored: %+v", done)
	}
	if done.Result.Code != string(agent.CodeNoPendingAction) {
		t.Fatalf("fallback should carry the failure code, got %q", done.Result.Code)
	}
	if recovered.Load() != 1 {
		t.Fatalf("recovery ran %d times", recovered.Load())
	}
	if stages := alerts.stages(); len(stages) != 1 || stages[0] != "degraded" {
		t.Fatalf("unexpected alert stages: %v", stages)
	}
}

func TestProcessorRejectsUnknownKind(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	processor := NewProcessor(&fakeExecutor{}, store, queue, queue)
	ctx := context.Background()

	if err := store.Create(ctx, &Job{ID: "x", Kind: "bogus", Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := processor.handle(ctx, Message{JobID: "x"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	job, _ := store.Get(ctx, "x")
	if job.Status != StatusFailed || job.ErrorCode != string(CodeJobValidation) {
		t.Fatalf("unexpected job: %+v", job)
	}
	if err := processor.handle(ctx, Message{JobID: "x"}); err != nil {
		t.Fatalf("exhausted jobs are skipped silently, got %v", err)
	}
}
