package host

import (
	"sync"

	"github.com/google/uuid"

	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

// TaskState is the lifecycle of one async execution task (spec.md §4.5
// "asynchronous pattern").
type TaskState string

const (
	TaskRunning TaskState = "running"
	TaskDone    TaskState = "done"
	TaskFailed  TaskState = "failed"
)

// Task tracks one in-flight or completed graph execution, polled by the
// Server's status loop. currentStep/log grow monotonically while Running.
type Task struct {
	ID   string
	Kind string

	mu          sync.Mutex
	state       TaskState
	currentStep string
	log         []model.StepRecord
	result      *model.ExecutionResult
	err         error
}

func (t *Task) appendStep(step model.StepRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = append(t.log, step)
	t.currentStep = step.NodeID
}

func (t *Task) finish(result *model.ExecutionResult, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result = result
	t.err = err
	if err != nil {
		t.state = TaskFailed
		return
	}
	t.state = TaskDone
}

// StatusView is the poll response shape (spec.md §4.5: "{is_executing,
// current_step, execution_log_delta}"). since is the NextIndex of an
// earlier poll: the log is trimmed to entries from that index onward, i.e.
// strictly after the last entry the caller has already seen, matching §5's
// monotonically-growing-log ordering guarantee.
type StatusView struct {
	TaskID          string             `json:"task_id"`
	IsExecuting     bool               `json:"is_executing"`
	CurrentStep     string             `json:"current_step,omitempty"`
	ExecutionLog    []model.StepRecord `json:"execution_log_delta"`
	NextIndex       int                `json:"next_index"`
	Result          *model.ExecutionResult `json:"result,omitempty"`
	Error           string             `json:"error,omitempty"`
}

// Snapshot returns the task's state, trimmed to log entries at index
// `since` and later.
func (t *Task) Snapshot(since int) StatusView {
	t.mu.Lock()
	defer t.mu.Unlock()

	view := StatusView{
		TaskID:      t.ID,
		IsExecuting: t.state == TaskRunning,
		CurrentStep: t.currentStep,
		Result:      t.result,
	}
	if t.err != nil {
		view.Error = t.err.Error()
	}
	if since < 0 || since > len(t.log) {
		since = len(t.log)
	}
	view.ExecutionLog = append([]model.StepRecord(nil), t.log[since:]...)
	view.NextIndex = len(t.log)
	return view
}

// TaskManager is the Host's in-memory table of async execution tasks.
// Grounded on the same "lazily-constructed, mutex-guarded map" shape as
// internal/controller.Registry, adapted from per-device driver instances
// to per-task execution state.
type TaskManager struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewTaskManager builds an empty TaskManager.
func NewTaskManager() *TaskManager {
	return &TaskManager{tasks: map[string]*Task{}}
}

// Start registers a new task and runs fn in its own goroutine, wiring
// appendStep as the executor's req.OnStep callback so the task's log
// grows live as the traversal proceeds.
func (tm *TaskManager) Start(kind string, fn func(onStep func(model.StepRecord)) (*model.ExecutionResult, error)) string {
	t := &Task{ID: uuid.NewString(), Kind: kind, state: TaskRunning}
	tm.mu.Lock()
	tm.tasks[t.ID] = t
	tm.mu.Unlock()

	go func() {
		result, err := fn(t.appendStep)
		t.finish(result, err)
	}()

	return t.ID
}

// Get looks up a task by id.
func (tm *TaskManager) Get(taskID string) (*Task, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.tasks[taskID]
	return t, ok
}
