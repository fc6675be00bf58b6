package host

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

func TestTaskManager_Start_RunsAsynchronouslyAndRecordsSteps(t *testing.T) {
	tm := NewTaskManager()

	taskID := tm.Start("testcase", func(onStep func(model.StepRecord)) (*model.ExecutionResult, error) {
		onStep(model.StepRecord{StepIndex: 0, NodeID: "n1", Success: true})
		onStep(model.StepRecord{StepIndex: 1, NodeID: "n2", Success: true})
		return &model.ExecutionResult{Success: true}, nil
	})
	require.NotEmpty(t, taskID)

	task, ok := tm.Get(taskID)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return !task.Snapshot(0).IsExecuting
	}, time.Second, 2*time.Millisecond)

	snap := task.Snapshot(0)
	assert.True(t, snap.Result.Success)
	assert.Len(t, snap.ExecutionLog, 2)
	assert.Equal(t, 2, snap.NextIndex)
}

func TestTaskManager_Get_UnknownIDReturnsFalse(t *testing.T) {
	tm := NewTaskManager()
	_, ok := tm.Get("never-existed")
	assert.False(t, ok)
}

func TestTask_Snapshot_SinceTrimsToStrictlyAfter(t *testing.T) {
	tm := NewTaskManager()
	taskID := tm.Start("testcase", func(onStep func(model.StepRecord)) (*model.ExecutionResult, error) {
		onStep(model.StepRecord{StepIndex: 0, NodeID: "n1"})
		onStep(model.StepRecord{StepIndex: 1, NodeID: "n2"})
		onStep(model.StepRecord{StepIndex: 2, NodeID: "n3"})
		return &model.ExecutionResult{Success: true}, nil
	})
	task, _ := tm.Get(taskID)
	require.Eventually(t, func() bool {
		return !task.Snapshot(0).IsExecuting
	}, time.Second, 2*time.Millisecond)

	all := task.Snapshot(0)
	require.Len(t, all.ExecutionLog, 3)

	delta := task.Snapshot(1)
	require.Len(t, delta.ExecutionLog, 2)
	assert.Equal(t, "n2", delta.ExecutionLog[0].NodeID)

	none := task.Snapshot(all.NextIndex)
	assert.Empty(t, none.ExecutionLog)
}

func TestTask_Snapshot_FailedExecutionSurfacesError(t *testing.T) {
	tm := NewTaskManager()
	wantErr := errors.New("device disconnected")
	taskID := tm.Start("testcase", func(onStep func(model.StepRecord)) (*model.ExecutionResult, error) {
		return nil, wantErr
	})
	task, _ := tm.Get(taskID)

	require.Eventually(t, func() bool {
		return !task.Snapshot(0).IsExecuting
	}, time.Second, 2*time.Millisecond)

	snap := task.Snapshot(0)
	assert.Nil(t, snap.Result)
	assert.Equal(t, wantErr.Error(), snap.Error)
}
