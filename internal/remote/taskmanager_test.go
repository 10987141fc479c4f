package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensembleai/ensemble/internal/a2a"
)

func TestTaskLifecycle(t *testing.T) {
	tm := NewTaskManager(newTestLogger())

	task := tm.Create(a2a.NewTextMessage("user", "2 + 2"), func() {})
	assert.Equal(t, a2a.StateSubmitted, task.Status.State)
	assert.NotEmpty(t, task.ID)
	assert.NotEmpty(t, task.ContextID)
	require.Len(t, task.History, 1)
	assert.Equal(t, task.ID, task.History[0].TaskID)

	tm.UpdateStatus(task.ID, a2a.StateWorking, nil)
	got, ok := tm.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, a2a.StateWorking, got.Status.State)

	tm.AddArtifact(task.ID, a2a.Artifact{
		ArtifactID: "a1",
		Name:       "calc-result",
		Parts:      []a2a.Part{{Kind: "text", Text: "4"}},
	})

	reply := a2a.NewTextMessage("agent", "4")
	tm.UpdateStatus(task.ID, a2a.StateCompleted, &reply)

	got, _ = tm.Get(task.ID)
	assert.Equal(t, a2a.StateCompleted, got.Status.State)
	require.Len(t, got.Artifacts, 1)
	assert.Len(t, got.History, 2)
}

func TestTerminalStatesAreSticky(t *testing.T) {
	tm := NewTaskManager(newTestLogger())
	task := tm.Create(a2a.NewTextMessage("user", "hi"), func() {})

	_, rpcErr := tm.Cancel(task.ID)
	require.Nil(t, rpcErr)

	// A late completion must not undo the cancel.
	tm.UpdateStatus(task.ID, a2a.StateCompleted, nil)

	got, _ := tm.Get(task.ID)
	assert.Equal(t, a2a.StateCanceled, got.Status.State)
}

func TestCancelTask(t *testing.T) {
	t.Run("invokes the execution cancel func", func(t *testing.T) {
		tm := NewTaskManager(newTestLogger())
		cancelled := false
		task := tm.Create(a2a.NewTextMessage("user", "hi"), func() { cancelled = true })

		got, rpcErr := tm.Cancel(task.ID)
		require.Nil(t, rpcErr)
		assert.Equal(t, a2a.StateCanceled, got.Status.State)
		assert.True(t, cancelled)
	})

	t.Run("unknown task", func(t *testing.T) {
		tm := NewTaskManager(newTestLogger())
		_, rpcErr := tm.Cancel("nope")
		require.NotNil(t, rpcErr)
		assert.Equal(t, a2a.CodeTaskNotFound, rpcErr.Code)
	})

	t.Run("terminal task is not cancelable", func(t *testing.T) {
		tm := NewTaskManager(newTestLogger())
		task := tm.Create(a2a.NewTextMessage("user", "hi"), func() {})
		tm.UpdateStatus(task.ID, a2a.StateFailed, nil)

		_, rpcErr := tm.Cancel(task.ID)
		require.NotNil(t, rpcErr)
		assert.Equal(t, a2a.CodeNotCancelable, rpcErr.Code)
	})
}

func TestCleanup(t *testing.T) {
	tm := NewTaskManager(newTestLogger())

	finished := tm.Create(a2a.NewTextMessage("user", "old"), func() {})
	tm.UpdateStatus(finished.ID, a2a.StateCompleted, nil)
	running := tm.Create(a2a.NewTextMessage("user", "current"), func() {})
	tm.UpdateStatus(running.ID, a2a.StateWorking, nil)

	// Nothing is old enough yet.
	assert.Equal(t, 0, tm.Cleanup(time.Hour))

	// With a zero horizon every terminal task is stale; working tasks stay.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, tm.Cleanup(0))

	_, ok := tm.Get(finished.ID)
	assert.False(t, ok)
	_, ok = tm.Get(running.ID)
	assert.True(t, ok)
}
