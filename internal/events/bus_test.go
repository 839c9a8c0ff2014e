package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func assertEmpty(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Errorf("unexpected event %s", ev.EventType())
	case <-time.After(10 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)
	bus.Publish(TaskStartedEvent{ID: "task-1", Worker: "w1", Timestamp: time.Now()})

	received := receive(t, ch)
	assert.Equal(t, "task-1", received.TaskID())
	assert.Equal(t, EventTypeTaskStarted, received.EventType())
	assert.Equal(t, "w1", received.(TaskStartedEvent).Worker)
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TaskCompletedEvent{ID: "task-2", Duration: 100 * time.Millisecond})

	for _, ch := range []<-chan Event{ch1, ch2} {
		assert.Equal(t, "task-2", receive(t, ch).TaskID())
	}
}

func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TaskQueuedEvent{ID: fmt.Sprintf("task-%d", i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked")
	}

	assert.Equal(t, "task-0", receive(t, ch).TaskID())
	assert.Equal(t, uint64(9), bus.Dropped())
}

func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)
	all := bus.SubscribeAll(10)

	bus.Close()
	bus.Close()

	_, ok := <-ch
	assert.False(t, ok)
	_, ok = <-all
	assert.False(t, ok)

	// Subscribing after close yields a closed channel
	_, ok = <-bus.Subscribe(TopicRun, 1)
	assert.False(t, ok)
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)
	bus.Close()

	assert.NotPanics(t, func() {
		bus.Publish(TaskStartedEvent{ID: "task-1"})
	})
	_, ok := <-ch
	assert.False(t, ok)
}

func TestNilBus(t *testing.T) {
	var bus *EventBus
	assert.NotPanics(t, func() {
		bus.Publish(ProgressEvent{Total: 1})
		bus.Close()
	})
	assert.Zero(t, bus.Dropped())
}

func TestTopicRouting(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	levelCh := bus.Subscribe(TopicLevel, 10)
	wtCh := bus.Subscribe(TopicWorktree, 10)

	bus.Publish(LevelStartedEvent{Level: 0, Tasks: []string{"a"}})
	bus.Publish(WorktreeCreatedEvent{ID: "a", Path: "/repo/.worktrees/task-a"})
	bus.Publish(TaskCancelledEvent{ID: "b", Reason: "dependency failed"})

	assert.Equal(t, EventTypeLevelStarted, receive(t, levelCh).EventType())
	assert.Equal(t, EventTypeWorktreeCreated, receive(t, wtCh).EventType())
	assert.Equal(t, EventTypeTaskCancelled, receive(t, taskCh).EventType())

	assertEmpty(t, taskCh)
	assertEmpty(t, levelCh)
	assertEmpty(t, wtCh)
}

func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	bus.Publish(TaskStartedEvent{ID: "task-1"})
	bus.Publish(ProgressEvent{Total: 10, Completed: 5, Running: 2, Pending: 3})
	bus.Publish(LevelCompletedEvent{Level: 1, Completed: 2})

	var types []string
	for i := 0; i < 3; i++ {
		types = append(types, receive(t, allCh).EventType())
	}
	assert.Equal(t, []string{EventTypeTaskStarted, EventTypeProgress, EventTypeLevelCompleted}, types)
	assertEmpty(t, allCh)
}

func TestEventTopics(t *testing.T) {
	tests := []struct {
		event Event
		topic string
		typ   string
	}{
		{TaskQueuedEvent{}, TopicTask, EventTypeTaskQueued},
		{TaskStartedEvent{}, TopicTask, EventTypeTaskStarted},
		{TaskCompletedEvent{}, TopicTask, EventTypeTaskCompleted},
		{TaskFailedEvent{}, TopicTask, EventTypeTaskFailed},
		{TaskCancelledEvent{}, TopicTask, EventTypeTaskCancelled},
		{TaskMergedEvent{}, TopicTask, EventTypeTaskMerged},
		{LevelStartedEvent{}, TopicLevel, EventTypeLevelStarted},
		{LevelCompletedEvent{}, TopicLevel, EventTypeLevelCompleted},
		{WorktreeCreatedEvent{}, TopicWorktree, EventTypeWorktreeCreated},
		{WorktreeRemovedEvent{}, TopicWorktree, EventTypeWorktreeRemoved},
		{ProgressEvent{}, TopicRun, EventTypeProgress},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.topic, tt.event.Topic())
			assert.Equal(t, tt.typ, tt.event.EventType())
		})
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.SubscribeAll(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(TaskQueuedEvent{ID: fmt.Sprintf("t%d-%d", i, j)})
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, ch, 500)
	assert.Zero(t, bus.Dropped())
}
