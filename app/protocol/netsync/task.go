package netsync

import (
	"context"
)

// task is the lifecycle handle of a goroutine run by the synchronizer. A
// task holds a reference to the syncer handle for as long as it runs, and
// its supervisor must join it before going away.
type task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

func spawnTask(parent context.Context, name string, handle *syncerHandle,
	run func(ctx context.Context, handle *syncerHandle)) *task {

	ctx, cancel := context.WithCancel(parent)
	t := &task{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	reference := handle.acquire()
	spawn(name, func() {
		defer close(t.done)
		defer reference.release()
		defer cancel()

		run(ctx, reference)
	})
	return t
}

// join waits for the task to finish
func (t *task) join() {
	<-t.done
}

// cancelAndJoin cancels the task and waits for it to finish
func (t *task) cancelAndJoin() {
	t.cancel()
	t.join()
}
