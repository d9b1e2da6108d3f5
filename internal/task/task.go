package task

// A Task is a single kernel thread: one execution context scheduled by the
// kernel. Tasks are caller-owned and fixed-size; the kernel never allocates
// or frees them behind the caller's back.
type Task struct {
	// Name of the task, for diagnostics only.
	Name string

	// Base is the priority assigned at creation. It is never changed by the
	// scheduler or the synchronization primitives.
	Base int

	// Effective is the donated priority, raised by a lock acquirer waiting on
	// a lock this task holds. Zero means no outstanding donation.
	Effective int

	// WakeTime is the tick at which a sleeping task should be woken. It is
	// only meaningful while the task is in the sleep queue.
	WakeTime int64

	// Next links the task into whichever queue it is currently a member of.
	// A task is in at most one queue at a time.
	Next *Task

	// State tags which stage of the run lifecycle the task is in. All
	// transitions happen with interrupts disabled.
	State State

	resume chan struct{}
}

// State of a task. A task is a member of at most one wait structure at a
// time; StateBlocked covers both semaphore-style waits and the sleep queue
// (a sleeping task additionally carries a valid WakeTime).
type State uint8

const (
	StateRunning State = iota
	StateReady
	StateBlocked
	StateExited
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateReady:
		return "ready"
	case StateBlocked:
		return "blocked"
	case StateExited:
		return "exited"
	}
	return "invalid"
}

// New returns a task with the given name and base priority. The task is not
// known to any scheduler until it is made ready.
func New(name string, priority int) *Task {
	return &Task{
		Name:   name,
		Base:   priority,
		resume: make(chan struct{}, 1),
	}
}

// Priority returns the priority used for all ordering decisions:
// the maximum of the base and the donated effective priority. It is
// recomputed on every call; donation can change it while the task is
// already queued somewhere.
func (t *Task) Priority() int {
	if t.Effective > t.Base {
		return t.Effective
	}
	return t.Base
}

// Pause parks the calling goroutine until the task is resumed. If Resume was
// already called, Pause returns immediately; a resume is never lost.
func (t *Task) Pause() {
	<-t.resume
}

// Resume marks the task runnable again after a Pause. It is legal to resume
// a task before it reaches Pause. Resuming a task twice without an
// intervening Pause is a scheduling bug and panics.
func (t *Task) Resume() {
	select {
	case t.resume <- struct{}{}:
	default:
		panic("task: resumed a task that was already resumed")
	}
}
