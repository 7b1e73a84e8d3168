package gateway

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Fake is an in-memory Gateway for tests. Container statuses are scripted
// via SetStatus; every CreateExec produces a FakeExec whose container-side
// ends the test can drive directly.
type Fake struct {
	mu       sync.Mutex
	statuses map[string]Status
	execs    []*FakeExec
	nextID   int

	statusCalls int
	createCalls int
	killCalls   int

	// Error injection
	StatusErr     error
	CreateExecErr error
	AttachErr     error
	KillErr       error
	// KillDelay makes Kill block, for shutdown-ordering tests.
	KillDelay time.Duration
}

func NewFake() *Fake {
	return &Fake{statuses: make(map[string]Status)}
}

// SetStatus scripts the status for a container ref. Refs without a scripted
// status report ErrContainerNotFound.
func (f *Fake) SetStatus(ref string, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[ref] = status
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) ContainerStatus(_ context.Context, ref string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.StatusErr != nil {
		return "", f.StatusErr
	}
	status, ok := f.statuses[ref]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrContainerNotFound, ref)
	}
	return status, nil
}

func (f *Fake) CreateExec(_ context.Context, ref string, cmd []string, size TTYSize) (ExecHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.CreateExecErr != nil {
		return nil, f.CreateExecErr
	}
	if f.statuses[ref] != StatusRunning {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotRunning, ref)
	}

	f.nextID++
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	exec := &FakeExec{
		id:      fmt.Sprintf("exec-%d", f.nextID),
		Ref:     ref,
		Cmd:     cmd,
		Rows:    size.Rows,
		Cols:    size.Cols,
		stdinR:  inR,
		stdinW:  inW,
		stdoutR: outR,
		stdoutW: outW,
	}
	go exec.drainInput()
	f.execs = append(f.execs, exec)
	return exec, nil
}

func (f *Fake) Attach(_ context.Context, handle ExecHandle) (*ExecStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AttachErr != nil {
		return nil, f.AttachErr
	}
	exec := handle.(*FakeExec)
	return &ExecStream{Stdin: exec.stdinW, Stdout: exec.stdoutR}, nil
}

func (f *Fake) Resize(_ context.Context, handle ExecHandle, rows, cols uint16) error {
	exec := handle.(*FakeExec)
	exec.mu.Lock()
	defer exec.mu.Unlock()
	exec.Rows, exec.Cols = rows, cols
	exec.resizes++
	return nil
}

func (f *Fake) Kill(_ context.Context, handle ExecHandle) error {
	if f.KillDelay > 0 {
		time.Sleep(f.KillDelay)
	}
	f.mu.Lock()
	f.killCalls++
	err := f.KillErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	handle.(*FakeExec).close()
	return nil
}

func (f *Fake) StatusCalls() int { f.mu.Lock(); defer f.mu.Unlock(); return f.statusCalls }
func (f *Fake) CreateCalls() int { f.mu.Lock(); defer f.mu.Unlock(); return f.createCalls }
func (f *Fake) KillCalls() int   { f.mu.Lock(); defer f.mu.Unlock(); return f.killCalls }

// Exec returns the i-th created exec, or nil.
func (f *Fake) Exec(i int) *FakeExec {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.execs) {
		return nil
	}
	return f.execs[i]
}

// FakeExec is the container-side view of a fake exec process.
type FakeExec struct {
	id  string
	Ref string
	Cmd []string

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	mu      sync.Mutex
	input   []byte
	Rows    uint16
	Cols    uint16
	resizes int
	killed  bool
}

func (e *FakeExec) ID() string { return e.id }

// drainInput records everything the session writes to stdin.
func (e *FakeExec) drainInput() {
	buf := make([]byte, 4096)
	for {
		n, err := e.stdinR.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.input = append(e.input, buf[:n]...)
			e.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Input returns a copy of all bytes received on the exec's stdin so far.
func (e *FakeExec) Input() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]byte, len(e.input))
	copy(out, e.input)
	return out
}

// WaitInput polls until the exec has received at least n stdin bytes.
func (e *FakeExec) WaitInput(n int, timeout time.Duration) []byte {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := e.Input(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	return e.Input()
}

// Emit produces container output on the exec's stdout.
func (e *FakeExec) Emit(p []byte) error {
	_, err := e.stdoutW.Write(p)
	return err
}

// Exit simulates the underlying process exiting: stdout reaches EOF.
func (e *FakeExec) Exit() {
	e.stdoutW.Close()
}

// Fail simulates the transport to the runtime breaking: the stdout reader
// sees err instead of EOF.
func (e *FakeExec) Fail(err error) {
	e.stdoutW.CloseWithError(err)
}

func (e *FakeExec) close() {
	e.mu.Lock()
	if e.killed {
		e.mu.Unlock()
		return
	}
	e.killed = true
	e.mu.Unlock()
	e.stdinW.Close()
	e.stdinR.Close()
	e.stdoutW.Close()
	e.stdoutR.Close()
}

// Killed reports whether the exec has been released.
func (e *FakeExec) Killed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.killed
}

// Resizes returns how many resize calls the exec has seen.
func (e *FakeExec) Resizes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resizes
}

var _ Gateway = (*Fake)(nil)
