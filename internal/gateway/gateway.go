// Package gateway isolates all container-runtime interaction behind a small
// capability surface: status checks, exec creation, stream attach, resize
// and kill. The rest of the service depends only on the Gateway interface;
// one concrete adapter exists per supported runtime (Docker, Kubernetes).
package gateway

import (
	"context"
	"errors"
	"io"
)

// Status is the coarse container state as reported by the runtime.
type Status string

const (
	StatusRunning  Status = "running"
	StatusStarting Status = "starting"
	StatusStopped  Status = "stopped"
)

var (
	// ErrRuntimeUnavailable means the container engine itself cannot be
	// reached. Retryable by the caller.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	// ErrContainerNotFound means the referenced container does not exist.
	ErrContainerNotFound = errors.New("container not found")
	// ErrContainerNotRunning means the container exists but is not in a
	// state that can host an exec process.
	ErrContainerNotRunning = errors.New("container not running")
)

// TTYSize is the initial terminal geometry for a new exec process.
type TTYSize struct {
	Rows uint16
	Cols uint16
}

// ExecHandle is the runtime-specific reference to an exec process inside a
// container. Handles are created by CreateExec and owned by exactly one
// terminal session; operations on the same handle are serialized by that
// owner, never by the gateway.
type ExecHandle interface {
	ID() string
}

// ExecStream is the attached duplex byte stream of an exec process. Closing
// either direction surfaces as a read/write error on the other, never as a
// panic in the caller.
type ExecStream struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
}

// Gateway is the capability interface over a container runtime. All methods
// are safe for concurrent use across different handles.
type Gateway interface {
	// Name identifies the backing runtime ("docker", "kubernetes").
	Name() string

	// ContainerStatus reports the container state, ErrContainerNotFound if
	// it does not exist, or ErrRuntimeUnavailable on transport failure.
	ContainerStatus(ctx context.Context, ref string) (Status, error)

	// CreateExec starts a TTY exec process running cmd inside the container.
	// Fails with ErrContainerNotRunning when the container cannot host it.
	CreateExec(ctx context.Context, ref string, cmd []string, size TTYSize) (ExecHandle, error)

	// Attach connects to the exec process and returns its byte stream.
	Attach(ctx context.Context, handle ExecHandle) (*ExecStream, error)

	// Resize changes the exec TTY geometry. Best-effort.
	Resize(ctx context.Context, handle ExecHandle, rows, cols uint16) error

	// Kill tears down the exec process and releases the handle. Best-effort
	// and idempotent.
	Kill(ctx context.Context, handle ExecHandle) error
}
