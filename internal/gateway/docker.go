package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"
)

// Docker talks to a Docker Engine daemon over its HTTP API.
type Docker struct {
	client *dockerclient.Client
}

// DockerOptions configure the daemon connection. Zero values fall back to
// the standard DOCKER_HOST environment handling.
type DockerOptions struct {
	Host string
	// TLSCertDir, when set, must contain ca.pem, cert.pem and key.pem for a
	// TLS-protected daemon socket.
	TLSCertDir string
}

// NewDocker connects to the daemon and verifies it is reachable.
func NewDocker(ctx context.Context, opts DockerOptions) (*Docker, error) {
	clientOpts := []dockerclient.Opt{
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	}
	if opts.Host != "" {
		clientOpts = append(clientOpts, dockerclient.WithHost(opts.Host))
	}
	if opts.TLSCertDir != "" {
		tlsCfg, err := tlsconfig.Client(tlsconfig.Options{
			CAFile:   filepath.Join(opts.TLSCertDir, "ca.pem"),
			CertFile: filepath.Join(opts.TLSCertDir, "cert.pem"),
			KeyFile:  filepath.Join(opts.TLSCertDir, "key.pem"),
		})
		if err != nil {
			return nil, fmt.Errorf("docker tls config: %w", err)
		}
		clientOpts = append(clientOpts, dockerclient.WithHTTPClient(&http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		}))
	}

	cli, err := dockerclient.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker ping: %w: %v", ErrRuntimeUnavailable, err)
	}

	log.Println("Docker daemon connected")
	return &Docker{client: cli}, nil
}

func (d *Docker) Name() string {
	return "docker"
}

// mapDockerErr translates Docker client errors into the gateway taxonomy.
func mapDockerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case dockerclient.IsErrNotFound(err):
		return fmt.Errorf("%w: %v", ErrContainerNotFound, err)
	case dockerclient.IsErrConnectionFailed(err):
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	default:
		return err
	}
}

// mapContainerState collapses the Docker state vocabulary into Status.
func mapContainerState(state string) Status {
	switch state {
	case "running":
		return StatusRunning
	case "created", "restarting":
		return StatusStarting
	default: // exited, dead, paused, removing
		return StatusStopped
	}
}

func (d *Docker) ContainerStatus(ctx context.Context, ref string) (Status, error) {
	inspect, err := d.client.ContainerInspect(ctx, ref)
	if err != nil {
		return "", mapDockerErr(err)
	}
	return mapContainerState(inspect.State.Status), nil
}

// dockerExec is the Docker ExecHandle. The hijacked connection is set by
// Attach and consumed by Kill.
type dockerExec struct {
	execID string

	mu   sync.Mutex
	resp *types.HijackedResponse
}

func (e *dockerExec) ID() string {
	return e.execID
}

func (d *Docker) CreateExec(ctx context.Context, ref string, cmd []string, size TTYSize) (ExecHandle, error) {
	status, err := d.ContainerStatus(ctx, ref)
	if err != nil {
		return nil, err
	}
	if status != StatusRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrContainerNotRunning, ref, status)
	}

	resp, err := d.client.ContainerExecCreate(ctx, ref, container.ExecOptions{
		Cmd:          cmd,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		ConsoleSize:  &[2]uint{uint(size.Rows), uint(size.Cols)},
	})
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", mapDockerErr(err))
	}

	return &dockerExec{execID: resp.ID}, nil
}

func (d *Docker) Attach(ctx context.Context, handle ExecHandle) (*ExecStream, error) {
	exec, ok := handle.(*dockerExec)
	if !ok {
		return nil, fmt.Errorf("attach: foreign exec handle %q", handle.ID())
	}

	resp, err := d.client.ContainerExecAttach(ctx, exec.execID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", mapDockerErr(err))
	}

	exec.mu.Lock()
	exec.resp = &resp
	exec.mu.Unlock()

	// With a TTY the hijacked connection carries raw bytes, no multiplexing.
	return &ExecStream{
		Stdin:  resp.Conn,
		Stdout: resp.Conn,
	}, nil
}

func (d *Docker) Resize(ctx context.Context, handle ExecHandle, rows, cols uint16) error {
	err := d.client.ContainerExecResize(ctx, handle.ID(), container.ResizeOptions{
		Height: uint(rows),
		Width:  uint(cols),
	})
	return mapDockerErr(err)
}

// Kill releases the exec by closing its hijacked connection. Docker has no
// exec-kill API; the TTY process receives a hangup when the attach drops.
func (d *Docker) Kill(_ context.Context, handle ExecHandle) error {
	exec, ok := handle.(*dockerExec)
	if !ok {
		return fmt.Errorf("kill: foreign exec handle %q", handle.ID())
	}

	exec.mu.Lock()
	resp := exec.resp
	exec.resp = nil
	exec.mu.Unlock()

	if resp != nil {
		resp.Close()
	}
	return nil
}

var _ Gateway = (*Docker)(nil)
