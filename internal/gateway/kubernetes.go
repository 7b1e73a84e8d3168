package gateway

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"sync"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
)

// Kubernetes runs exec sessions inside pods via the API server's exec
// subresource (SPDY). A container ref is a pod name in the configured
// namespace.
type Kubernetes struct {
	clientset  *kubernetes.Clientset
	restConfig *rest.Config
	namespace  string

	// newExecutor builds the exec transport; swapped out in tests.
	newExecutor func(config *rest.Config, method string, url *url.URL) (remotecommand.Executor, error)
}

// NewKubernetes builds a client from the in-cluster service account when
// available, falling back to the default kubeconfig, and verifies the
// namespace is reachable.
func NewKubernetes(ctx context.Context, namespace string) (*Kubernetes, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename()
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("k8s config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8s clientset: %w", err)
	}

	if _, err := clientset.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{}); err != nil {
		return nil, fmt.Errorf("k8s namespace check: %w: %v", ErrRuntimeUnavailable, err)
	}

	log.Printf("Kubernetes API connected (namespace %s)", namespace)
	return &Kubernetes{
		clientset:   clientset,
		restConfig:  cfg,
		namespace:   namespace,
		newExecutor: remotecommand.NewSPDYExecutor,
	}, nil
}

func (k *Kubernetes) Name() string {
	return "kubernetes"
}

func (k *Kubernetes) ContainerStatus(ctx context.Context, ref string) (Status, error) {
	pod, err := k.clientset.CoreV1().Pods(k.namespace).Get(ctx, ref, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", fmt.Errorf("%w: pod %s", ErrContainerNotFound, ref)
		}
		return "", fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}

	switch pod.Status.Phase {
	case corev1.PodRunning:
		return StatusRunning, nil
	case corev1.PodPending:
		return StatusStarting, nil
	default: // Succeeded, Failed, Unknown
		return StatusStopped, nil
	}
}

// termSizeQueue feeds resize events into the SPDY stream.
type termSizeQueue struct {
	ch chan remotecommand.TerminalSize
}

func (q *termSizeQueue) Next() *remotecommand.TerminalSize {
	size, ok := <-q.ch
	if !ok {
		return nil
	}
	return &size
}

// k8sExec is the Kubernetes ExecHandle. The pipes bridge the caller-facing
// ExecStream with the SPDY stream started by Attach.
type k8sExec struct {
	pod string
	id  string

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	mu     sync.Mutex
	sizeCh chan remotecommand.TerminalSize
	cmd    []string
	cancel context.CancelFunc
	killed bool
}

func (e *k8sExec) ID() string {
	return e.id
}

func (k *Kubernetes) CreateExec(ctx context.Context, ref string, cmd []string, size TTYSize) (ExecHandle, error) {
	status, err := k.ContainerStatus(ctx, ref)
	if err != nil {
		return nil, err
	}
	if status != StatusRunning {
		return nil, fmt.Errorf("%w: pod %s is %s", ErrContainerNotRunning, ref, status)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	sizeCh := make(chan remotecommand.TerminalSize, 1)
	sizeCh <- remotecommand.TerminalSize{Width: size.Cols, Height: size.Rows}

	return &k8sExec{
		pod:     ref,
		id:      fmt.Sprintf("%s/%s", k.namespace, ref),
		stdinR:  stdinR,
		stdinW:  stdinW,
		stdoutR: stdoutR,
		stdoutW: stdoutW,
		sizeCh:  sizeCh,
		cmd:     cmd,
	}, nil
}

func (k *Kubernetes) Attach(_ context.Context, handle ExecHandle) (*ExecStream, error) {
	exec, ok := handle.(*k8sExec)
	if !ok {
		return nil, fmt.Errorf("attach: foreign exec handle %q", handle.ID())
	}

	req := k.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(exec.pod).
		Namespace(k.namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: exec.cmd,
			Stdin:   true,
			Stdout:  true,
			Stderr:  false,
			TTY:     true,
		}, scheme.ParameterCodec)

	executor, err := k.newExecutor(k.restConfig, "POST", req.URL())
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w: %v", ErrRuntimeUnavailable, err)
	}

	// The stream must outlive the attach call: the caller's context belongs
	// to one HTTP request, while the exec process keeps running across
	// detach and reattach. Kill cancels this context.
	streamCtx, cancel := context.WithCancel(context.Background())
	exec.mu.Lock()
	exec.cancel = cancel
	exec.mu.Unlock()

	go func() {
		defer exec.stdoutW.Close()
		err := executor.StreamWithContext(streamCtx, remotecommand.StreamOptions{
			Stdin:             exec.stdinR,
			Stdout:            exec.stdoutW,
			Tty:               true,
			TerminalSizeQueue: &termSizeQueue{ch: exec.sizeCh},
		})
		if err != nil {
			log.Printf("k8s exec %s stream ended: %v", exec.id, err)
		}
	}()

	return &ExecStream{
		Stdin:  exec.stdinW,
		Stdout: exec.stdoutR,
	}, nil
}

func (k *Kubernetes) Resize(_ context.Context, handle ExecHandle, rows, cols uint16) error {
	exec, ok := handle.(*k8sExec)
	if !ok {
		return fmt.Errorf("resize: foreign exec handle %q", handle.ID())
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.killed {
		return fmt.Errorf("resize: exec %s already released", exec.id)
	}
	// Drain any pending size so the newest is always delivered.
	select {
	case <-exec.sizeCh:
	default:
	}
	exec.sizeCh <- remotecommand.TerminalSize{Width: cols, Height: rows}
	return nil
}

func (k *Kubernetes) Kill(_ context.Context, handle ExecHandle) error {
	exec, ok := handle.(*k8sExec)
	if !ok {
		return fmt.Errorf("kill: foreign exec handle %q", handle.ID())
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.killed {
		return nil
	}
	exec.killed = true
	if exec.cancel != nil {
		exec.cancel()
	}
	close(exec.sizeCh)
	exec.stdinW.Close()
	exec.stdinR.Close()
	exec.stdoutR.Close()
	return nil
}

var _ Gateway = (*Kubernetes)(nil)
