package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/termgate/termgate/internal/gateway"
)

// State is the lifecycle state of a terminal session.
type State string

const (
	// StateInitializing means the registry slot is reserved but the exec
	// stream is not yet attached.
	StateInitializing State = "initializing"
	// StateActive means the exec stream is live.
	StateActive State = "active"
	// StateIdle means the exec stream is live but no client connection is
	// attached; the owner can reattach.
	StateIdle State = "idle"
	// StateClosing means teardown is in progress.
	StateClosing State = "closing"
	// StateClosed is terminal: the exec handle is released and the session
	// removed from the registry.
	StateClosed State = "closed"
)

// MaxInputMessageSize caps a single client input message (64 KB).
const MaxInputMessageSize = 64 * 1024

// MaxResizeCols and MaxResizeRows bound resize requests.
const (
	MaxResizeCols uint16 = 500
	MaxResizeRows uint16 = 500
)

// killTimeout bounds the gateway kill issued during teardown so a hung
// runtime call cannot stall the closer.
const killTimeout = 5 * time.Second

// Session is one interactive shell bound to a single container and a single
// owning identity. It exclusively owns its exec handle; all I/O on the
// handle goes through the session.
type Session struct {
	ID           string
	ContainerRef string
	Owner        string
	CreatedAt    time.Time

	gw gateway.Gateway

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	handle       gateway.ExecHandle
	stream       *gateway.ExecStream
	sink         io.Writer
	replay       *ReplayBuffer
	reason       string

	closeOnce sync.Once
	done      chan struct{}
	// onClosed unlinks the session from the registry once teardown finishes.
	onClosed func()
}

func newSession(id, containerRef, owner string, gw gateway.Gateway, replaySize int, onClosed func()) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		ContainerRef: containerRef,
		Owner:        owner,
		CreatedAt:    now,
		gw:           gw,
		state:        StateInitializing,
		lastActivity: now,
		replay:       NewReplayBuffer(replaySize),
		done:         make(chan struct{}),
		onClosed:     onClosed,
	}
}

// bind hands the exec handle and stream to the session and starts the
// output relay. Initializing → Active.
func (s *Session) bind(handle gateway.ExecHandle, stream *gateway.ExecStream) error {
	s.mu.Lock()
	if s.state != StateInitializing {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.handle = handle
	s.stream = stream
	s.state = StateActive
	s.lastActivity = time.Now()
	s.mu.Unlock()

	go s.relay()
	return nil
}

// relay is the single reader of the exec stream. It feeds output into the
// replay buffer and the attached client sink, in order, for the lifetime of
// the exec process.
func (s *Session) relay() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.stream.Stdout.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.replay.Append(data)
			s.forward(data)
			s.touch()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.Close("process exited")
			} else {
				s.Close("connection lost")
			}
			return
		}
	}
}

// forward writes output to the attached sink, detaching on write failure so
// a dead client does not kill the session.
func (s *Session) forward(data []byte) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}
	if _, err := sink.Write(data); err != nil {
		log.Printf("[session] %s client sink failed, detaching: %v", s.ID, err)
		s.Detach()
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the last read or write.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Attached reports whether a client connection currently holds the session.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink != nil
}

// Reason returns the close reason, empty while the session lives.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed once the session has finished closing.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Attach connects a client sink to the session and returns the replay
// buffer contents for the client to catch up on. Only the owning identity
// may attach, and only one client at a time. Idle → Active.
func (s *Session) Attach(owner string, sink io.Writer) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner != s.Owner {
		return nil, fmt.Errorf("%w: session %s", ErrUnauthorized, s.ID)
	}
	if s.state != StateActive && s.state != StateIdle {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionClosed, s.ID, s.state)
	}
	if s.sink != nil {
		return nil, fmt.Errorf("%w: session %s", ErrAlreadyAttached, s.ID)
	}

	s.sink = sink
	s.state = StateActive
	s.lastActivity = time.Now()
	return s.replay.Bytes(), nil
}

// Detach releases the client sink. The exec process keeps running and the
// session becomes Idle, eligible for reattach or idle expiry.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = nil
	if s.state == StateActive {
		s.state = StateIdle
	}
	s.lastActivity = time.Now()
}

// WriteInput forwards client bytes to the exec stream.
func (s *Session) WriteInput(p []byte) (int, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: session %s is %s", ErrSessionClosed, s.ID, s.state)
	}
	stream := s.stream
	s.mu.Unlock()

	n, err := stream.Stdin.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	s.touch()
	return n, nil
}

// Resize changes the exec TTY geometry. Only valid while Active.
func (s *Session) Resize(ctx context.Context, rows, cols uint16) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s", ErrSessionClosed, s.ID, s.state)
	}
	handle := s.handle
	s.mu.Unlock()

	if err := s.gw.Resize(ctx, handle, rows, cols); err != nil {
		log.Printf("[session] %s resize failed: %v", s.ID, err)
		return err
	}
	return nil
}

// Expired reports whether the session is past its idle timeout while
// unattached, or past the hard cap regardless of activity. A non-positive
// timeout disables the corresponding check.
func (s *Session) Expired(now time.Time, idleTimeout, hardTimeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosing || s.state == StateClosed {
		return false
	}
	if idleTimeout > 0 && s.sink == nil && now.Sub(s.lastActivity) > idleTimeout {
		return true
	}
	if hardTimeout > 0 && now.Sub(s.CreatedAt) > hardTimeout {
		return true
	}
	return false
}

// Close tears the session down: Closing → kill the exec handle → Closed →
// unlink from the registry. Idempotent and safe to call concurrently from
// the client, an explicit close request, and the cleanup loop; exactly one
// caller executes the teardown and the first reason wins.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		s.reason = reason
		s.sink = nil
		handle := s.handle
		s.mu.Unlock()

		if handle != nil {
			ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
			if err := s.gw.Kill(ctx, handle); err != nil {
				log.Printf("[session] %s kill failed: %v", s.ID, err)
			}
			cancel()
		}
		s.replay.Close()

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.done)

		if s.onClosed != nil {
			s.onClosed()
		}
		log.Printf("[session] %s closed (%s)", s.ID, reason)
	})
}
