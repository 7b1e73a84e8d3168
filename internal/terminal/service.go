package terminal

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/termgate/termgate/internal/gateway"
)

// Options tune a Service.
type Options struct {
	// Shell is the command line started inside the container ("/bin/bash").
	Shell string
	// ReplaySize is the per-session replay buffer capacity in bytes.
	ReplaySize int
	// InitialRows and InitialCols set the TTY geometry before the client's
	// first resize arrives.
	InitialRows uint16
	InitialCols uint16
}

// Service orchestrates session lifecycle across the registry and the
// gateway: open, attach, close. It is the only mutator of sessions apart
// from the cleanup loop's forced closes, which also go through it.
type Service struct {
	gw   gateway.Gateway
	reg  *Registry
	opts Options
}

func NewService(gw gateway.Gateway, reg *Registry, opts Options) *Service {
	if opts.Shell == "" {
		opts.Shell = "/bin/bash"
	}
	if opts.InitialRows == 0 {
		opts.InitialRows = 24
	}
	if opts.InitialCols == 0 {
		opts.InitialCols = 80
	}
	return &Service{gw: gw, reg: reg, opts: opts}
}

// OpenSession validates the container, reserves a registry slot, and starts
// an exec shell. The registry reservation comes first so capacity errors
// never cost a runtime round-trip; any later failure rolls the reservation
// back so no slot leaks.
func (svc *Service) OpenSession(ctx context.Context, containerRef, owner string) (*Session, error) {
	s, err := svc.reg.Create(svc.gw, containerRef, owner, svc.opts.ReplaySize)
	if err != nil {
		return nil, err
	}

	rollback := func(reason string) {
		s.Close(reason)
		svc.reg.Remove(s.ID)
	}

	status, err := svc.gw.ContainerStatus(ctx, containerRef)
	if err != nil {
		rollback("open failed")
		return nil, fmt.Errorf("container status: %w", err)
	}
	if status != gateway.StatusRunning {
		rollback("open failed")
		return nil, fmt.Errorf("%w: %s is %s", gateway.ErrContainerNotRunning, containerRef, status)
	}

	handle, err := svc.gw.CreateExec(ctx, containerRef, strings.Fields(svc.opts.Shell), gateway.TTYSize{
		Rows: svc.opts.InitialRows,
		Cols: svc.opts.InitialCols,
	})
	if err != nil {
		rollback("open failed")
		return nil, fmt.Errorf("create exec: %w", err)
	}

	stream, err := svc.gw.Attach(ctx, handle)
	if err != nil {
		if killErr := svc.gw.Kill(ctx, handle); killErr != nil {
			log.Printf("[service] kill after failed attach: %v", killErr)
		}
		rollback("open failed")
		return nil, fmt.Errorf("attach exec: %w", err)
	}

	if err := s.bind(handle, stream); err != nil {
		rollback("open failed")
		return nil, err
	}

	log.Printf("[service] session %s opened: container=%s owner=%s", s.ID, containerRef, owner)
	return s, nil
}

// Attach authorizes the caller and connects its sink to the session,
// returning the session and the replay backlog to deliver first.
func (svc *Service) Attach(sessionID, owner string, sink io.Writer) (*Session, []byte, error) {
	s := svc.reg.Get(sessionID)
	if s == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	backlog, err := s.Attach(owner, sink)
	if err != nil {
		return nil, nil, err
	}
	return s, backlog, nil
}

// Session returns a registered session by ID, or nil.
func (svc *Service) Session(sessionID string) *Session {
	return svc.reg.Get(sessionID)
}

// Sessions lists the sessions bound to a container.
func (svc *Service) Sessions(containerRef string) []*Session {
	return svc.reg.ListByContainer(containerRef)
}

// Count returns the number of live sessions.
func (svc *Service) Count() int {
	return svc.reg.Count()
}

// GatewayName identifies the backing runtime.
func (svc *Service) GatewayName() string {
	return svc.gw.Name()
}

// CloseSession tears down a session and removes it from the registry.
// Idempotent at the session level; a missing ID is an error so callers can
// distinguish "never existed" from "closed".
func (svc *Service) CloseSession(sessionID, reason string) error {
	s := svc.reg.Get(sessionID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.Close(reason)
	svc.reg.Remove(sessionID)
	return nil
}

// CloseAll force-closes every session, used during service shutdown.
func (svc *Service) CloseAll(reason string) {
	for _, s := range svc.reg.List() {
		s.Close(reason)
		svc.reg.Remove(s.ID)
	}
}

// Reap closes every session reported expired at now. One failing close
// never blocks the rest; failures are logged and counted, not raised.
func (svc *Service) Reap(now time.Time, idleTimeout, hardTimeout time.Duration) int {
	reaped := 0
	for _, id := range svc.reg.ListExpired(now, idleTimeout, hardTimeout) {
		if err := svc.CloseSession(id, "expired"); err != nil {
			log.Printf("[service] reap %s: %v", id, err)
			continue
		}
		reaped++
	}
	return reaped
}
