// Package terminal implements the session core: lifecycle-managed exec
// shells inside containers, a registry enforcing concurrency ceilings, and
// expiration-driven cleanup.
//
// # Components
//
//   - [Session]: one exec stream with a five-state lifecycle
//     (Initializing → Active ⇄ Idle → Closing → Closed), a replay buffer,
//     and an idempotent Close.
//   - [Registry]: the single source of truth for live sessions; global and
//     per-container caps are enforced here, before any runtime work.
//   - [Service]: orchestration — open with rollback on partial failure,
//     authorized attach/detach, close.
//   - [Reaper]: fixed-interval background loop closing expired sessions.
//   - [ReplayBuffer]: bounded buffer of recent output replayed on reattach.
//
// # Session lifecycle
//
//  1. [Service.OpenSession] reserves a registry slot (Initializing), starts
//     the exec shell through the gateway, and binds the stream (Active).
//     A single relay goroutine pumps exec output into the replay buffer and
//     the attached client sink for the lifetime of the process.
//
//  2. Client disconnect detaches the sink (Idle). The shell keeps running;
//     the owning identity can reattach and receives the replay backlog.
//
//  3. Explicit close, stream failure, or expiry tears the session down
//     (Closing → Closed): exactly one gateway kill, then removal from the
//     registry. Close is idempotent under concurrent callers.
//
// # Expiry
//
// A session expires when unattached past the idle timeout, or past the hard
// timeout regardless of activity. [Registry.ListExpired] only reports;
// teardown goes through [Service.CloseSession] so the reaper shares the
// same close path as everyone else.
package terminal
