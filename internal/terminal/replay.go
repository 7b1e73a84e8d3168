package terminal

import "sync"

// defaultReplaySize is the fallback replay buffer capacity (1 MB).
const defaultReplaySize = 1024 * 1024

// ReplayBuffer keeps the most recent terminal output so a reattaching client
// sees what it missed while the session was idle. When the buffer exceeds
// its capacity, the oldest bytes are dropped.
type ReplayBuffer struct {
	mu     sync.Mutex
	data   []byte
	max    int
	closed bool
}

// NewReplayBuffer creates a buffer holding up to max bytes. A non-positive
// max selects defaultReplaySize.
func NewReplayBuffer(max int) *ReplayBuffer {
	if max <= 0 {
		max = defaultReplaySize
	}
	return &ReplayBuffer{max: max}
}

// Append adds output to the buffer, dropping the oldest bytes past capacity.
// Appends after Close are discarded.
func (b *ReplayBuffer) Append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		b.data = b.data[len(b.data)-b.max:]
	}
}

// Bytes returns a copy of the buffered output.
func (b *ReplayBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the buffered byte count.
func (b *ReplayBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Close releases the buffer; subsequent appends are no-ops.
func (b *ReplayBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.data = nil
}
