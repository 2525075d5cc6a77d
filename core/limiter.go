package core

import "sync"

// UnlimitedToolCalls disables the per-run tool call bound.
const UnlimitedToolCalls = -1

// ToolCallLimiter enforces a maximum number of tool invocations per run.
// A negative max means unlimited; zero means no call may be dispatched.
type ToolCallLimiter struct {
	max     int
	count   int
	refused int
	mu      sync.Mutex
}

// NewToolCallLimiter creates a limiter allowing at most max dispatches.
func NewToolCallLimiter(max int) *ToolCallLimiter {
	return &ToolCallLimiter{max: max}
}

// TryAcquire reserves one dispatch. It returns false once the limit is reached.
func (l *ToolCallLimiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max >= 0 && l.count >= l.max {
		l.refused++
		return false
	}
	l.count++
	return true
}

// Count returns the number of dispatches granted so far.
func (l *ToolCallLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Exceeded reports whether at least one call was refused.
func (l *ToolCallLimiter) Exceeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.refused > 0
}

// Remaining returns how many dispatches are left, or -1 when unlimited.
func (l *ToolCallLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max < 0 {
		return -1 // unlimited
	}

	return l.max - l.count
}
