// Package runner hosts agents for many sessions at once.
//
// An agent.Agent owns exactly one session. The Runner sits in front of a
// Factory that builds those agents and adds what a server needs on top:
//
//   - one cached agent per session id, created on first use
//   - runs on the same session are serialised; waiting honours the context
//   - a global bound on runs in flight (golang.org/x/sync/semaphore)
//   - Cancel and Forget for in-flight runs and cached sessions
//
// Any HTTP or CLI surface is expected to be a thin adapter over Run and
// RunStream.
package runner
