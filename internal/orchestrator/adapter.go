// Package orchestrator provides a uniform create/delete/exec/attach
// interface over either backend (spec.md §4.3): a local Docker daemon or a
// Kubernetes cluster. Every other component in this repository is
// runtime-agnostic and only ever talks to the Adapter interface.
package orchestrator

import (
	"context"
	"io"
)

// PortMap binds one internal container/pod port to one external port.
type PortMap struct {
	Internal int
	External int
}

// Instance is an opaque handle to a provisioned sandbox. Backends populate
// ID with whatever the runtime assigns (container id or pod name).
type Instance struct {
	ID   string
	Name string
}

// ExecOptions configures a short, non-interactive command execution.
type ExecOptions struct {
	Timeout int // seconds; 0 means adapter default
}

// ExecResult is the outcome of a short command run via Exec.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// PTY is a bidirectional byte stream attached to an interactive process
// running inside an instance, with TTY semantics (spec.md §4.3, GLOSSARY).
type PTY interface {
	io.Reader
	io.Writer
	io.Closer
}

// LookupError distinguishes "no such instance" from "ambiguous prefix" so
// callers can map them to distinct HTTP statuses.
type LookupError struct {
	Ambiguous bool
	Message   string
}

func (e *LookupError) Error() string { return e.Message }

// Adapter is the capability set every backend variant implements. Never
// branch on backend kind outside of an Adapter implementation (spec.md §9).
type Adapter interface {
	// Create provisions a new instance bound to external ports per portMap.
	// Fails with *PortInUseError when the external port is already bound at
	// the runtime level, *NameInUseError when the name collides, or a plain
	// error otherwise. Create never retries.
	Create(ctx context.Context, name, image string, env map[string]string, ports []PortMap) (*Instance, error)

	// Destroy tears down an instance. Idempotent: destroying an instance
	// that no longer exists is a success.
	Destroy(ctx context.Context, instance *Instance) error

	// Lookup resolves an id or unique prefix to a live instance handle.
	// Returns a *LookupError (ambiguous or not found) when resolution
	// fails.
	Lookup(ctx context.Context, idOrPrefix string) (*Instance, error)

	// Exec runs a short, non-interactive command and collects its output.
	Exec(ctx context.Context, instance *Instance, argv []string, opts ExecOptions) (*ExecResult, error)

	// Attach spawns an interactive process with a TTY attached and
	// returns a bidirectional stream. The caller owns the returned PTY
	// and must Close it on every exit path.
	Attach(ctx context.Context, instance *Instance, argv []string) (PTY, error)
}

// Sentinel error strings recognized by callers via errors.Is-style string
// matching is deliberately avoided; backends return *PortInUseError /
// *NameInUseError instead so callers can type-assert.

// PortInUseError signals Create failed because the external port was
// already bound at the runtime level.
type PortInUseError struct{ Port int }

func (e *PortInUseError) Error() string { return "port in use" }

// NameInUseError signals Create failed because the candidate name
// collided with an existing runtime object.
type NameInUseError struct{ Name string }

func (e *NameInUseError) Error() string { return "name in use" }
