package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// FakeAdapter is an in-memory Adapter used by tests for the components
// that sit above the Orchestrator Adapter (Instance Manager, Run
// Coordinator, PTY Broker). It never touches Docker or Kubernetes.
type FakeAdapter struct {
	mu sync.Mutex

	instances    map[string]*Instance // by id
	usedNames    map[string]bool
	usedPorts    map[int]bool
	execOutputs  map[string]*ExecResult // keyed by strings.Join(argv, " ")
	attachedPTYs map[string]*FakePTY
	attachArgv   map[string][]string
	execCalls    []string

	FailCreate  error
	FailDestroy error
}

// NewFakeAdapter constructs an empty FakeAdapter.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		instances:    map[string]*Instance{},
		usedNames:    map[string]bool{},
		usedPorts:    map[int]bool{},
		execOutputs:  map[string]*ExecResult{},
		attachedPTYs: map[string]*FakePTY{},
		attachArgv:   map[string][]string{},
	}
}

func (f *FakeAdapter) Create(_ context.Context, name, _ string, _ map[string]string, ports []PortMap) (*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailCreate != nil {
		return nil, f.FailCreate
	}
	if f.usedNames[name] {
		return nil, &NameInUseError{Name: name}
	}
	for _, p := range ports {
		if f.usedPorts[p.External] {
			return nil, &PortInUseError{Port: p.External}
		}
	}

	id := fmt.Sprintf("fake-%d", len(f.instances)+1)
	inst := &Instance{ID: id, Name: name}
	f.instances[id] = inst
	f.usedNames[name] = true
	for _, p := range ports {
		f.usedPorts[p.External] = true
	}
	return inst, nil
}

func (f *FakeAdapter) Destroy(_ context.Context, instance *Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDestroy != nil {
		return f.FailDestroy
	}
	if instance == nil {
		return nil
	}
	delete(f.instances, instance.ID)
	delete(f.usedNames, instance.Name)
	return nil
}

func (f *FakeAdapter) Lookup(_ context.Context, idOrPrefix string) (*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if inst, ok := f.instances[idOrPrefix]; ok {
		return inst, nil
	}

	var matches []*Instance
	for id, inst := range f.instances {
		if len(idOrPrefix) > 0 && len(id) >= len(idOrPrefix) && id[:len(idOrPrefix)] == idOrPrefix {
			matches = append(matches, inst)
		}
	}
	switch len(matches) {
	case 0:
		return nil, &LookupError{Message: "no instance matches " + idOrPrefix}
	case 1:
		return matches[0], nil
	default:
		return nil, &LookupError{Ambiguous: true, Message: "ambiguous prefix " + idOrPrefix}
	}
}

// SetExecOutput configures the canned response for a given argv joined by
// spaces; useful for scripting the graphical-probe command in tests.
func (f *FakeAdapter) SetExecOutput(cmd string, result *ExecResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execOutputs[cmd] = result
}

func (f *FakeAdapter) Exec(_ context.Context, _ *Instance, argv []string, _ ExecOptions) (*ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := joinArgs(argv)
	f.execCalls = append(f.execCalls, key)
	if r, ok := f.execOutputs[key]; ok {
		return r, nil
	}
	return &ExecResult{ExitCode: 0}, nil
}

// ExecCalls returns every command joined and run via Exec, in call order.
func (f *FakeAdapter) ExecCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.execCalls...)
}

func (f *FakeAdapter) Attach(_ context.Context, instance *Instance, argv []string) (PTY, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pty := NewFakePTY()
	f.attachedPTYs[instance.ID] = pty
	f.attachArgv[instance.ID] = append([]string(nil), argv...)
	return pty, nil
}

// AttachArgvFor returns the argv most recently passed to Attach for
// instanceID, for tests that need to inspect how the PTY Broker attached.
func (f *FakeAdapter) AttachArgvFor(instanceID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachArgv[instanceID]
}

// PTYFor returns the most recently attached FakePTY for instance.ID, for
// tests that need to inspect what the PTY Broker or Run Coordinator wrote.
func (f *FakeAdapter) PTYFor(instanceID string) *FakePTY {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachedPTYs[instanceID]
}

func joinArgs(argv []string) string {
	b := bytes.Buffer{}
	for i, a := range argv {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(a)
	}
	return b.String()
}

var _ Adapter = (*FakeAdapter)(nil)

// FakePTY is an in-memory PTY: writes are recorded, and reads drain a
// preloaded buffer — enough to drive the PTY Broker's pump logic in tests.
type FakePTY struct {
	mu      sync.Mutex
	written bytes.Buffer
	toRead  bytes.Buffer
	closed  bool
}

func NewFakePTY() *FakePTY { return &FakePTY{} }

func (p *FakePTY) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, fmt.Errorf("pty closed")
	}
	return p.written.Write(b)
}

func (p *FakePTY) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.toRead.Len() == 0 {
		if p.closed {
			return 0, bytesEOF
		}
		return 0, nil
	}
	return p.toRead.Read(b)
}

func (p *FakePTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Feed appends bytes that the next Read calls will return, simulating
// output the shell produced.
func (p *FakePTY) Feed(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toRead.Write(b)
}

// Written returns everything written to the PTY so far.
func (p *FakePTY) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

var bytesEOF = fmt.Errorf("EOF")
