//go:build !linux

package observer

import "errors"

// ErrUnsupported is returned by Start on platforms without a proc
// connector.
var ErrUnsupported = errors.New("exec observation requires a Linux proc connector")

// StubTracer is the tracer for platforms without exec observation. Start
// fails; Emit allows manual event injection in tests.
type StubTracer struct {
	events    chan ExecEvent
	callbacks []func(ExecEvent)
}

// NewStubTracer creates a stub tracer.
func NewStubTracer(cfg Config) *StubTracer {
	return &StubTracer{
		events: make(chan ExecEvent, 100),
	}
}

func newPlatformTracer(cfg Config) (Tracer, error) {
	return NewStubTracer(cfg), nil
}

func (t *StubTracer) Start() error {
	return ErrUnsupported
}

func (t *StubTracer) Stop() error {
	close(t.events)
	return nil
}

func (t *StubTracer) Events() <-chan ExecEvent {
	return t.events
}

func (t *StubTracer) OnExec(cb func(ExecEvent)) {
	t.callbacks = append(t.callbacks, cb)
}

// Emit injects an event, for tests.
func (t *StubTracer) Emit(ev ExecEvent) {
	for _, cb := range t.callbacks {
		cb(ev)
	}
	select {
	case t.events <- ev:
	default:
	}
}

var _ Tracer = (*StubTracer)(nil)
