package runtime

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/hostcall"
)

// errAborted unwinds a suspended guest that will never be resumed.
var errAborted = errors.New(errors.PhaseReset, errors.KindInvalidState).
	Detail("suspended run abandoned").
	Build()

// guestEvent is what the guest side reports to the host side: either a
// host call it is blocked on, or the end of the run.
type guestEvent struct {
	call    *hostcall.Call
	mem     api.Memory
	err     error
	results []uint64
}

// resumeEvent is what the host side hands back to a blocked host call.
type resumeEvent struct {
	err     error
	results []uint64
}

// guestSwitch is the per-instance context switch. The guest runs on its
// own goroutine; control passes back and forth over two unbuffered
// channels, so exactly one side executes at any time.
type guestSwitch struct {
	toHost  chan guestEvent
	toGuest chan resumeEvent
}

func newGuestSwitch() *guestSwitch {
	return &guestSwitch{
		toHost:  make(chan guestEvent),
		toGuest: make(chan resumeEvent),
	}
}

// HostCall implements engine.Switch. It runs on the guest goroutine.
func (s *guestSwitch) HostCall(_ context.Context, call hostcall.Call, mem api.Memory) ([]uint64, error) {
	s.toHost <- guestEvent{call: &call, mem: mem}
	ev := <-s.toGuest
	return ev.results, ev.err
}

// enter starts fn on a fresh guest goroutine and blocks until it yields or
// finishes.
func (s *guestSwitch) enter(ctx context.Context, fn api.Function, args []uint64) guestEvent {
	ctx = engine.WithSwitch(ctx, s)
	go func() {
		results, err := fn.Call(ctx, args...)
		s.toHost <- guestEvent{results: results, err: err}
	}()
	return <-s.toHost
}

// resume unblocks the pending host call and waits for the next event.
func (s *guestSwitch) resume(results []uint64, err error) guestEvent {
	s.toGuest <- resumeEvent{results: results, err: err}
	return <-s.toHost
}

// abort unwinds a suspended guest. The pending host call panics with
// errAborted, which ends the run.
func (s *guestSwitch) abort() {
	_ = s.resume(nil, errAborted)
}
