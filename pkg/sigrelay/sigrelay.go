// Package sigrelay turns SIGCHLD into something a wait loop can block on
// with a timeout.
//
// The relay is a process wide singleton created by Init. With the Pipe
// strategy every SIGCHLD writes one byte into a non-blocking self-pipe
// and then runs the handlers registered with Chain, Wait polls the read
// end. With the Direct strategy Wait selects on the runtime's signal
// channel itself. Both give the same contract: Wait returns true when the
// timeout expired without a signal.
package sigrelay

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/archdbg/archdbg/pkg/logflags"
)

// Strategy selects how Wait blocks.
type Strategy int

const (
	// Default picks the best strategy for the host.
	Default Strategy = iota
	// Pipe relays signals through a self-pipe polled by Wait.
	Pipe
	// Direct waits on the runtime's signal queue.
	Direct
)

func (s Strategy) String() string {
	switch s {
	case Default:
		return "default"
	case Pipe:
		return "pipe"
	case Direct:
		return "direct"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy parses the wait-strategy configuration value.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "default":
		return Default, nil
	case "pipe":
		return Pipe, nil
	case "direct":
		return Direct, nil
	}
	return Default, fmt.Errorf("unknown wait strategy %q", s)
}

// ErrUnsupported is returned by Init on hosts without child signals.
var ErrUnsupported = errors.New("signal relay not supported on this platform")

// Relay delivers child signals to a waiter.
type Relay struct {
	strategy Strategy
	notify   chan os.Signal

	// pipe ends, -1 with the Direct strategy
	rfd, wfd int

	mu      sync.Mutex
	chained []func(os.Signal)
}

var (
	once    sync.Once
	relay   *Relay
	initErr error
)

// Init installs the relay. Only the first call does any work, later calls
// return the same relay (or error) whatever strategy they ask for.
func Init(strategy Strategy) (*Relay, error) {
	once.Do(func() {
		relay, initErr = install(strategy)
		if initErr != nil {
			logflags.RelayLogger().WithError(initErr).Errorf("could not install signal relay")
		}
	})
	return relay, initErr
}

func install(strategy Strategy) (*Relay, error) {
	if childSignal == nil {
		return nil, ErrUnsupported
	}
	if strategy == Default {
		strategy = defaultStrategy
	}
	r := &Relay{strategy: strategy, notify: make(chan os.Signal, 16), rfd: -1, wfd: -1}
	switch strategy {
	case Pipe:
		rfd, wfd, err := newPipe()
		if err != nil {
			return nil, fmt.Errorf("could not create signal pipe: %w", err)
		}
		r.rfd, r.wfd = rfd, wfd
		signal.Notify(r.notify, childSignal)
		go r.relay()
	case Direct:
		signal.Notify(r.notify, childSignal)
	default:
		return nil, fmt.Errorf("unknown wait strategy %v", strategy)
	}
	if logflags.Relay() {
		logflags.RelayLogger().Debugf("signal relay installed, strategy %v", strategy)
	}
	return r, nil
}

// Strategy returns the strategy the relay was installed with.
func (r *Relay) Strategy() Strategy { return r.strategy }

// Chain registers h to be called for every child signal, after the relay
// has woken the waiter.
func (r *Relay) Chain(h func(os.Signal)) {
	r.mu.Lock()
	r.chained = append(r.chained, h)
	r.mu.Unlock()
}

func (r *Relay) dispatch(sig os.Signal) {
	r.mu.Lock()
	hs := r.chained
	r.mu.Unlock()
	for _, h := range hs {
		h(sig)
	}
}

func (r *Relay) relay() {
	for sig := range r.notify {
		wake(r.wfd)
		r.dispatch(sig)
	}
}

// Wait blocks until a child signal arrives or timeoutMs milliseconds have
// passed, 0 waits forever. It returns true on timeout.
func (r *Relay) Wait(timeoutMs int) bool {
	if r.strategy == Pipe {
		return waitPipe(r.rfd, timeoutMs)
	}
	var timeout <-chan time.Time
	if timeoutMs > 0 {
		t := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case sig := <-r.notify:
		r.dispatch(sig)
		return false
	case <-timeout:
		return true
	}
}

// Pending discards every signal already queued, without blocking, and
// returns how many there were.
func (r *Relay) Pending() int {
	if r.strategy == Pipe {
		return drainPipe(r.rfd)
	}
	n := 0
	for {
		select {
		case sig := <-r.notify:
			r.dispatch(sig)
			n++
		default:
			return n
		}
	}
}
