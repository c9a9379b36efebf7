//go:build unix

package sigrelay_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/archdbg/archdbg/pkg/sigrelay"
)

func mustRelay(t *testing.T) *sigrelay.Relay {
	t.Helper()
	r, err := sigrelay.Init(sigrelay.Pipe)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

func TestInitOnce(t *testing.T) {
	r := mustRelay(t)
	r2, err := sigrelay.Init(sigrelay.Direct)
	if err != nil {
		t.Fatal(err)
	}
	if r != r2 {
		t.Errorf("second Init returned a different relay")
	}
	if r2.Strategy() != sigrelay.Pipe {
		t.Errorf("strategy changed to %v", r2.Strategy())
	}
}

func TestWaitTimeout(t *testing.T) {
	r := mustRelay(t)
	r.Pending()
	start := time.Now()
	if !r.Wait(30) {
		t.Skip("unrelated SIGCHLD arrived during the wait")
	}
	if d := time.Since(start); d < 25*time.Millisecond {
		t.Errorf("Wait(30) returned after %v", d)
	}
}

func TestWaitSignal(t *testing.T) {
	r := mustRelay(t)
	r.Pending()

	chained := make(chan os.Signal, 4)
	r.Chain(func(sig os.Signal) {
		select {
		case chained <- sig:
		default:
		}
	})

	if err := unix.Kill(os.Getpid(), unix.SIGCHLD); err != nil {
		t.Fatal(err)
	}
	if r.Wait(5000) {
		t.Fatalf("Wait timed out after SIGCHLD")
	}
	select {
	case sig := <-chained:
		if sig != unix.SIGCHLD {
			t.Errorf("chained handler got %v", sig)
		}
	case <-time.After(5 * time.Second):
		t.Errorf("chained handler not called")
	}
}

func TestPending(t *testing.T) {
	r := mustRelay(t)
	r.Pending()
	for i := 0; i < 2; i++ {
		if err := unix.Kill(os.Getpid(), unix.SIGCHLD); err != nil {
			t.Fatal(err)
		}
	}
	// Signals may be coalesced, wait for at least one to be relayed.
	deadline := time.Now().Add(5 * time.Second)
	n := 0
	for n == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		n = r.Pending()
	}
	if n == 0 {
		t.Fatalf("no pending signal")
	}
	if n := r.Pending(); n != 0 {
		t.Errorf("%d signals left after draining", n)
	}
}

func TestRetryEINTR(t *testing.T) {
	calls := 0
	err := sigrelay.RetryEINTR(func() error {
		calls++
		if calls < 3 {
			return unix.EINTR
		}
		return unix.EBADF
	})
	if !errors.Is(err, unix.EBADF) || calls != 3 {
		t.Errorf("RetryEINTR = %v after %d calls", err, calls)
	}

	fds := []unix.PollFd{{Fd: -1}}
	if n, err := sigrelay.Poll(fds, 10); err != nil || n != 0 {
		t.Errorf("Poll on a negative fd = %d, %v", n, err)
	}
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]sigrelay.Strategy{"": sigrelay.Default, "pipe": sigrelay.Pipe, "direct": sigrelay.Direct} {
		got, err := sigrelay.ParseStrategy(in)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := sigrelay.ParseStrategy("signalfd"); err == nil {
		t.Errorf("unknown strategy accepted")
	}
}
