package native

import (
	"runtime"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// ptracer runs functions on a single locked OS thread. ptrace(2) expects
// every request after PTRACE_ATTACH to come from the thread that attached.
type ptracer struct {
	fns  chan func()
	done chan struct{}
}

func newPtracer() *ptracer {
	pt := &ptracer{fns: make(chan func()), done: make(chan struct{})}
	go pt.loop()
	return pt
}

func (pt *ptracer) loop() {
	runtime.LockOSThread()
	for fn := range pt.fns {
		fn()
		pt.done <- struct{}{}
	}
}

func (pt *ptracer) exec(fn func()) {
	pt.fns <- fn
	<-pt.done
}

func (pt *ptracer) close() {
	close(pt.fns)
}

func ptraceDetach(tid, sig int) error {
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_DETACH, uintptr(tid), 1, uintptr(sig), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

func ptraceSingleStep(pid, sig int) error {
	_, _, e1 := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_SINGLESTEP), uintptr(pid), 0, uintptr(sig), 0, 0)
	if e1 != 0 {
		return e1
	}
	return nil
}

func ptracePeekUser(pid int, off uintptr) (uint64, error) {
	var v uint64
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_PEEKUSR, uintptr(pid), off, uintptr(unsafe.Pointer(&v)), 0, 0)
	if err != syscall.Errno(0) {
		return 0, err
	}
	return v, nil
}

func ptracePokeUser(pid int, off uintptr, v uint64) error {
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_POKEUSR, uintptr(pid), off, uintptr(v), 0, 0)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// ptraceGetRegset reads the register set note of pid into buf and returns
// the part the kernel filled.
func ptraceGetRegset(pid int, note uintptr, buf []byte) ([]byte, error) {
	iov := sys.Iovec{Base: &buf[0]}
	iov.SetLen(len(buf))
	_, _, err := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GETREGSET, uintptr(pid), note, uintptr(unsafe.Pointer(&iov)), 0, 0)
	if err != syscall.Errno(0) {
		return nil, err
	}
	return buf[:iov.Len], nil
}

// processVMRead reads from the inferior with process_vm_readv, which
// works without stopping it but not on pages the inferior cannot read.
func processVMRead(pid int, addr uint64, data []byte) (int, error) {
	local := []sys.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []sys.RemoteIovec{{Base: uintptr(addr), Len: len(data)}}
	return sys.ProcessVMReadv(pid, local, remote, 0)
}
