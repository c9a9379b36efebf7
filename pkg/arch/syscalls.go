package arch

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v2"
)

//go:embed syscalls.yml
var builtinSyscalls []byte

// SyscallEntry describes one system call.
type SyscallEntry struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

var (
	syscallsOnce sync.Once
	syscalls     map[string]map[uint64]SyscallEntry
)

func syscallTable() map[string]map[uint64]SyscallEntry {
	syscallsOnce.Do(func() {
		if err := yaml.Unmarshal(builtinSyscalls, &syscalls); err != nil {
			panic(fmt.Sprintf("builtin syscall table: %v", err))
		}
	})
	return syscalls
}

// LookupSyscall returns system call nr of arch ("x86", "x86-64" or "arm").
func LookupSyscall(arch string, nr uint64) (SyscallEntry, bool) {
	e, ok := syscallTable()[arch][nr]
	return e, ok
}
