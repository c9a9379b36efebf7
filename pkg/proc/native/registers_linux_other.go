//go:build linux && !amd64 && !arm

package native

import (
	"github.com/archdbg/archdbg/pkg/regs"
)

func readRegisters(pid int, gen uint64) (*regs.State, error) {
	return nil, ErrUnsupportedArch
}

func writeRegisters(pid int, st *regs.State) error {
	return ErrUnsupportedArch
}
