//go:build !unix

package sigrelay

import (
	"os"
)

var childSignal os.Signal

const defaultStrategy = Direct

func newPipe() (int, int, error) { return -1, -1, ErrUnsupported }

func wake(int) {}

func waitPipe(int, int) bool { return true }

func drainPipe(int) int { return 0 }
