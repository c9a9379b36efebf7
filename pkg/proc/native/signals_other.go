//go:build !unix

package native

func hostSignals() []SignalEntry {
	return []SignalEntry{{2, "SIGINT"}, {9, "SIGKILL"}, {15, "SIGTERM"}}
}
