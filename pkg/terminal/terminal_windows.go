package terminal

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
)

// getColorableWriter will return a writer that is capable
// of interpreting ANSI escape codes for terminal colors.
func getColorableWriter() io.Writer {
	if strings.ToLower(os.Getenv("ConEmuANSI")) == "on" {
		return os.Stdout
	}
	return colorable.NewColorableStdout()
}
