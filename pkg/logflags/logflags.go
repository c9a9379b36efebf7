package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var relay = false
var native = false
var arch = false
var disasm = false
var terminal = false

var logOut io.WriteCloser

func makeLogger(flag bool, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(flag, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatter()
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.ErrorLevel
	}
	return &logrusLogger{logger}
}

func textFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

// Relay returns true if the signal relay should log.
func Relay() bool {
	return relay
}

// RelayLogger returns a logger for the SIGCHLD relay.
func RelayLogger() Logger {
	return makeLogger(relay, Fields{"layer": "relay"})
}

// Native returns true if the inferior controller should log.
func Native() bool {
	return native
}

// NativeLogger returns a logger for the ptrace backend.
func NativeLogger() Logger {
	return makeLogger(native, Fields{"layer": "native"})
}

// Arch returns true if the architecture processors should log.
func Arch() bool {
	return arch
}

// ArchLogger returns a logger for operand resolution and annotation.
func ArchLogger() Logger {
	return makeLogger(arch, Fields{"layer": "arch"})
}

// Disasm returns true if the instruction stream navigator should log.
func Disasm() bool {
	return disasm
}

func DisasmLogger() Logger {
	return makeLogger(disasm, Fields{"layer": "disasm"})
}

// Terminal returns true if the interactive command loop should log.
func Terminal() bool {
	return terminal
}

func TerminalLogger() Logger {
	return makeLogger(terminal, Fields{"layer": "terminal"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "archdbg-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "native"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch strings.TrimSpace(logcmd) {
		case "relay":
			relay = true
		case "native":
			native = true
		case "arch":
			arch = true
		case "disasm":
			disasm = true
		case "terminal":
			terminal = true
		default:
			return fmt.Errorf("unknown log layer %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}
