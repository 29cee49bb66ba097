package utils

import (
	"io"
	"log"
	"os"
)

type Logger struct {
	info *log.Logger
	err  *log.Logger
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, os.Stderr)
}

func NewLoggerTo(out, errOut io.Writer) *Logger {
	flags := log.LstdFlags | log.LUTC
	return &Logger{
		info: log.New(out, "[INFO] ", flags),
		err:  log.New(errOut, "[ERROR] ", flags),
	}
}

// NewDiscardLogger is used by tests and CLI subcommands that print their own output.
func NewDiscardLogger() *Logger {
	return NewLoggerTo(io.Discard, io.Discard)
}

func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	l.info.Printf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.err.Printf(format, args...)
}
