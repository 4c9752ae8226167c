package logging

import (
	"io"
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the rotating log file.
type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds the process logger: a size-rotated file at opts.Path, teed
// into each extra writer. The terminal UI passes a writer here so log
// lines show up in its log pane as well. The returned closer flushes and
// closes the file; call it after the logger goes quiet.
func New(opts Options, extra ...io.Writer) (*log.Logger, io.Closer) {
	rotator := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}

	writers := make([]io.Writer, 0, len(extra)+1)
	writers = append(writers, rotator)
	writers = append(writers, extra...)

	return log.New(io.MultiWriter(writers...), "", log.LstdFlags), rotator
}
