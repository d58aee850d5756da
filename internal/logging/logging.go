// Package logging configures the process-wide phuslu logger.
package logging

import (
	"io"
	"os"

	"github.com/phuslu/log"
)

// Setup installs a console logger at the given level ("info" when empty).
// Output goes to stderr unless w is non-nil.
func Setup(level string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	if level == "" {
		level = "info"
	}
	log.DefaultLogger = log.Logger{
		Level:      log.ParseLevel(level),
		Caller:     0,
		TimeFormat: "15:04:05",
		Writer: &log.ConsoleWriter{
			Writer:         w,
			ColorOutput:    w == os.Stderr,
			EndWithMessage: true,
		},
	}
}
