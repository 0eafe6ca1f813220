package commands

import (
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// initLog sends jww output to logPath ("-" or empty means stdout) at the
// given verbosity: 0 info, 1 debug, 2 and above trace.
func initLog(threshold uint, logPath string) error {
	if logPath != "-" && logPath != "" {
		out, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return errors.Wrapf(err, "open log %s", logPath)
		}
		jww.SetStdoutOutput(io.Discard)
		jww.SetLogOutput(out)
	}

	switch {
	case threshold > 1:
		jww.SetStdoutThreshold(jww.LevelTrace)
		jww.SetLogThreshold(jww.LevelTrace)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	case threshold == 1:
		jww.SetStdoutThreshold(jww.LevelDebug)
		jww.SetLogThreshold(jww.LevelDebug)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	default:
		jww.SetStdoutThreshold(jww.LevelInfo)
		jww.SetLogThreshold(jww.LevelInfo)
	}
	jww.DEBUG.Printf("log threshold %d", threshold)
	return nil
}
