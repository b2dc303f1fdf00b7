package main

import (
	"errors"
	"os"

	"github.com/andresuchdata/uploadprobe/internal/probe"
	"github.com/andresuchdata/uploadprobe/pkg/logger"
)

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		// Probe failures and usage errors have already been printed.
		if _, ok := probe.FailedStep(err); !ok && !errors.Is(err, errReported) {
			logger.Log.Error().Err(err).Msg("uploadprobe failed")
		}
		os.Exit(1)
	}
}
