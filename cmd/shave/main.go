package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/root4loot/goutils/log"

	"github.com/root4loot/shave/internal/errors"
)

const (
	author  = "@danielantonsen"
	version = "0.2.0"
)

func init() {
	log.Init("shave")
}

func main() {
	// Interrupts cancel the run; the driver is still torn down.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newApp().rootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// reportError logs the error that ended the run. A cleanup failure that
// followed it is logged separately as a warning.
func reportError(err error) {
	if ce, ok := err.(*errors.CompoundError); ok {
		log.Error(ce.Primary)
		log.Warnf("additionally: %v", ce.Secondary)
		return
	}
	log.Error(err)
}
