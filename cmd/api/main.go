package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gigflow/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		logging.NewSublogger("cmd").WithError(err).Error("command failed")
		os.Exit(1)
	}
}
