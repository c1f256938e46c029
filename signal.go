package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that ends when the relay should stop
// polling. The first SIGINT/SIGTERM cancels it so the dispatcher drains the
// interactions it already took; a second one exits without waiting.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return watchSignals(parent, logger, sigCh, func() { signal.Stop(sigCh) }, os.Exit)
}

// watchSignals implements shutdownContext over an arbitrary signal source.
// stop is called once the watcher no longer needs signals.
func watchSignals(
	parent context.Context, logger *slog.Logger,
	sigCh <-chan os.Signal, stop func(), exit func(code int),
) context.Context {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		defer stop()

		select {
		case sig := <-sigCh:
			logger.Info("received signal, draining in-flight interactions",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, abandoning in-flight interactions",
				slog.String("signal", sig.String()),
			)
			exit(1)
		case <-parent.Done():
		}
	}()

	return ctx
}
