//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// watchResize calls resize on every SIGWINCH until ctx ends or stop is called.
func watchResize(ctx context.Context, resize func()) (stop func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				resize()
			}
		}
	}()
	return func() {
		signal.Stop(sig)
		cancel()
	}
}
