//go:build windows

package main

import (
	"context"
	"time"
)

const resizePollInterval = time.Second

// watchResize polls the console size since Windows has no SIGWINCH.
func watchResize(ctx context.Context, resize func()) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(resizePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				resize()
			}
		}
	}()
	return cancel
}
