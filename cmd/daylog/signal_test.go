//go:build unix

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestSignalContextRepeatedSignal(t *testing.T) {
	repeated := make(chan struct{}, 1)
	ctx, stop := signalContext(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), func() {
		select {
		case repeated <- struct{}{}:
		default:
		}
	})
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by the first signal")
	}
	select {
	case <-repeated:
		t.Fatal("first signal treated as a repeat")
	default:
	}

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	select {
	case <-repeated:
	case <-time.After(5 * time.Second):
		t.Fatal("second signal did not escalate")
	}
}

func TestSignalContextStop(t *testing.T) {
	ctx, stop := signalContext(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	stop()
	stop()
	if ctx.Err() == nil {
		t.Error("context still live after stop")
	}
}
