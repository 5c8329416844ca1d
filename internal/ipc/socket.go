package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrAlreadyRunning reports a responsive owner already bound to the socket.
var ErrAlreadyRunning = errors.New("parley session already running")

// staleRetryDelay spaces bind attempts after a stale socket is unlinked.
const staleRetryDelay = 25 * time.Millisecond

// RuntimeSocketPath returns the per-user control socket path under XDG_RUNTIME_DIR.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, "parley.sock"), nil
}

// Acquire binds path for a new session owner. A socket left behind by a dead
// owner is unlinked and the bind retried up to retries more times; a live
// owner yields ErrAlreadyRunning. An inconclusive probe never unlinks.
func Acquire(ctx context.Context, path string, probeTimeout time.Duration, retries uint64) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	var listener net.Listener
	backoff := retry.WithMaxRetries(retries, retry.NewConstant(staleRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		bound, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			listener = bound
			return nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, probeTimeout)
		if alive {
			return ErrAlreadyRunning
		}
		if probeErr != nil {
			return fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}

		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return fmt.Errorf("remove stale socket %s: %w", path, removeErr)
		}
		return retry.RetryableError(fmt.Errorf("socket %s was stale after %d retries", path, retries))
	})
	if err != nil {
		return nil, err
	}
	return listener, nil
}
