package layout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Retry configuration
const (
	maxRetries     = 3
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// Move relocates src to dst, creating parent directories. It never replaces an
// existing dst when it has to fall back to copying across filesystems.
// Temporary failures are retried with exponential backoff.
func Move(ctx context.Context, src, dst string) error {
	err := retryWithBackoff(ctx, "create directory", func() error {
		return os.MkdirAll(filepath.Dir(dst), 0o755)
	})
	if err != nil {
		return err
	}
	return retryWithBackoff(ctx, "move file", func() error {
		return moveFile(src, dst)
	})
}

// moveFile moves a file from src to dst.
// Uses os.Rename if possible, otherwise copies and deletes.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return err
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyFile copies src to a new file dst; it fails if dst exists.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		os.Remove(dst)
		return err
	}
	if err := dstFile.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

// retryWithBackoff executes an operation with exponential backoff retry.
// Each attempt runs to completion on the calling goroutine and its result is
// final: ctx is only consulted between attempts, so a returned error always
// means the last attempt did not take effect.
func retryWithBackoff(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: cancelled after %d attempts: %w", operation, attempt, lastErr)
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		} else if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: cancelled: %w", operation, err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return fmt.Errorf("%s: %w", operation, err)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", operation, maxRetries+1, lastErr)
}

// isRetryableError reports whether err is a transient filesystem condition.
// Permission and existence errors are final: writability is checked up front.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range []unix.Errno{unix.EBUSY, unix.ETXTBSY, unix.EAGAIN, unix.EINTR, unix.EIO} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
