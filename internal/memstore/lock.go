package memstore

import (
	"fmt"
	"os"
	"time"
)

const (
	lockMaxAttempts = 5
	lockBackoffStep = 15 * time.Millisecond
)

// acquireLock takes the cross-process advisory lock by exclusive-create of
// <path>.lock, retrying with linear backoff. It returns the release func,
// the total wait, and the number of retries burned.
func (s *Store) acquireLock() (release func(), wait time.Duration, retries int, err error) {
	lockPath := s.path + ".lock"
	start := time.Now()
	for attempt := 1; attempt <= lockMaxAttempts; attempt++ {
		f, createErr := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if createErr == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			release = func() {
				f.Close()
				os.Remove(lockPath)
			}
			return release, time.Since(start), retries, nil
		}
		if !os.IsExist(createErr) {
			return nil, time.Since(start), retries, &FatalError{Op: "acquire lock", Err: createErr}
		}
		if attempt == lockMaxAttempts {
			break
		}
		retries++
		time.Sleep(lockBackoffStep * time.Duration(attempt))
	}
	return nil, time.Since(start), retries, &FatalError{Op: "acquire lock", Err: ErrLockTimeout}
}
