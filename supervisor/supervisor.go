// Package supervisor starts one Synchronizer per configured PLC and keeps
// them running until asked to stop, the same "fan out, wait for all" shape
// the upstream library's Poller uses for its batch jobs.
package supervisor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/GoAethereal/cancel"

	syncer "github.com/liamhemmettAA/STRP-MODBUS-MIRROR/sync"
)

// Config controls optional Supervisor behavior. The zero Config is the
// mirror's baseline: synchronizers are not self-healing.
type Config struct {
	// MaxReconnectAttempts bounds how many times each Synchronizer
	// reconnects after a failed run before giving up. Zero (the default)
	// means no retries: a synchronizer that fails terminates immediately
	// and its error is what Run reports. A negative value retries
	// forever.
	MaxReconnectAttempts int
}

// Supervisor owns the full set of per-PLC Synchronizers for one run of the
// mirror.
type Supervisor struct {
	logger        *slog.Logger
	synchronizers []*syncer.Synchronizer
}

// New creates a Supervisor over the given Synchronizers with the default
// Config (no reconnect retries).
func New(logger *slog.Logger, synchronizers []*syncer.Synchronizer) *Supervisor {
	return NewWithConfig(logger, synchronizers, Config{})
}

// NewWithConfig creates a Supervisor over the given Synchronizers,
// applying conf.MaxReconnectAttempts to each of them.
func NewWithConfig(logger *slog.Logger, synchronizers []*syncer.Synchronizer, conf Config) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	for _, sc := range synchronizers {
		sc.SetMaxReconnectAttempts(conf.MaxReconnectAttempts)
	}
	return &Supervisor{logger: logger, synchronizers: synchronizers}
}

// Run starts every Synchronizer in its own goroutine and blocks until they
// have all returned. Cancelling ctx requests cooperative shutdown: each
// Synchronizer finishes its current tick, disconnects both sides, and
// returns nil. Run swallows that cooperative-cancellation case but
// surfaces any other synchronizer failure: it returns the first
// non-cancellation error reported by any synchronizer, so one PLC's
// trouble does not vanish silently while the others keep running and are
// still given the chance to shut down cleanly.
func (s *Supervisor) Run(ctx cancel.Context) error {
	stdCtx, stop := cancel.Promote(ctx)
	defer stop()

	if len(s.synchronizers) == 0 {
		<-stdCtx.Done()
		return nil
	}

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, sc := range s.synchronizers {
		wg.Add(1)
		go func(sc *syncer.Synchronizer) {
			defer wg.Done()
			if err := runOne(stdCtx, sc); err != nil {
				s.logger.Error("synchronizer stopped", "error", err)
				once.Do(func() { firstErr = err })
			}
		}(sc)
	}
	wg.Wait()
	return firstErr
}

func runOne(ctx context.Context, sc *syncer.Synchronizer) error {
	return sc.Run(ctx)
}
