package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/liamhemmettAA/STRP-MODBUS-MIRROR/config"
	"github.com/liamhemmettAA/STRP-MODBUS-MIRROR/srtp"
)

const healthTickInterval = 60 * time.Second

// PLCClient is the subset of *srtp.Client a Synchronizer needs.
type PLCClient interface {
	Connect(ctx context.Context) bool
	Disconnect()
	ReadRegisters(ctx context.Context, plcStart uint16, count uint16, area srtp.MemoryArea) ([]uint16, error)
	WriteRegisters(ctx context.Context, plcStart uint16, values []uint16, area srtp.MemoryArea) (bool, error)
}

// ModbusClient is the subset of *mbadapter.Adapter a Synchronizer needs.
type ModbusClient interface {
	Connect(ctx context.Context) error
	Disconnect() error
	ReadHoldingBlock(ctx context.Context, mbStart uint16, count uint16) ([]uint16, error)
	WriteSingleRegister(ctx context.Context, mbStart uint16, value uint16) error
}

// Statistics holds observable counters for one Synchronizer, mirroring the
// shape of the upstream library's per-job batch statistics.
type Statistics struct {
	StartCount         uint64
	TickOKCount        uint64
	TickErrCount       uint64
	WriteToModbusCount uint64
	WriteToPLCCount    uint64
	IsPolling          bool
}

type statsBox struct {
	mu sync.RWMutex
	s  Statistics
}

func (b *statsBox) incStart()          { b.mu.Lock(); b.s.StartCount++; b.mu.Unlock() }
func (b *statsBox) incTickOK()         { b.mu.Lock(); b.s.TickOKCount++; b.mu.Unlock() }
func (b *statsBox) incTickErr()        { b.mu.Lock(); b.s.TickErrCount++; b.mu.Unlock() }
func (b *statsBox) incWroteModbus()    { b.mu.Lock(); b.s.WriteToModbusCount++; b.mu.Unlock() }
func (b *statsBox) incWrotePLC()       { b.mu.Lock(); b.s.WriteToPLCCount++; b.mu.Unlock() }
func (b *statsBox) setPolling(v bool)  { b.mu.Lock(); b.s.IsPolling = v; b.mu.Unlock() }
func (b *statsBox) snapshot() Statistics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.s
}

// Synchronizer mirrors every configured register block for one PLC: each
// tick it reads both sides, resolves conflicts with PLC precedence via
// Area.Reconcile, and writes back only the side that needs to change. By
// default a read or write failure ends Run with that error; only when
// SetMaxReconnectAttempts allows retries does it reconnect with the same
// backoff the upstream poller uses for its jobs.
type Synchronizer struct {
	logger *slog.Logger
	plc    PLCClient
	mb     ModbusClient

	pollInterval time.Duration
	areas        []*Area
	timeNow      func() time.Time

	// maxReconnectAttempts bounds how many times Run reconnects after a
	// failed run before giving up and returning the error. Zero (the
	// default) means no retries: the mirror is not self-healing unless a
	// caller opts in via SetMaxReconnectAttempts.
	maxReconnectAttempts int

	stats statsBox
}

// SetMaxReconnectAttempts configures how many times Run retries a failed
// connection or tick before giving up and returning the error. The default
// is zero: Run fails on the first error and returns it, matching the
// mirror's baseline "not self-healing" behavior. A negative value retries
// forever.
func (s *Synchronizer) SetMaxReconnectAttempts(n int) {
	s.maxReconnectAttempts = n
}

// New creates a Synchronizer for one PLC's configuration.
func New(plc PLCClient, mb ModbusClient, conf config.PlcConfig, pollInterval time.Duration, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	areas := make([]*Area, len(conf.Maps))
	for i, m := range conf.Maps {
		areas[i] = NewArea(m)
	}
	return &Synchronizer{
		logger:       logger,
		plc:          plc,
		mb:           mb,
		pollInterval: pollInterval,
		areas:        areas,
		timeNow:      time.Now,
	}
}

// Statistics returns a snapshot of the Synchronizer's counters.
func (s *Synchronizer) Statistics() Statistics {
	return s.stats.snapshot()
}

// Run connects to both the PLC and the Modbus server and mirrors registers
// until ctx is cancelled. By default a failed connection or a failed tick
// is fatal: Run logs it and returns the error immediately, since the
// mirror is not self-healing unless the caller opts in via
// SetMaxReconnectAttempts. When an attempt budget is set, Run retries up
// to that many times, backing off the same way the upstream poller's
// job.Start does: exponential backoff capped by resetting to the base
// delay whenever a connected run lasted over a minute. Cancellation via
// ctx is always swallowed as a nil return; any other error that exhausts
// the attempt budget is returned to the caller.
func (s *Synchronizer) Run(ctx context.Context) error {
	const baseRetry = 1 * time.Second
	retry := baseRetry
	delay := time.NewTimer(retry)
	defer delay.Stop()

	attempts := 0
	for {
		start := s.timeNow()
		s.stats.incStart()
		s.stats.setPolling(true)
		err := s.runConnected(ctx)
		s.stats.setPolling(false)

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		if s.maxReconnectAttempts >= 0 && attempts >= s.maxReconnectAttempts {
			s.logger.Error("synchronizer run failed, giving up", "error", err, "attempts", attempts)
			return err
		}
		attempts++
		s.reseedAreas()

		elapsed := s.timeNow().Sub(start)
		if elapsed > 1*time.Minute {
			retry = baseRetry
		} else {
			retry = cmp.Or(retry*2, 1*time.Minute)
		}
		s.logger.Error("synchronizer run failed, reconnecting", "error", err, "elapsed", elapsed, "retry", retry, "attempt", attempts)

		if !delay.Stop() {
			select {
			case <-delay.C:
			default:
			}
		}
		delay.Reset(retry)
		select {
		case <-delay.C:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}

// reseedAreas clears every Area's last-seen snapshots so the next tick
// after a reconnect re-runs first-run reconciliation instead of comparing
// against values read before the connection dropped.
func (s *Synchronizer) reseedAreas() {
	for _, area := range s.areas {
		area.reset()
	}
}

func (s *Synchronizer) runConnected(ctx context.Context) error {
	if !s.plc.Connect(ctx) {
		return errors.New("sync: plc connect failed")
	}
	defer s.plc.Disconnect()

	if err := s.mb.Connect(ctx); err != nil {
		return fmt.Errorf("sync: modbus connect failed: %w", err)
	}
	defer s.mb.Disconnect()

	healthTicker := time.NewTicker(healthTickInterval)
	defer healthTicker.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.stats.incTickErr()
				return err
			}
			s.stats.incTickOK()
		case <-healthTicker.C:
			s.logger.Debug("synchronizer health tick", "stats", s.stats.snapshot())
		case <-ctx.Done():
			return nil
		}
	}
}

// tick runs one read/compare/write pass over every configured area. The PLC
// and Modbus reads for an area are issued concurrently so a slow side
// doesn't needlessly stall the other before the comparison, per the
// mirror's per-tick read contract. Area.Reconcile decides per index which
// side needs a write, so a single tick can write some indices to Modbus and
// others to the PLC at the same time.
func (s *Synchronizer) tick(ctx context.Context) error {
	for _, area := range s.areas {
		plcWords, mbWords, err := s.readBoth(ctx, area.Mapping)
		if err != nil {
			return err
		}

		plan := area.Reconcile(plcWords, mbWords)

		if len(plan.ToModbus) > 0 {
			if err := s.writeToModbus(ctx, area.Mapping, plan.ToModbus); err != nil {
				return err
			}
			s.stats.incWroteModbus()
		}
		if len(plan.ToPLC) > 0 {
			if err := s.writeToPLC(ctx, area.Mapping, plan.ToPLC); err != nil {
				return err
			}
			s.stats.incWrotePLC()
		}
	}
	return nil
}

// writeToPLC issues one PlcClient write per index: the values in writes are
// already domain-adjusted (byte-swapped if the mapping requires it) by
// Area.Reconcile, so they go straight onto the wire at plc_start + index.
func (s *Synchronizer) writeToPLC(ctx context.Context, m config.RegisterSyncMapping, writes []Write) error {
	for _, w := range writes {
		addr := m.PLCStart + uint16(w.Index)
		if _, err := s.plc.WriteRegisters(ctx, addr, []uint16{w.Value}, m.PLCArea); err != nil {
			return fmt.Errorf("sync: plc write failed: %w", err)
		}
	}
	return nil
}

func (s *Synchronizer) readBoth(ctx context.Context, m config.RegisterSyncMapping) (plcWords, mbWords []uint16, err error) {
	var wg sync.WaitGroup
	var plcErr, mbErr error
	wg.Add(2)

	go func() {
		defer wg.Done()
		plcWords, plcErr = s.plc.ReadRegisters(ctx, m.PLCStart, m.Count, m.PLCArea)
	}()
	go func() {
		defer wg.Done()
		mbWords, mbErr = s.mb.ReadHoldingBlock(ctx, m.ModbusStart, m.Count)
	}()
	wg.Wait()

	if plcErr != nil {
		return nil, nil, fmt.Errorf("sync: plc read failed: %w", plcErr)
	}
	if mbErr != nil {
		return nil, nil, fmt.Errorf("sync: modbus read failed: %w", mbErr)
	}
	return plcWords, mbWords, nil
}

// writeToModbus issues one single-register write per index: the values in
// writes are already domain-adjusted (byte-swapped if the mapping requires
// it) by Area.Reconcile, so they go straight onto the wire at
// mb_start + index.
func (s *Synchronizer) writeToModbus(ctx context.Context, m config.RegisterSyncMapping, writes []Write) error {
	for _, w := range writes {
		addr := m.ModbusStart + uint16(w.Index)
		if err := s.mb.WriteSingleRegister(ctx, addr, w.Value); err != nil {
			return fmt.Errorf("sync: modbus write failed: %w", err)
		}
	}
	return nil
}
