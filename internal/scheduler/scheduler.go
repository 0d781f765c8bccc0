// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package scheduler drives registered callbacks at a fixed base tick rate,
// standing in for the 1 kHz timer interrupt of a flight controller.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Periodic calls every registered callback once per period from a single
// goroutine. A callback that overruns the period is reported, not
// preempted.
type Periodic struct {
	clock  clock.Clock
	period time.Duration
	logger *zap.SugaredLogger

	mu  sync.Mutex
	fns []func(time.Time)

	ticks    atomic.Uint64
	overruns atomic.Uint64
	warn     *rate.Limiter

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a scheduler ticking hz times per second on clk.
func New(clk clock.Clock, hz int, logger *zap.SugaredLogger) (*Periodic, error) {
	if hz <= 0 {
		return nil, fmt.Errorf("scheduler: tick rate must be positive, got %d", hz)
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Periodic{
		clock:  clk,
		period: time.Second / time.Duration(hz),
		logger: logger,
		warn:   rate.NewLimiter(rate.Every(5*time.Second), 1),
	}, nil
}

// Period is the time between ticks.
func (p *Periodic) Period() time.Duration { return p.period }

// Register adds fn to the tick callbacks. Safe to call while running.
func (p *Periodic) Register(fn func(now time.Time)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fns = append(p.fns, fn)
}

// RunOnce invokes every callback for a tick at now.
func (p *Periodic) RunOnce(now time.Time) {
	p.mu.Lock()
	fns := p.fns
	p.mu.Unlock()

	for _, fn := range fns {
		fn(now)
	}
	p.ticks.Inc()

	if elapsed := p.clock.Since(now); elapsed > p.period {
		p.overruns.Inc()
		if p.warn.Allow() {
			p.logger.Warnf("scheduler: tick took %v, budget is %v (%d overruns so far)",
				elapsed, p.period, p.overruns.Load())
		}
	}
}

// Start begins ticking until ctx is cancelled or Stop is called. Starting a
// running scheduler does nothing.
func (p *Periodic) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		p.logger.Warn("scheduler: already running")
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	p.done = done
	ticker := p.clock.Ticker(p.period)

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				p.RunOnce(now)
			}
		}
	}()
	p.logger.Infof("scheduler: ticking every %v", p.period)
}

// Stop halts the tick goroutine and waits for it to exit.
func (p *Periodic) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
}

// Ticks is the number of ticks run so far.
func (p *Periodic) Ticks() uint64 { return p.ticks.Load() }

// Overruns is the number of ticks that exceeded the period.
func (p *Periodic) Overruns() uint64 { return p.overruns.Load() }
