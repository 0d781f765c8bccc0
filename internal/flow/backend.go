// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package flow

import "time"

// BusLock guards a bus shared with other devices. Backends acquire it with
// TryLock on the sampling path and release it on every return.
// *sync.Mutex satisfies it.
type BusLock interface {
	TryLock() bool
	Unlock()
}

// InitOptions are handed to Backend.Init.
type InitOptions struct {
	// AutoInit brings up the bus itself. Leave false when another device on
	// the same bus already did.
	AutoInit     bool
	Bus          BusLock
	SecondaryBus BusLock
}

// Backend is one physical (or simulated) flow sensor chip.
type Backend interface {
	Model() string
	Init(opts InitOptions) error
	ReadRegister(addr byte) (byte, error)
	WriteRegister(addr, value byte) error
	// ReadMotion returns the motion accumulated since the previous call.
	// ok is false when the chip reported no new data or the bus was busy.
	ReadMotion(now time.Time) (s RawSample, ok bool, err error)
}

// Scheduler invokes registered callbacks at a fixed base tick rate.
type Scheduler interface {
	Register(fn func(now time.Time))
}
