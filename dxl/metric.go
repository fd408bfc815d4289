package dxl

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// BusMetrics contains atomic counters for one Bus.
// They can back prometheus CounterFuncs; see package metrics.
type BusMetrics struct {
	// FramesSent counts instruction frames written to the channel.
	FramesSent atomic.Uint64
	// FramesRecv counts valid status frames received.
	FramesRecv atomic.Uint64
	// Timeouts counts exchanges that ended without a valid status frame.
	Timeouts atomic.Uint64
	// DecodeErrors counts corrupt or malformed status frames.
	DecodeErrors atomic.Uint64
	// DeviceErrors counts status frames with a non-zero error byte.
	DeviceErrors atomic.Uint64

	devices *xsync.MapOf[int, *DeviceStats]
}

// DeviceStats contains per-device counters.
type DeviceStats struct {
	Exchanges    atomic.Uint64
	Timeouts     atomic.Uint64
	DeviceErrors atomic.Uint64
	// LastSeen is the unix nano time of the last valid reply, 0 if never.
	LastSeen atomic.Int64
}

func newBusMetrics() *BusMetrics {
	return &BusMetrics{devices: xsync.NewMapOf[int, *DeviceStats]()}
}

// Device returns the stats of id, or nil if the bus never addressed it.
func (m *BusMetrics) Device(id int) *DeviceStats {
	s, _ := m.devices.Load(id)
	return s
}

// RangeDevices calls fn for every addressed device until fn returns false.
func (m *BusMetrics) RangeDevices(fn func(id int, s *DeviceStats) bool) {
	m.devices.Range(fn)
}

func (m *BusMetrics) device(id int) *DeviceStats {
	s, _ := m.devices.LoadOrCompute(id, func() *DeviceStats { return &DeviceStats{} })
	return s
}

func (m *BusMetrics) incFramesSent() {
	m.FramesSent.Add(1)
}

func (m *BusMetrics) incExchange(id int) {
	m.device(id).Exchanges.Add(1)
}

func (m *BusMetrics) incFramesRecv(id int) {
	m.FramesRecv.Add(1)
	m.device(id).LastSeen.Store(time.Now().UnixNano())
}

func (m *BusMetrics) incTimeouts(id int) {
	m.Timeouts.Add(1)
	m.device(id).Timeouts.Add(1)
}

func (m *BusMetrics) incDecodeErrors() {
	m.DecodeErrors.Add(1)
}

func (m *BusMetrics) incDeviceErrors(id int) {
	m.DeviceErrors.Add(1)
	m.device(id).DeviceErrors.Add(1)
}
