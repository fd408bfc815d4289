// Package serialport owns one open serial line used as a half-duplex bus.
//
// A Port is opened explicitly with Open and must be released with Close on every
// exit path, typically through defer. Line framing is fixed at 8-N-1. Opening a
// device that another process holds fails with ErrPortUnavailable: both drivers
// take an exclusive OS-level hold on the device (TIOCEXCL for the default one, a
// flock for DriverTarm).
//
// Two drivers are available. DriverBugst (go.bug.st/serial) supports per-call read
// timeouts and input buffer resets and is the default. DriverTarm
// (github.com/tarm/serial) polls with a fixed short timeout and is kept for
// platforms where the first driver misbehaves.
//
// A Port is NOT goroutine-safe. The bus is half-duplex, so exactly one exchange
// may be in flight at a time and callers serialise access themselves.
package serialport
