// Package dxl implements the bus engine for Dynamixel servo actuators.
//
// A Bus wraps one already-open Channel (usually a *serialport.Port) and performs
// synchronous request/response exchanges with the devices on it:
//
//	port, err := serialport.Open("/dev/ttyUSB0", serialport.WithBaudRate(1_000_000))
//	if err != nil {
//		return err
//	}
//	defer port.Close()
//
//	bus, err := dxl.NewBus(port, dxl.WithFamily(dxl.FamilyMX))
//	if err != nil {
//		return err
//	}
//	found, err := bus.Scan(ctx, 1, 253)
//
// Each call performs exactly one frame exchange and never retries; retry policy
// belongs to callers such as package sequencer. Unicast calls wait for the status
// frame up to the configured timeout, broadcast calls return as soon as the frame
// is written. Exchanges on one Bus are serialised by the Bus itself, while Buses
// on different channels share nothing and may run in parallel.
//
// The engine never reopens or reconfigures its Channel. After ChangeBaudrate the
// caller reopens the port at the new rate and builds a new Bus.
package dxl
