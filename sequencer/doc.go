// Package sequencer applies a configuration plan to one device with post-write
// verification.
//
// A run walks a small state machine:
//
//	Discovering ──ping ok──▶ Applying(step) ──verify?──▶ Verifying(step) ──▶ … ──▶ Done
//	     │                        │                            │
//	     └── attempts exhausted ──┴──── write/read failure ────┴── mismatch ──▶ Failed
//
// Discovery is the only retried phase: the device is pinged up to a fixed number
// of times with a fixed interval. A write that times out or reports a device error
// fails the run at once, since resending a command that may or may not have been
// applied is not safe for every register. Steps are applied strictly in plan order.
//
// Run.Next performs one transition, so a caller can abandon a run at any state
// boundary by not calling it again. Run.Execute drives the run to a terminal
// state.
package sequencer
