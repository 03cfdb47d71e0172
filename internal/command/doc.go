// Package command runs one cluster command against a remote device and
// reduces the outcome to a single status.
//
// Lifecycle of Runner.Run:
// - arm the pending-response flag
// - with the stack guard held: resolve the device, wait for its session
// handshake, hand the command to the dispatcher
// - release the guard, then wait (bounded) for OnResponse
//
// The guard must not be held while waiting: responses are delivered by the
// stack event loop, which runs with the guard held.
package command
