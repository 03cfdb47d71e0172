// Package session owns controller<->device session transport helpers.
//
// Ownership boundary:
// - establish/establish.ack control messages exchanged before framing starts
// - invoke request/response and status report wire helpers
// - transport security policy and TLS config builders
// - retry backoff and the pending exchange table
package session
