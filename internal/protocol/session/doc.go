// Package session owns per-link request/response correlation.
//
// Ownership boundary:
// - sequence allocation and the pending-request table
// - deadline expiry driven by explicit polling
// - session timing defaults and retry backoff
package session
