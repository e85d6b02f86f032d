// Package protocol is the message codec for the dive computer link.
//
// Ownership boundary:
// - frame layout and checksums live in frame and checksum
// - payload bodies and their byte layout live in payload
// - this package joins the two into typed Messages and handles streams
package protocol
