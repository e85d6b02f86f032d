// Package checksum implements the 8-bit integrity code used for both the
// frame header and the frame payload.
//
// The code is the bitwise inverse of the modulo-256 sum of the covered bytes.
// It catches single-byte corruption and most transmission noise. It is not a
// cryptographic digest and does not detect reordered bytes.
package checksum

// Sum returns the inverted wrapping sum of b.
func Sum(b []byte) uint8 {
	var acc uint8
	for _, v := range b {
		acc += v
	}
	return ^acc
}

// Verify reports whether expected is the checksum of b.
func Verify(b []byte, expected uint8) bool {
	return Sum(b) == expected
}
