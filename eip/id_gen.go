package eip

import "math/rand/v2"

// connectionIDRange bounds randomly proposed connection ids and serial numbers.
const connectionIDRange = 65000

// GenerateConnectionID returns a random T->O connection id proposal in [0, 65000).
func GenerateConnectionID() uint32 {
	return uint32(rand.IntN(connectionIDRange)) //nolint:gosec
}

// GenerateConnectionSerial returns a random connection serial number in [0, 65000).
func GenerateConnectionSerial() uint16 {
	return uint16(rand.IntN(connectionIDRange)) //nolint:gosec
}
