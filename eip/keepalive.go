package eip

// BuildKeepAlive returns the 20-byte Class 1 keep-alive datagram for the O->T connection otID.
//
// seq is the rolling sequence number of the sequenced address item. The connected data item always
// carries the fixed CIP sequence count 1.
func BuildKeepAlive(otID uint32, seq uint32) []byte {
	b := make([]byte, 0, keepAliveSize)
	b = le.AppendUint16(b, 2) // item count
	b = le.AppendUint16(b, ItemSequencedAddress)
	b = le.AppendUint16(b, 8)
	b = le.AppendUint32(b, otID)
	b = le.AppendUint32(b, seq)
	b = le.AppendUint16(b, ItemConnectedData)
	b = le.AppendUint16(b, 2)
	b = le.AppendUint16(b, keepAliveCIPSequence)

	return b
}
