package eip

import "encoding/binary"

var le = binary.LittleEndian

// appendHeader appends a 24-byte encapsulation header.
func appendHeader(b []byte, cmd uint16, length uint16, sessionHandle uint32, context uint64) []byte {
	b = le.AppendUint16(b, cmd)
	b = le.AppendUint16(b, length)
	b = le.AppendUint32(b, sessionHandle)
	b = le.AppendUint32(b, 0) // status
	b = le.AppendUint64(b, context)
	b = le.AppendUint32(b, 0) // options

	return b
}

// DeclaredLength returns the length field of an encapsulation header, i.e. the number of bytes
// that follow the 24-byte header. ok is false when fewer than 4 bytes are available.
func DeclaredLength(b []byte) (n int, ok bool) {
	if len(b) < 4 {
		return 0, false
	}

	return int(le.Uint16(b[2:4])), true
}

// Command returns the command field of an encapsulation header.
func Command(b []byte) (uint16, bool) {
	if len(b) < 2 {
		return 0, false
	}

	return le.Uint16(b[0:2]), true
}
