// Package eip implements the EtherNet/IP encapsulation and CIP connection-manager messages needed to
// open cyclic consumer connections with a controller.
//
// The package is a pure codec: every function builds or parses a byte slice and performs no I/O.
//
// Messages:
//   - RegisterSession request (command 0x0065) and its reply, which carries the session handle.
//   - SendRRData (command 0x006F) wrapping a CIP Forward_Open request (service 0x54) addressed to
//     the Connection Manager object (class 6, instance 1), and the Forward_Open reply.
//   - The Class 1 keep-alive datagram: a sequenced address item (0x8002) followed by a connected
//     data item (0x00B1).
//   - The inbound cyclic datagram, whose T->O connection id is used to route the payload.
//
// Tags are addressed with ANSI extended symbol segments (0x91), one per dotted name component.
// Array elements, bit addressing and multi-dimensional tags are not supported.
//
// All integers on the wire are little-endian.
package eip
