package eip

// Well-known ports. Both are fixed by the protocol.
const (
	// SetupPort is the TCP port of the explicit messaging (session setup) service.
	SetupPort = 44818
	// CyclicPort is the UDP port used for Class 1 producer/consumer traffic.
	CyclicPort = 2222
)

// HeaderSize is the size of the encapsulation header that prefixes every explicit message.
const HeaderSize = 24

// Encapsulation commands.
const (
	CommandRegisterSession uint16 = 0x0065
	CommandSendRRData      uint16 = 0x006F
)

// Common packet format item types.
const (
	ItemNullAddress      uint16 = 0x0000
	ItemUnconnectedData  uint16 = 0x00B2
	ItemConnectedData    uint16 = 0x00B1
	ItemSequencedAddress uint16 = 0x8002
)

// Connection manager constants.
const (
	ServiceForwardOpen     byte = 0x54
	ClassConnectionManager byte = 0x06
	segmentClass8          byte = 0x20
	segmentInstance8       byte = 0x24
	segmentPort            byte = 0x01
	segmentKey             byte = 0x34
	keyFormatElectronic    byte = 0x04
	segmentSymbol          byte = 0x91
)

const (
	protocolVersion  uint16 = 1
	senderContext    uint64 = 0x8000004A00000000
	priorityTimeTick byte   = 0x0A
	timeoutTicks     byte   = 0x0E

	originatorVendorID     uint16 = 1
	originatorSerialNumber uint32 = 42

	otNetworkParams  uint16 = 0x4802
	toNetworkParams  uint16 = 0x4800
	transportTrigger byte   = 0x81

	// MaxDataSize is the largest T->O payload size that fits the 9-bit size field
	// of the network connection parameters.
	MaxDataSize = 0x1FF
)

// Forward_Open reply offsets, relative to the start of the encapsulated reply.
const (
	forwardOpenStatusOffset  = 42
	forwardOpenOTIDOffset    = 44
	forwardOpenTOIDOffset    = 48
	forwardOpenMinReplyBytes = 52
)

// Cyclic datagram layout.
const (
	keepAliveSize        = 20
	datagramConnIDOffset = 6
	datagramSeqOffset    = 10
	// DatagramPayloadOffset is where the produced data starts in an inbound cyclic datagram.
	DatagramPayloadOffset = 20
	// keepAliveCIPSequence is the fixed CIP sequence count carried by every keep-alive.
	keepAliveCIPSequence uint16 = 1
)
