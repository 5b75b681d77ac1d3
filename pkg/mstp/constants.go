package mstp

import "time"

// Frame types, as they appear on the wire.
type FrameType uint8

const (
	FrameToken                       FrameType = 0
	FramePollForManager              FrameType = 1
	FrameReplyToPollForManager       FrameType = 2
	FrameTestRequest                 FrameType = 3
	FrameTestResponse                FrameType = 4
	FrameBACnetDataExpectingReply    FrameType = 5
	FrameBACnetDataNotExpectingReply FrameType = 6
	FrameReplyPostponed              FrameType = 7
)

func (t FrameType) String() string {
	switch t {
	case FrameToken:
		return "Token"
	case FramePollForManager:
		return "PollForManager"
	case FrameReplyToPollForManager:
		return "ReplyToPollForManager"
	case FrameTestRequest:
		return "TestRequest"
	case FrameTestResponse:
		return "TestResponse"
	case FrameBACnetDataExpectingReply:
		return "BACnetDataExpectingReply"
	case FrameBACnetDataNotExpectingReply:
		return "BACnetDataNotExpectingReply"
	case FrameReplyPostponed:
		return "ReplyPostponed"
	default:
		return "Unknown"
	}
}

// isKnown reports whether t is one of the eight frame types the protocol
// defines; values >= 8 are proprietary/unknown per §3.
func (t FrameType) isKnown() bool {
	return t <= FrameReplyPostponed
}

// Broadcast is the station address meaning "all stations".
const Broadcast uint8 = 0xFF

// NoStation is used where an address field is logically absent.
const NoStation uint8 = 0xFF

const (
	preambleOctet1 byte = 0x55
	preambleOctet2 byte = 0xFF
	padOctet       byte = 0xFF
)

// maxRx is the largest data_length this engine will reassemble into its
// own RX path; longer-but-plausible frames are still consumed off the
// wire (SkipData) without being buffered.
const maxRx = 512

// Fixed protocol timing and retry constants (§4.5).
const (
	Npoll         = 50
	NretryToken   = 1
	NminOctets    = 4
	TframeAbort   = 100 * time.Millisecond
	Tnotoken      = 500 * time.Millisecond
	TreplyTimeout = 300 * time.Millisecond
	TreplyDelay   = 200 * time.Millisecond
	Tslot         = 10 * time.Millisecond
	TusageTimeoutTP = 85 * time.Millisecond
)

// TusageTimeout is clamped to this range per §6.
const (
	TusageTimeoutMin = 20 * time.Millisecond
	TusageTimeoutMax = 35 * time.Millisecond
)

// NmaxManagerMax is the hard ceiling on configured manager addresses.
const NmaxManagerMax = 127

// maxTx bounds the size of a frame this engine will ever build. A
// TestRequest payload longer than maxTx-21 is not echoed: the TestResponse
// is sent with an empty body instead.
const maxTx = 501

// turnaroundTable is the fixed microsecond line-turnaround lookup per baud
// rate (§6). Baud values not present default to 76800.
var turnaroundTable = map[int]time.Duration{
	9600:   4167 * time.Microsecond,
	19200:  2083 * time.Microsecond,
	38400:  1042 * time.Microsecond,
	57600:  694 * time.Microsecond,
	76800:  521 * time.Microsecond,
	115200: 347 * time.Microsecond,
}

// Turnaround returns the line turnaround delay for a given baud rate.
func Turnaround(baud int) time.Duration {
	if d, ok := turnaroundTable[baud]; ok {
		return d
	}
	return turnaroundTable[76800]
}

// ValidBaud reports whether baud is one of the rates the engine supports
// natively; the engine's configuration defaults anything else to 76800
// per §6.
func ValidBaud(baud int) bool {
	_, ok := turnaroundTable[baud]
	return ok
}

// ClampTusageTimeout clamps a configured usage timeout to [20,35]ms (§6).
func ClampTusageTimeout(d time.Duration) time.Duration {
	if d < TusageTimeoutMin {
		return TusageTimeoutMin
	}
	if d > TusageTimeoutMax {
		return TusageTimeoutMax
	}
	return d
}

// ClampNmaxManager clamps a configured max-manager address to [1,127] (§6/§7).
func ClampNmaxManager(n int) uint8 {
	if n < 1 {
		return 1
	}
	if n > NmaxManagerMax {
		return NmaxManagerMax
	}
	return uint8(n)
}
