package mstp

import (
	"github.com/samsamfire/mstpd/internal/crc"
	"github.com/samsamfire/mstpd/internal/queue"
	"github.com/sirupsen/logrus"
)

// rfsmState enumerates the five RFSM states named in §3.
type rfsmState uint8

const (
	rfsmIdle rfsmState = iota
	rfsmPreamble
	rfsmHeader
	rfsmData
	rfsmSkipData
)

func (s rfsmState) String() string {
	switch s {
	case rfsmIdle:
		return "Idle"
	case rfsmPreamble:
		return "Preamble"
	case rfsmHeader:
		return "Header"
	case rfsmData:
		return "Data"
	case rfsmSkipData:
		return "SkipData"
	default:
		return "Unknown"
	}
}

// decoded carries the header fields reassembled so far for the frame
// currently in flight, per §3's RFSM state fields.
type decoded struct {
	frameType   FrameType
	destination uint8
	source      uint8
	dataLength  uint16
}

// rfsm is the octet-driven Receive Frame State Machine of §4.4. Every
// invocation of Step resets the silence timer; the engine bumps MNSM's
// eventCount once per Step call, the per-octet bookkeeping MNSM relies on
// to detect bus activity during quiet windows.
type rfsm struct {
	log *logrus.Entry

	station uint8
	rxQueue *queue.Queue[Frame]
	stats   *Counters

	state         rfsmState
	index         int
	headerCRC     crc.Header
	dataCRC       crc.Data
	hdr           decoded
	inputBuffer   [maxRx]byte

	receivedValidFrame   bool
	receivedInvalidFrame bool

	// lastFrame holds the header (and, for Data completions, payload) of
	// the most recently validated frame, for MNSM to inspect while
	// receivedValidFrame is set. It is only meaningful then.
	lastFrame Frame

	timer *SilenceTimer
}

func newRFSM(station uint8, rxQueue *queue.Queue[Frame], stats *Counters, log *logrus.Entry) *rfsm {
	return &rfsm{
		log:     log.WithField("component", "rfsm"),
		station: station,
		rxQueue: rxQueue,
		stats:   stats,
		state:   rfsmIdle,
	}
}

// reset forces the RFSM to Idle, clearing both signal flags, per §3's
// configuration-change lifecycle and invariant 1.
func (r *rfsm) reset() {
	r.state = rfsmIdle
	r.receivedValidFrame = false
	r.receivedInvalidFrame = false
	r.index = 0
}

// clearValid and clearInvalid implement invariant 2: MNSM clears the
// signal it observed before leaving Idle via that edge.
func (r *rfsm) clearValid()   { r.receivedValidFrame = false }
func (r *rfsm) clearInvalid() { r.receivedInvalidFrame = false }

// Step feeds one received octet (or a latched line error) through the
// machine. timer is the engine's shared silence timer; the state handlers
// check it against TframeAbort as it stood before this octet, and Step
// resets it on return, per §4.4's "every transition resets the silence
// timer".
func (r *rfsm) Step(ch byte, lineError bool, timer *SilenceTimer) {
	defer timer.Reset()

	if lineError {
		r.stats.LineErrors.Add(1)
		switch r.state {
		case rfsmIdle:
			// Eat the octet, stay Idle (§7: line errors in Idle just
			// consume an octet).
			return
		default:
			r.receivedInvalidFrame = true
			r.state = rfsmIdle
			r.index = 0
			return
		}
	}

	switch r.state {
	case rfsmIdle:
		r.stepIdle(ch)
	case rfsmPreamble:
		r.stepPreamble(ch, timer)
	case rfsmHeader:
		r.stepHeader(ch, timer)
	case rfsmData:
		r.stepData(ch, timer)
	case rfsmSkipData:
		r.stepSkipData(ch, timer)
	}
}

func (r *rfsm) stepIdle(ch byte) {
	if ch == preambleOctet1 {
		r.state = rfsmPreamble
	}
}

func (r *rfsm) stepPreamble(ch byte, timer *SilenceTimer) {
	if timer.AtLeast(TframeAbort) {
		r.stats.FrameAborts.Add(1)
		r.state = rfsmIdle
		return
	}
	switch ch {
	case preambleOctet2:
		r.state = rfsmHeader
		r.index = 0
		r.headerCRC = crc.NewHeader()
	case preambleOctet1:
		// Repeated preamble octet, stay.
	default:
		r.state = rfsmIdle
	}
}

func (r *rfsm) stepHeader(ch byte, timer *SilenceTimer) {
	if timer.AtLeast(TframeAbort) {
		r.stats.FrameAborts.Add(1)
		r.receivedInvalidFrame = true
		r.state = rfsmIdle
		return
	}

	switch r.index {
	case 0:
		r.hdr.frameType = FrameType(ch)
		r.headerCRC = r.headerCRC.Update(ch)
	case 1:
		r.hdr.destination = ch
		r.headerCRC = r.headerCRC.Update(ch)
	case 2:
		r.hdr.source = ch
		r.headerCRC = r.headerCRC.Update(ch)
	case 3:
		r.hdr.dataLength = uint16(ch) << 8
		r.headerCRC = r.headerCRC.Update(ch)
	case 4:
		r.hdr.dataLength |= uint16(ch)
		r.headerCRC = r.headerCRC.Update(ch)
	case 5:
		r.headerCRC = r.headerCRC.Update(ch)
		r.finishHeader()
		return
	}
	r.index++
}

func (r *rfsm) finishHeader() {
	if r.headerCRC != crc.HeaderResidue {
		r.stats.HeaderCRCErrors.Add(1)
		r.receivedInvalidFrame = true
		r.state = rfsmIdle
		r.index = 0
		return
	}

	addressedToUs := r.hdr.destination == r.station || r.hdr.destination == Broadcast
	dataLen := r.hdr.dataLength

	switch {
	case !addressedToUs && dataLen == 0:
		// Not for us, no payload to consume: silently Idle.
		r.state = rfsmIdle
	case dataLen == 0:
		r.receivedValidFrame = true
		r.lastFrame = Frame{Type: r.hdr.frameType, Destination: r.hdr.destination, Source: r.hdr.source}
		r.state = rfsmIdle
	case dataLen <= maxRx:
		r.index = 0
		r.dataCRC = crc.NewData()
		if addressedToUs {
			r.state = rfsmData
		} else {
			r.state = rfsmSkipData
		}
	case dataLen <= 2*maxRx:
		// §4.4/Open Questions: preserved as-is, no invalid-frame signal.
		r.index = 0
		r.state = rfsmSkipData
	default:
		r.stats.OversizedFrames.Add(1)
		r.receivedInvalidFrame = true
		r.state = rfsmIdle
	}
}

func (r *rfsm) stepData(ch byte, timer *SilenceTimer) {
	if timer.AtLeast(TframeAbort) {
		r.stats.FrameAborts.Add(1)
		r.receivedInvalidFrame = true
		r.state = rfsmIdle
		r.index = 0
		return
	}

	dataLen := int(r.hdr.dataLength)
	switch {
	case r.index < dataLen:
		r.inputBuffer[r.index] = ch
		r.dataCRC = r.dataCRC.Update(ch)
		r.index++
	case r.index == dataLen:
		r.dataCRC = r.dataCRC.Update(ch)
		r.index++
	case r.index == dataLen+1:
		r.dataCRC = r.dataCRC.Update(ch)
		r.finishData(dataLen)
	}
}

func (r *rfsm) finishData(dataLen int) {
	if r.dataCRC != crc.DataResidue {
		r.stats.DataCRCErrors.Add(1)
		r.receivedInvalidFrame = true
		r.state = rfsmIdle
		r.index = 0
		return
	}

	r.receivedValidFrame = true
	payload := make([]byte, dataLen)
	copy(payload, r.inputBuffer[:dataLen])
	r.lastFrame = Frame{
		Type:        r.hdr.frameType,
		Destination: r.hdr.destination,
		Source:      r.hdr.source,
		Data:        payload,
	}
	if r.hdr.frameType == FrameBACnetDataExpectingReply || r.hdr.frameType == FrameBACnetDataNotExpectingReply {
		ok := r.rxQueue.Push(r.lastFrame)
		if !ok {
			r.stats.RxQueueDrops.Add(1)
			r.receivedValidFrame = false
			r.log.Warn("rx queue full, dropping received frame")
		}
	}
	r.state = rfsmIdle
	r.index = 0
}

func (r *rfsm) stepSkipData(ch byte, timer *SilenceTimer) {
	if timer.AtLeast(TframeAbort) {
		r.stats.FrameAborts.Add(1)
		r.receivedInvalidFrame = true
		r.state = rfsmIdle
		r.index = 0
		return
	}
	// Consume data_length + 2 octets (the two CRC trailer bytes), symmetric
	// with stepData's own indexing, then return to Idle without signaling.
	total := int(r.hdr.dataLength) + 2
	r.index++
	if r.index >= total {
		r.state = rfsmIdle
		r.index = 0
	}
}
