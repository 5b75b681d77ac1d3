package mstp

import (
	"time"

	"github.com/samsamfire/mstpd/internal/queue"
	"github.com/sirupsen/logrus"
)

// mnsmState enumerates the nine MNSM states named in §3.
type mnsmState uint8

const (
	mnsmInitialize mnsmState = iota
	mnsmIdle
	mnsmUseToken
	mnsmWaitForReply
	mnsmDoneWithToken
	mnsmPassToken
	mnsmNoToken
	mnsmPollForManager
	mnsmAnswerDataRequest
)

func (s mnsmState) String() string {
	switch s {
	case mnsmInitialize:
		return "Initialize"
	case mnsmIdle:
		return "Idle"
	case mnsmUseToken:
		return "UseToken"
	case mnsmWaitForReply:
		return "WaitForReply"
	case mnsmDoneWithToken:
		return "DoneWithToken"
	case mnsmPassToken:
		return "PassToken"
	case mnsmNoToken:
		return "NoToken"
	case mnsmPollForManager:
		return "PollForManager"
	case mnsmAnswerDataRequest:
		return "AnswerDataRequest"
	default:
		return "Unknown"
	}
}

// mnsm is the token-ring arbitration engine of §4.5. It is driven by the
// host tick while the transmitter is idle and the silence timer is
// positive (§5); Step returns true when the standard's "SendNoWait"-style
// edges require an immediate re-invocation rather than waiting for the
// next tick.
type mnsm struct {
	log *logrus.Entry

	thisStation    uint8
	nmaxManager    uint8
	nmaxInfoFrames uint8
	tusageTimeout  time.Duration

	ns, ps      uint8
	tokenCount  int
	frameCount  int
	retryCount  int
	eventCount  int
	soleManager bool
	joined      bool
	online      bool
	replyTo     uint8

	state mnsmState

	rfsm    *rfsm
	txQueue *queue.Queue[Frame]
	stats   *Counters
	send    func(Frame)
}

func newMNSM(station, nmaxManager, nmaxInfoFrames uint8, tusageTimeout time.Duration, r *rfsm, txQueue *queue.Queue[Frame], stats *Counters, send func(Frame), log *logrus.Entry) *mnsm {
	return &mnsm{
		log:            log.WithField("component", "mnsm"),
		thisStation:    station,
		nmaxManager:    nmaxManager,
		nmaxInfoFrames: nmaxInfoFrames,
		tusageTimeout:  ClampTusageTimeout(tusageTimeout),
		state:          mnsmInitialize,
		rfsm:           r,
		txQueue:        txQueue,
		stats:          stats,
		send:           send,
	}
}

func (m *mnsm) nextAddr(a uint8) uint8 {
	return uint8((int(a) + 1) % (int(m.nmaxManager) + 1))
}

// Step drives one MNSM transition and reports whether the caller should
// invoke it again immediately (still holding the mutex, line still idle).
func (m *mnsm) Step(timer *SilenceTimer) bool {
	switch m.state {
	case mnsmInitialize:
		return m.stepInitialize(timer)
	case mnsmIdle:
		return m.stepIdle(timer)
	case mnsmUseToken:
		return m.stepUseToken()
	case mnsmWaitForReply:
		return m.stepWaitForReply(timer)
	case mnsmDoneWithToken:
		return m.stepDoneWithToken()
	case mnsmPassToken:
		return m.stepPassToken(timer)
	case mnsmNoToken:
		return m.stepNoToken(timer)
	case mnsmPollForManager:
		return m.stepPollForManager(timer)
	case mnsmAnswerDataRequest:
		return m.stepAnswerDataRequest()
	default:
		return false
	}
}

func (m *mnsm) stepInitialize(timer *SilenceTimer) bool {
	m.ns = m.thisStation
	m.ps = m.thisStation
	m.tokenCount = Npoll
	m.soleManager = false
	m.rfsm.clearValid()
	m.rfsm.clearInvalid()
	timer.Reset()
	m.state = mnsmIdle
	return false
}

func (m *mnsm) stepIdle(timer *SilenceTimer) bool {
	if timer.AtLeast(Tnotoken) {
		m.eventCount = 0
		m.state = mnsmNoToken
		return true
	}
	if m.rfsm.receivedInvalidFrame {
		m.rfsm.clearInvalid()
		return false
	}
	if !m.rfsm.receivedValidFrame {
		return false
	}

	f := m.rfsm.lastFrame
	if f.Destination == Broadcast {
		// Token/TestRequest/Unknown-as-broadcast filtered here too; every
		// broadcast frame observed while Idle is simply dropped.
		m.rfsm.clearValid()
		return false
	}
	if f.Destination != m.thisStation {
		m.rfsm.clearValid()
		return false
	}

	switch f.Type {
	case FrameToken:
		m.rfsm.clearValid()
		m.frameCount = 0
		m.soleManager = false
		if !m.joined {
			m.joined = true
			m.online = true
		}
		m.state = mnsmUseToken
		return true
	case FramePollForManager:
		m.rfsm.clearValid()
		m.send(Frame{Type: FrameReplyToPollForManager, Destination: f.Source, Source: m.thisStation})
		m.joined = false
		return false
	case FrameBACnetDataExpectingReply:
		m.rfsm.clearValid()
		m.replyTo = f.Source
		timer.Reset()
		m.state = mnsmAnswerDataRequest
		return false
	case FrameTestRequest:
		m.rfsm.clearValid()
		payload := f.Data
		if len(payload) > maxTx-21 {
			payload = nil
		}
		m.send(Frame{Type: FrameTestResponse, Destination: f.Source, Source: m.thisStation, Data: payload})
		return false
	default:
		// TestResponse, ReplyToPollForManager, ReplyPostponed, DNER,
		// and any unknown/proprietary type: drop, stay.
		m.rfsm.clearValid()
		return false
	}
}

func (m *mnsm) stepUseToken() bool {
	if m.txQueue.Len() == 0 {
		m.frameCount = int(m.nmaxInfoFrames)
		m.state = mnsmDoneWithToken
		return true
	}
	f, ok := m.txQueue.Pop()
	if !ok {
		m.frameCount = int(m.nmaxInfoFrames)
		m.state = mnsmDoneWithToken
		return true
	}

	switch {
	case f.Type == FrameTestResponse,
		f.Type == FrameBACnetDataNotExpectingReply,
		f.Type == FrameBACnetDataExpectingReply && f.Destination == Broadcast:
		m.send(f)
		m.frameCount++
		m.state = mnsmDoneWithToken
		return true
	case f.Type == FrameTestRequest,
		f.Type == FrameBACnetDataExpectingReply && f.Destination != Broadcast:
		m.send(f)
		m.state = mnsmWaitForReply
		return false
	default:
		m.state = mnsmDoneWithToken
		return true
	}
}

func (m *mnsm) stepWaitForReply(timer *SilenceTimer) bool {
	if timer.AtLeast(TreplyTimeout) {
		m.frameCount = int(m.nmaxInfoFrames)
		m.state = mnsmDoneWithToken
		return true
	}
	if m.rfsm.receivedInvalidFrame {
		m.rfsm.clearInvalid()
		m.state = mnsmDoneWithToken
		return true
	}
	if m.rfsm.receivedValidFrame {
		f := m.rfsm.lastFrame
		if f.Destination == m.thisStation &&
			(f.Type == FrameBACnetDataNotExpectingReply || f.Type == FrameTestResponse || f.Type == FrameReplyPostponed) {
			m.rfsm.clearValid()
			m.state = mnsmDoneWithToken
			return true
		}
		m.rfsm.clearValid()
		m.soleManager = false
		m.state = mnsmIdle
		return false
	}
	return false
}

func (m *mnsm) stepDoneWithToken() bool {
	if m.frameCount < int(m.nmaxInfoFrames) {
		m.state = mnsmUseToken
		return true
	}
	if m.tokenCount < Npoll {
		if !m.soleManager && m.ns == m.thisStation {
			m.ps = m.nextAddr(m.thisStation)
			m.send(Frame{Type: FramePollForManager, Destination: m.ps, Source: m.thisStation})
			m.retryCount = 0
			m.state = mnsmPollForManager
			return false
		}
		if m.soleManager {
			if m.txQueue.Len() == 0 {
				m.frameCount = int(m.nmaxInfoFrames)
				m.tokenCount = Npoll
				return true
			}
			m.frameCount = 0
			m.tokenCount++
			m.state = mnsmUseToken
			return true
		}
		m.tokenCount++
		m.send(Frame{Type: FrameToken, Destination: m.ns, Source: m.thisStation})
		m.retryCount = 0
		m.eventCount = 0
		m.state = mnsmPassToken
		return false
	}

	if m.ns != m.nextAddr(m.ps) {
		m.ps = m.nextAddr(m.ps)
		m.send(Frame{Type: FramePollForManager, Destination: m.ps, Source: m.thisStation})
		m.state = mnsmPollForManager
		return false
	}
	if !m.soleManager {
		m.ps = m.thisStation
		m.send(Frame{Type: FrameToken, Destination: m.ns, Source: m.thisStation})
		m.tokenCount = 1
		m.state = mnsmPassToken
		return false
	}
	m.ps = m.nextAddr(m.ns)
	m.send(Frame{Type: FramePollForManager, Destination: m.ps, Source: m.thisStation})
	m.ns = m.thisStation
	m.tokenCount = 0
	m.state = mnsmPollForManager
	return false
}

func (m *mnsm) stepPassToken(timer *SilenceTimer) bool {
	if !timer.AtLeast(TusageTimeoutTP) && m.eventCount > NminOctets {
		m.state = mnsmIdle
		return false
	}
	if timer.AtLeast(TusageTimeoutTP) && m.retryCount < NretryToken {
		m.send(Frame{Type: FrameToken, Destination: m.ns, Source: m.thisStation})
		m.retryCount++
		m.stats.TokenRetries.Add(1)
		m.eventCount = 0
		return false
	}
	if timer.AtLeast(m.tusageTimeout) && m.retryCount >= NretryToken {
		if m.ns == m.nextAddr(m.thisStation) {
			m.ps = m.nextAddr(m.thisStation)
		} else {
			m.ps = m.nextAddr(m.ns)
		}
		m.send(Frame{Type: FramePollForManager, Destination: m.ps, Source: m.thisStation})
		m.ns = m.thisStation
		m.retryCount = 0
		m.tokenCount = 0
		m.state = mnsmPollForManager
		return false
	}
	return false
}

func (m *mnsm) stepNoToken(timer *SilenceTimer) bool {
	lowMs := (Tnotoken + time.Duration(m.thisStation)*Tslot).Milliseconds()
	highMs := (Tnotoken + time.Duration(m.thisStation+1)*Tslot).Milliseconds()
	ms := timer.Milliseconds()

	if ms < lowMs && m.eventCount > NminOctets {
		m.state = mnsmIdle
		return false
	}
	if ms >= lowMs && m.eventCount < NminOctets && m.rfsm.receivedInvalidFrame {
		m.rfsm.clearInvalid()
		m.state = mnsmIdle
		return false
	}
	if ms >= lowMs && ms <= highMs {
		m.ps = m.nextAddr(m.thisStation)
		m.send(Frame{Type: FramePollForManager, Destination: m.ps, Source: m.thisStation})
		m.ns = m.thisStation
		m.state = mnsmPollForManager
		return false
	}
	if m.eventCount > NminOctets {
		m.state = mnsmIdle
		return false
	}
	return false
}

func (m *mnsm) stepPollForManager(timer *SilenceTimer) bool {
	if m.rfsm.receivedValidFrame {
		f := m.rfsm.lastFrame
		if f.Destination == m.thisStation && f.Type == FrameReplyToPollForManager {
			m.rfsm.clearValid()
			m.soleManager = false
			m.ns = f.Source
			m.send(Frame{Type: FrameToken, Destination: m.ns, Source: m.thisStation})
			m.ps = m.thisStation
			m.tokenCount = 0
			m.state = mnsmPassToken
			return false
		}
		m.rfsm.clearValid()
		m.soleManager = false
		m.state = mnsmIdle
		return false
	}

	if m.soleManager && (timer.AtLeast(m.tusageTimeout) || m.rfsm.receivedInvalidFrame) {
		m.rfsm.clearInvalid()
		m.frameCount = 0
		m.state = mnsmUseToken
		return true
	}
	if m.soleManager && m.eventCount > NminOctets {
		m.soleManager = false
		m.ns = m.thisStation
		m.ps = m.thisStation
		m.tokenCount = 0
		m.frameCount = 0
		m.retryCount = 0
		m.state = mnsmIdle
		return false
	}
	if !m.soleManager && (timer.AtLeast(m.tusageTimeout) || m.rfsm.receivedInvalidFrame) {
		m.rfsm.clearInvalid()
		if m.ns != m.thisStation {
			m.send(Frame{Type: FrameToken, Destination: m.ns, Source: m.thisStation})
			m.state = mnsmPassToken
			return false
		}
		if m.thisStation != m.nextAddr(m.ps) {
			m.ps = m.nextAddr(m.ps)
			m.send(Frame{Type: FramePollForManager, Destination: m.ps, Source: m.thisStation})
			return false
		}
		m.soleManager = true
		m.joined = true
		m.online = true
		m.frameCount = 0
		m.state = mnsmUseToken
		return true
	}
	return false
}

func (m *mnsm) stepAnswerDataRequest() bool {
	m.send(Frame{Type: FrameReplyPostponed, Destination: m.replyTo, Source: m.thisStation})
	m.state = mnsmIdle
	return false
}
