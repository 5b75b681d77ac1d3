package mstp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMNSM(t *testing.T, station, nmaxManager uint8) (*mnsm, *[]Frame) {
	t.Helper()
	var sent []Frame
	rq := newTestQueue(t)
	r := newRFSM(station, rq, &Counters{}, testLogEntry())
	txq := newTestQueue(t)
	m := newMNSM(station, nmaxManager, 1, 25*time.Millisecond, r, txq, r.stats, func(f Frame) {
		sent = append(sent, f)
	}, testLogEntry())
	return m, &sent
}

func TestMNSMInitializeGoesIdle(t *testing.T) {
	m, _ := newTestMNSM(t, 3, 10)
	var timer SilenceTimer
	again := m.Step(&timer)
	assert.False(t, again)
	assert.Equal(t, mnsmIdle, m.state)
	assert.Equal(t, uint8(3), m.ns)
	assert.Equal(t, uint8(3), m.ps)
}

func TestMNSMTokenReceivedGoesUseToken(t *testing.T) {
	m, _ := newTestMNSM(t, 3, 10)
	var timer SilenceTimer
	m.Step(&timer) // Initialize -> Idle

	m.rfsm.receivedValidFrame = true
	m.rfsm.lastFrame = Frame{Type: FrameToken, Destination: 3, Source: 1}

	again := m.Step(&timer)
	assert.True(t, again)
	assert.Equal(t, mnsmUseToken, m.state)
	assert.True(t, m.joined)
	assert.True(t, m.online)
}

func TestMNSMNoFramesToSendGoesDoneWithToken(t *testing.T) {
	m, _ := newTestMNSM(t, 3, 10)
	m.state = mnsmUseToken
	var timer SilenceTimer
	again := m.Step(&timer)
	assert.True(t, again)
	assert.Equal(t, mnsmDoneWithToken, m.state)
	assert.Equal(t, int(m.nmaxInfoFrames), m.frameCount)
}

func TestMNSMPollForManagerTimeoutDeclaresSoleManager(t *testing.T) {
	m, sent := newTestMNSM(t, 5, 10)
	m.state = mnsmPollForManager
	m.ns = 5
	// ps = 4 is the last address polled before the search wraps back to
	// this_station (nextAddr(4) == 5 with nmaxManager=10): the poll has
	// gone all the way around with no reply.
	m.ps = 4

	var timer SilenceTimer
	timer.SetAbove(m.tusageTimeout)
	again := m.Step(&timer)

	require.True(t, again)
	assert.Equal(t, mnsmUseToken, m.state)
	assert.True(t, m.soleManager)
	assert.True(t, m.joined)
	assert.True(t, m.online)
	_ = sent
}

func TestMNSMPollForManagerAdvancesToNextCandidateBeforeWrapping(t *testing.T) {
	m, sent := newTestMNSM(t, 5, 10)
	m.state = mnsmPollForManager
	m.ns = 5
	m.ps = 6

	var timer SilenceTimer
	timer.SetAbove(m.tusageTimeout)
	again := m.Step(&timer)

	assert.False(t, again)
	assert.Equal(t, mnsmPollForManager, m.state)
	assert.False(t, m.soleManager)
	assert.Equal(t, uint8(7), m.ps)
	require.Len(t, *sent, 1)
	assert.Equal(t, FramePollForManager, (*sent)[0].Type)
	assert.Equal(t, uint8(7), (*sent)[0].Destination)
}

func TestMNSMPollForManagerReplyJoinsRing(t *testing.T) {
	m, sent := newTestMNSM(t, 5, 10)
	m.state = mnsmPollForManager
	m.ps = 6

	m.rfsm.receivedValidFrame = true
	m.rfsm.lastFrame = Frame{Type: FrameReplyToPollForManager, Destination: 5, Source: 6}

	var timer SilenceTimer
	again := m.Step(&timer)

	assert.False(t, again)
	assert.Equal(t, mnsmPassToken, m.state)
	assert.Equal(t, uint8(6), m.ns)
	require.Len(t, *sent, 1)
	assert.Equal(t, FrameToken, (*sent)[0].Type)
}

func TestMNSMPassTokenRetriesOnTimeout(t *testing.T) {
	m, sent := newTestMNSM(t, 5, 10)
	m.state = mnsmPassToken
	m.ns = 6
	m.eventCount = 0

	var timer SilenceTimer
	timer.SetAbove(TusageTimeoutTP)
	m.Step(&timer)

	require.Len(t, *sent, 1)
	assert.Equal(t, FrameToken, (*sent)[0].Type)
	assert.Equal(t, 1, m.retryCount)
	assert.Equal(t, uint64(1), m.stats.TokenRetries.Load())
}

func TestMNSMTestRequestEchoesTestResponse(t *testing.T) {
	m, sent := newTestMNSM(t, 3, 10)
	m.state = mnsmIdle
	m.rfsm.receivedValidFrame = true
	m.rfsm.lastFrame = Frame{Type: FrameTestRequest, Destination: 3, Source: 7, Data: []byte{1, 2}}

	var timer SilenceTimer
	m.Step(&timer)

	require.Len(t, *sent, 1)
	assert.Equal(t, FrameTestResponse, (*sent)[0].Type)
	assert.Equal(t, uint8(7), (*sent)[0].Destination)
	assert.Equal(t, []byte{1, 2}, (*sent)[0].Data)
}

func TestMNSMDataExpectingReplyGoesAnswerDataRequest(t *testing.T) {
	m, _ := newTestMNSM(t, 3, 10)
	m.state = mnsmIdle
	m.rfsm.receivedValidFrame = true
	m.rfsm.lastFrame = Frame{Type: FrameBACnetDataExpectingReply, Destination: 3, Source: 2}

	var timer SilenceTimer
	m.Step(&timer)

	assert.Equal(t, mnsmAnswerDataRequest, m.state)
	assert.Equal(t, uint8(2), m.replyTo)
}

func TestMNSMAnswerDataRequestSendsReplyPostponed(t *testing.T) {
	m, sent := newTestMNSM(t, 3, 10)
	m.state = mnsmAnswerDataRequest
	m.replyTo = 2

	var timer SilenceTimer
	m.Step(&timer)

	require.Len(t, *sent, 1)
	assert.Equal(t, FrameReplyPostponed, (*sent)[0].Type)
	assert.Equal(t, uint8(2), (*sent)[0].Destination)
	assert.Equal(t, mnsmIdle, m.state)
}

func TestMNSMNextAddrWraps(t *testing.T) {
	m, _ := newTestMNSM(t, 126, 127)
	assert.Equal(t, uint8(127), m.nextAddr(126))
	assert.Equal(t, uint8(0), m.nextAddr(127))
}
