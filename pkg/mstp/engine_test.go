package mstp

import (
	"testing"
	"time"

	"github.com/samsamfire/mstpd/pkg/uart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, station uint8) (*Engine, *fakeDriver) {
	t.Helper()
	d := newFakeDriver(76800)
	e := NewEngine(d, Config{
		ThisStation:    station,
		NmaxManager:    10,
		NmaxInfoFrames: 4,
		Baud:           76800,
		TusageTimeout:  25 * time.Millisecond,
	}, testLogEntry())
	// Drain the one-time Initialize -> Idle transition so tests can deliver
	// frames and have MNSM's Idle state actually observe them.
	e.Tick(time.Millisecond)
	return e, d
}

func TestEngineJoinsRingOnToken(t *testing.T) {
	e, d := newTestEngine(t, 3)
	d.deliverFrame(Frame{Type: FrameToken, Destination: 3, Source: 1})
	e.Tick(time.Millisecond)

	st := e.Status()
	assert.True(t, st.Joined)
	assert.Equal(t, "PollForManager", st.MNSMState)
}

func TestEngineSubmitTXBeforeJoinIsNoop(t *testing.T) {
	e, _ := newTestEngine(t, 3)
	err := e.SubmitTX(FrameBACnetDataNotExpectingReply, 4, 3, []byte{1})
	require.NoError(t, err)
	assert.Equal(t, 0, e.txQueue.Len())
}

func TestEngineSubmitTXToSelfIsNoop(t *testing.T) {
	e, _ := newTestEngine(t, 3)
	err := e.SubmitTX(FrameBACnetDataNotExpectingReply, 3, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, e.txQueue.Len())
}

func TestEngineTransmitNeverTargetsSelf(t *testing.T) {
	e, d := newTestEngine(t, 3)
	e.transmit(Frame{Type: FrameToken, Destination: 3, Source: 3})
	assert.Empty(t, d.sent)
}

func TestEngineReceivesDNERIntoRXQueue(t *testing.T) {
	e, d := newTestEngine(t, 3)
	// Join the ring first so the application path is meaningful.
	d.deliverFrame(Frame{Type: FrameToken, Destination: 3, Source: 1})
	e.Tick(time.Millisecond)

	d.deliverFrame(Frame{Type: FrameBACnetDataNotExpectingReply, Destination: 3, Source: 1, Data: []byte{7, 8}})
	f, ok := e.ReceiveRX()
	require.True(t, ok)
	assert.Equal(t, []byte{7, 8}, f.Data)
}

func TestEngineStatusReflectsQueueDepth(t *testing.T) {
	e, d := newTestEngine(t, 3)
	d.deliverFrame(Frame{Type: FrameToken, Destination: 3, Source: 1})
	e.Tick(time.Millisecond)

	require.NoError(t, e.SubmitTX(FrameBACnetDataNotExpectingReply, 9, 3, []byte{1}))
	st := e.Status()
	assert.Equal(t, 1, st.TxQueueLen)
}

func TestEngineCloseDrainsAndClosesDriver(t *testing.T) {
	e, d := newTestEngine(t, 3)
	d.deliverFrame(Frame{Type: FrameToken, Destination: 3, Source: 1})
	e.Tick(time.Millisecond)
	require.NoError(t, e.SubmitTX(FrameBACnetDataNotExpectingReply, 9, 3, []byte{1}))

	require.NoError(t, e.Close())
	assert.True(t, d.closed)
	assert.Equal(t, 0, e.txQueue.Len())

	err := e.SubmitTX(FrameBACnetDataNotExpectingReply, 9, 3, []byte{1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEngineConfigureResetsState(t *testing.T) {
	e, _ := newTestEngine(t, 3)
	e.Configure(Config{ThisStation: 4, NmaxManager: 5, NmaxInfoFrames: 2, Baud: 38400, TusageTimeout: 20 * time.Millisecond})
	st := e.Status()
	assert.Equal(t, uint8(4), st.ThisStation)
	assert.Equal(t, "Idle", st.RFSMState)
	assert.Equal(t, "Initialize", st.MNSMState)
}

func TestEngineOnOctetsLineErrorCountsOnce(t *testing.T) {
	e, d := newTestEngine(t, 3)
	d.deliver(nil, uart.FramingError)
	st := e.Status()
	assert.Equal(t, uint64(1), st.Counters.LineErrors)
}
