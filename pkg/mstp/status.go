package mstp

import "sync/atomic"

// Counters are monotonically increasing, best-effort statistics. Per §5
// they are owned by the engine and may be read while the engine mutates
// them from the RX or tick path — torn reads are acceptable and
// inexpensive to avoid with atomics, so every field uses one.
type Counters struct {
	FramesReceived   atomic.Uint64
	FramesTransmitted atomic.Uint64
	HeaderCRCErrors  atomic.Uint64
	DataCRCErrors    atomic.Uint64
	FrameAborts      atomic.Uint64
	OversizedFrames  atomic.Uint64
	LineErrors       atomic.Uint64
	TokenRetries     atomic.Uint64
	RxQueueDrops     atomic.Uint64
	TxQueueRejects   atomic.Uint64
}

// Snapshot is a point-in-time, non-atomic copy of Counters suitable for
// logging, JSON encoding or Prometheus export.
type Snapshot struct {
	FramesReceived    uint64
	FramesTransmitted uint64
	HeaderCRCErrors   uint64
	DataCRCErrors     uint64
	FrameAborts       uint64
	OversizedFrames   uint64
	LineErrors        uint64
	TokenRetries      uint64
	RxQueueDrops      uint64
	TxQueueRejects    uint64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		FramesReceived:    c.FramesReceived.Load(),
		FramesTransmitted: c.FramesTransmitted.Load(),
		HeaderCRCErrors:   c.HeaderCRCErrors.Load(),
		DataCRCErrors:     c.DataCRCErrors.Load(),
		FrameAborts:       c.FrameAborts.Load(),
		OversizedFrames:   c.OversizedFrames.Load(),
		LineErrors:        c.LineErrors.Load(),
		TokenRetries:      c.TokenRetries.Load(),
		RxQueueDrops:      c.RxQueueDrops.Load(),
		TxQueueRejects:    c.TxQueueRejects.Load(),
	}
}

// Status is the full observability snapshot returned by Engine.Status(),
// per §6 ("returns all counters and current state strings").
type Status struct {
	ThisStation   uint8
	NmaxManager   uint8
	NextStation   uint8
	PollStation   uint8
	Joined        bool
	SoleManager   bool
	RFSMState     string
	MNSMState     string
	SilenceMs     int64
	TxQueueLen    int
	RxQueueLen    int
	Counters      Snapshot
}
