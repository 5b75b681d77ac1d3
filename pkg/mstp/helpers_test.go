package mstp

import (
	"testing"

	"github.com/samsamfire/mstpd/internal/queue"
	"github.com/samsamfire/mstpd/pkg/uart"
	"github.com/sirupsen/logrus"
)

func testLogEntry() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newTestQueue(t *testing.T) *queue.Queue[Frame] {
	t.Helper()
	return queue.New[Frame](8)
}

// fakeDriver is an in-memory uart.Driver for engine tests: Transmit
// records bytes instead of touching hardware, and deliver() feeds bytes
// straight into the subscribed callback as if they'd been received.
type fakeDriver struct {
	baud     int
	sent     [][]byte
	onOctets func(octets []byte, flag uart.LineFlag)
	closed   bool
}

func newFakeDriver(baud int) *fakeDriver {
	return &fakeDriver{baud: baud}
}

func (f *fakeDriver) Transmit(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	f.sent = append(f.sent, cp)
	return len(b), nil
}

func (f *fakeDriver) TransmitComplete() bool { return true }
func (f *fakeDriver) Baud() int              { return f.baud }
func (f *fakeDriver) SetToMSTP() error       { return nil }

func (f *fakeDriver) Subscribe(onOctets func(octets []byte, flag uart.LineFlag)) {
	f.onOctets = onOctets
}

func (f *fakeDriver) Close() error {
	f.closed = true
	return nil
}

func (f *fakeDriver) deliver(octets []byte, flag uart.LineFlag) {
	if f.onOctets != nil {
		f.onOctets(octets, flag)
	}
}

func (f *fakeDriver) deliverFrame(fr Frame) {
	f.deliver(Serialize(fr, false), uart.Normal)
}
