package uart

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// supportedBauds mirrors the fixed set §6 names; anything else is
// normalized to 76800 by Open.
var supportedBauds = map[int]bool{
	9600: true, 19200: true, 38400: true, 57600: true, 76800: true, 115200: true,
}

// SerialPort adapts a real EIA-485 UART, reached through go.bug.st/serial,
// to the Driver contract. Its read loop hands each chunk it reads (up to
// 64 octets) to the subscribed callback in one invocation, always flagged
// Normal; the engine then steps its RFSM once per octet.
type SerialPort struct {
	log  *logrus.Entry
	port serial.Port
	baud int

	mu       sync.Mutex
	onOctets func(octets []byte, flag LineFlag)
	stop     chan struct{}
	wg       sync.WaitGroup
}

// Open opens devicePath at baud (normalized to 76800 if unsupported) and
// configures it 8N1, handshake off, per §6's set_to_mstp contract.
func Open(devicePath string, baud int, log *logrus.Entry) (*SerialPort, error) {
	if !supportedBauds[baud] {
		baud = 76800
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(devicePath, mode)
	if err != nil {
		return nil, err
	}
	_ = port.SetReadTimeout(50 * time.Millisecond)

	sp := &SerialPort{
		log:  log.WithField("component", "uart"),
		port: port,
		baud: baud,
		stop: make(chan struct{}),
	}
	return sp, nil
}

func (s *SerialPort) Transmit(b []byte) (int, error) {
	return s.port.Write(b)
}

// TransmitComplete reports true once writes return, since go.bug.st/serial
// does not expose shift-register state; callers relying on precise
// turnaround timing should rely on the engine's own busy-wait instead.
func (s *SerialPort) TransmitComplete() bool {
	return true
}

func (s *SerialPort) Baud() int {
	return s.baud
}

func (s *SerialPort) SetToMSTP() error {
	return s.port.SetMode(&serial.Mode{
		BaudRate: s.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

func (s *SerialPort) Subscribe(onOctets func(octets []byte, flag LineFlag)) {
	s.mu.Lock()
	s.onOctets = onOctets
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop()
}

func (s *SerialPort) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, 64)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		n, err := s.port.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			s.log.WithError(err).Warn("uart read error")
			continue
		}
		if n == 0 {
			continue
		}
		s.mu.Lock()
		cb := s.onOctets
		s.mu.Unlock()
		if cb != nil {
			cb(append([]byte(nil), buf[:n]...), Normal)
		}
	}
}

func (s *SerialPort) Close() error {
	close(s.stop)
	s.wg.Wait()
	return s.port.Close()
}
