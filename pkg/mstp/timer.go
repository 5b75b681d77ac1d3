package mstp

import "time"

// SilenceTimer tracks milliseconds since the last octet was observed on
// the bus, per §4.3. It is a signed counter: a transmitter may charge it
// with a negative offset to account for bytes still physically leaving
// the UART shift register, so the timer only reads zero once the line is
// truly idle again.
//
// Single writer (the engine, serialized by its own mutex), single reader
// per tick; status reporters may sample Milliseconds() without
// coordination, tearing is acceptable (§4.3, §5).
type SilenceTimer struct {
	ms int64
}

// Reset zeroes the timer; called on every RX/TX octet.
func (s *SilenceTimer) Reset() {
	s.ms = 0
}

// Charge adds a signed millisecond delta to the timer. A negative delta
// pre-charges time the transmitter will spend pushing already-queued
// bytes out of the UART.
func (s *SilenceTimer) Charge(delta time.Duration) {
	s.ms += delta.Milliseconds()
}

// Advance is Charge with a non-negative elapsed wall-time delta, driven by
// the host tick.
func (s *SilenceTimer) Advance(elapsed time.Duration) {
	s.Charge(elapsed)
}

// Milliseconds returns the current value. May be negative transiently.
func (s *SilenceTimer) Milliseconds() int64 {
	return s.ms
}

// Duration is Milliseconds as a time.Duration, clamped to zero for
// comparisons against protocol timeouts (a still-negative timer is never
// "silent").
func (s *SilenceTimer) Duration() time.Duration {
	if s.ms < 0 {
		return 0
	}
	return time.Duration(s.ms) * time.Millisecond
}

// AtLeast reports whether the silence timer has reached or exceeded d.
func (s *SilenceTimer) AtLeast(d time.Duration) bool {
	return s.ms >= d.Milliseconds()
}

// Positive reports whether the line is currently idle (timer > 0), the
// precondition §4.5 requires before driving MNSM from the host tick.
func (s *SilenceTimer) Positive() bool {
	return s.ms > 0
}

// SetAbove forces the timer strictly above d; used on configuration
// reset per §3's lifecycle ("silence timer set above Tframe_abort").
func (s *SilenceTimer) SetAbove(d time.Duration) {
	s.ms = d.Milliseconds() + 1
}
