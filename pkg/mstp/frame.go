package mstp

import "github.com/samsamfire/mstpd/internal/crc"

// Frame is a fully decoded MS/TP protocol data unit, as described in §3.
type Frame struct {
	Type        FrameType
	Destination uint8
	Source      uint8
	Data        []byte
}

// forUs reports whether the frame is addressed to station, or broadcast.
func (f Frame) forUs(station uint8) bool {
	return f.Destination == station || f.Destination == Broadcast
}

// Serialize encodes f into its on-wire representation: preamble, 5-octet
// header, complemented header CRC, optional payload and complemented data
// CRC, per §3's fixed wire layout. pad, when true, appends the optional
// trailing 0xFF.
func Serialize(f Frame, pad bool) []byte {
	dataLen := len(f.Data)
	out := make([]byte, 0, 8+dataLen+3)
	out = append(out, preambleOctet1, preambleOctet2)

	hdr := [5]byte{
		byte(f.Type),
		f.Destination,
		f.Source,
		byte(dataLen >> 8),
		byte(dataLen),
	}
	hc := crc.NewHeader()
	for _, o := range hdr {
		hc = hc.Update(o)
	}
	out = append(out, hdr[:]...)
	out = append(out, hc.Transmitted())

	if dataLen > 0 {
		dc := crc.NewData()
		for _, o := range f.Data {
			dc = dc.Update(o)
		}
		out = append(out, f.Data...)
		out = append(out, dc.TransmittedLow(), dc.TransmittedHigh())
	}
	if pad {
		out = append(out, padOctet)
	}
	return out
}
