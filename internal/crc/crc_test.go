package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderResidue(t *testing.T) {
	// Frame type 6 (DNER), destination 3, source 1, length 0.
	octets := []byte{6, 3, 1, 0, 0}
	c := NewHeader()
	for _, o := range octets {
		c = c.Update(o)
	}
	c = c.Update(c.Transmitted())
	assert.Equal(t, HeaderResidue, c)
}

func TestHeaderResidueEmptyIsStable(t *testing.T) {
	c := NewHeader()
	c2 := c.Update(c.Transmitted())
	assert.Equal(t, HeaderResidue, c2)
}

func TestDataResidue(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	c := NewData()
	for _, o := range payload {
		c = c.Update(o)
	}
	lo, hi := c.TransmittedLow(), c.TransmittedHigh()
	c = c.Update(lo).Update(hi)
	assert.Equal(t, DataResidue, c)
}

func TestDataResidueEmptyPayload(t *testing.T) {
	c := NewData()
	lo, hi := c.TransmittedLow(), c.TransmittedHigh()
	c = c.Update(lo).Update(hi)
	assert.Equal(t, DataResidue, c)
}
