// Package mstpconfig loads an Engine's tunables from an ini-formatted
// file.
package mstpconfig

import (
	"time"

	"github.com/samsamfire/mstpd/pkg/mstp"
	"gopkg.in/ini.v1"
)

// File is the top-level shape of an mstpd configuration file:
//
//	[link]
//	device = /dev/ttyUSB0
//	baud = 38400
//	this_station = 3
//	nmax_manager = 10
//	nmax_info_frames = 1
//	tusage_timeout_ms = 25
type File struct {
	Device        string
	Baud          int
	ThisStation   uint8
	NmaxManager   uint8
	NmaxInfoFrames uint8
	TusageTimeout time.Duration
}

// Load reads an ini file at path and returns the parsed link section.
// A missing key takes the same default as the matching mstpd flag:
// device /dev/ttyUSB0, baud 76800, this_station 0, nmax_manager 127,
// nmax_info_frames 1, tusage_timeout_ms 25.
func Load(path string) (*File, error) {
	raw, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	section := raw.Section("link")

	cfg := &File{
		Device:         section.Key("device").MustString("/dev/ttyUSB0"),
		Baud:           section.Key("baud").MustInt(76800),
		ThisStation:    uint8(section.Key("this_station").MustInt(0)),
		NmaxManager:    uint8(section.Key("nmax_manager").MustInt(127)),
		NmaxInfoFrames: uint8(section.Key("nmax_info_frames").MustInt(1)),
		TusageTimeout:  time.Duration(section.Key("tusage_timeout_ms").MustInt(25)) * time.Millisecond,
	}
	return cfg, nil
}

// EngineConfig converts the loaded file into an mstp.Config, letting
// mstp.NewEngine perform its own clamping (§6) as the single source of
// truth for valid ranges.
func (f *File) EngineConfig() mstp.Config {
	return mstp.Config{
		ThisStation:    f.ThisStation,
		NmaxManager:    f.NmaxManager,
		NmaxInfoFrames: f.NmaxInfoFrames,
		Baud:           f.Baud,
		TusageTimeout:  f.TusageTimeout,
	}
}
