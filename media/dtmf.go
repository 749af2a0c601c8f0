// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package media

import (
	"encoding/binary"
	"fmt"
)

// DTMF event mapping (RFC 4733)
var dtmfEventMapping = map[rune]uint8{
	'0': 0, '1': 1, '2': 2, '3': 3, '4': 4,
	'5': 5, '6': 6, '7': 7, '8': 8, '9': 9,
	'*': 10, '#': 11,
	'A': 12, 'B': 13, 'C': 14, 'D': 15,
}

var dtmfEventMappingRev = map[uint8]rune{
	0: '0', 1: '1', 2: '2', 3: '3', 4: '4',
	5: '5', 6: '6', 7: '7', 8: '8', 9: '9',
	10: '*', 11: '#',
	12: 'A', 13: 'B', 14: 'C', 15: 'D',
}

// DTMFEvent represents a single RFC 4733 telephone event payload.
type DTMFEvent struct {
	Event      uint8
	EndOfEvent bool
	Volume     uint8
	Duration   uint16
}

// DTMFFromRune maps a dial character to its event code. Unknown characters
// report false.
func DTMFFromRune(r rune) (uint8, bool) {
	ev, ok := dtmfEventMapping[r]
	return ev, ok
}

func DTMFToRune(ev uint8) rune {
	return dtmfEventMappingRev[ev]
}

func (ev *DTMFEvent) String() string {
	return fmt.Sprintf("DTMF event=%d end=%v vol=%d dur=%d", ev.Event, ev.EndOfEvent, ev.Volume, ev.Duration)
}

// DTMFDecode decodes an RTP telephone-event payload.
func DTMFDecode(payload []byte, d *DTMFEvent) error {
	if len(payload) < 4 {
		return fmt.Errorf("dtmf payload too short")
	}

	d.Event = payload[0]
	d.EndOfEvent = payload[1]&0x80 != 0
	d.Volume = payload[1] & 0x3F
	d.Duration = binary.BigEndian.Uint16(payload[2:4])
	return nil
}

// DTMFEncode encodes the 4 byte telephone-event payload.
func DTMFEncode(d DTMFEvent) []byte {
	header := make([]byte, 4)
	header[0] = d.Event
	if d.EndOfEvent {
		header[1] = 0x80
	}
	header[1] |= d.Volume & 0x3F
	binary.BigEndian.PutUint16(header[2:4], d.Duration)
	return header
}
