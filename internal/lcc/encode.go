// Package lcc delivers lighting events to the LCC (OpenLCB) bus. Each
// (parameter, value) pair is encoded into a well-known 64-bit event ID and
// published on an MQTT bridge topic that the CAN gateway forwards to the
// physical bus.
package lcc

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/dokzlo13/fadectl/internal/light"
)

// DefaultBaseEventID is the factory-default base for lighting events. The
// low two bytes are always zero: they carry the parameter and value.
const DefaultBaseEventID uint64 = 0x0501010122600000

// EncodeEventID builds the event ID for a lighting parameter update.
//
// Base:   XX.XX.XX.XX.XX.XX.00.00
// Result: XX.XX.XX.XX.XX.XX.PP.VV
func EncodeEventID(base uint64, param light.Param, value uint8) uint64 {
	return (base &^ 0xFFFF) | uint64(param)<<8 | uint64(value)
}

// EventIDBytes returns the big-endian wire form of an event ID.
func EventIDBytes(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// ParseEventID parses a base event ID from its configuration form: either a
// plain hex number ("0501010122600000", with or without an 0x prefix) or
// dotted bytes ("05.01.01.01.22.60.00.00").
func ParseEventID(s string) (uint64, error) {
	cleaned := strings.TrimPrefix(strings.ToLower(s), "0x")
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	if len(cleaned) != 16 {
		return 0, fmt.Errorf("event id %q: want 8 bytes (16 hex digits), got %d digits", s, len(cleaned))
	}
	id, err := strconv.ParseUint(cleaned, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("event id %q: %w", s, err)
	}
	return id, nil
}
