// Package sensor decodes heart-rate notifications and feeds them to a callback.
package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortPayload is returned when a notification is too short for its flags.
var ErrShortPayload = errors.New("sensor: short heart rate payload")

// flagUint16 is bit 0 of the Heart Rate Measurement flags byte.
const flagUint16 = 0x01

// ParseHeartRateMeasurement decodes a GATT Heart Rate Measurement (0x2A37)
// payload. Bit 0 of the flags selects a uint8 or little-endian uint16 value.
func ParseHeartRateMeasurement(payload []byte) (int, error) {
	if len(payload) < 2 {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(payload))
	}
	if payload[0]&flagUint16 == 0 {
		return int(payload[1]), nil
	}
	if len(payload) < 3 {
		return 0, fmt.Errorf("%w: uint16 value needs 3 bytes, got %d", ErrShortPayload, len(payload))
	}
	return int(binary.LittleEndian.Uint16(payload[1:3])), nil
}
