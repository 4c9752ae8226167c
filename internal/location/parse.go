package location

import (
	"encoding/binary"
	"fmt"
)

// Location and Speed characteristic flags (Bluetooth LN service).
const (
	lnsFlagInstantaneousSpeed = 1 << 0
	lnsFlagTotalDistance      = 1 << 1
	lnsFlagLocation           = 1 << 2
	lnsFlagElevation          = 1 << 3
	lnsFlagHeading            = 1 << 4
	lnsFlagRollingTime        = 1 << 5
	lnsFlagUTCTime            = 1 << 6
)

// Position Quality characteristic flags.
const (
	pqFlagBeaconsInSolution = 1 << 0
	pqFlagBeaconsInView     = 1 << 1
	pqFlagTimeToFirstFix    = 1 << 2
	pqFlagEHPE              = 1 << 3
	pqFlagEVPE              = 1 << 4
	pqFlagHDOP              = 1 << 5
	pqFlagVDOP              = 1 << 6
)

// SpeedAndLocation is the decoded payload of one Location and Speed
// notification. Fields are only meaningful when their Has flag is set.
type SpeedAndLocation struct {
	HasSpeed       bool
	SpeedMps       float64
	HasDistance    bool
	DistanceMeters float64
	HasLocation    bool
	Latitude       float64
	Longitude      float64
}

// ParseLocationAndSpeed decodes a Location and Speed (0x2A67) payload.
// Optional fields the caller does not care about (elevation, heading,
// times) are validated for length but not returned.
func ParseLocationAndSpeed(data []byte) (SpeedAndLocation, error) {
	var out SpeedAndLocation

	if len(data) < 2 {
		return out, fmt.Errorf("location and speed payload too short: %d bytes", len(data))
	}
	flags := binary.LittleEndian.Uint16(data[0:2])
	offset := 2

	if flags&lnsFlagInstantaneousSpeed != 0 {
		if len(data) < offset+2 {
			return out, fmt.Errorf("payload truncated in speed field")
		}
		raw := binary.LittleEndian.Uint16(data[offset : offset+2])
		out.HasSpeed = true
		out.SpeedMps = float64(raw) / 100.0 // unit is 1/100 m/s
		offset += 2
	}

	if flags&lnsFlagTotalDistance != 0 {
		if len(data) < offset+3 {
			return out, fmt.Errorf("payload truncated in total distance field")
		}
		raw := uint32(data[offset]) | uint32(data[offset+1])<<8 | uint32(data[offset+2])<<16
		out.HasDistance = true
		out.DistanceMeters = float64(raw) / 10.0 // unit is 1/10 m
		offset += 3
	}

	if flags&lnsFlagLocation != 0 {
		if len(data) < offset+8 {
			return out, fmt.Errorf("payload truncated in location field")
		}
		lat := int32(binary.LittleEndian.Uint32(data[offset : offset+4]))
		lon := int32(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		out.HasLocation = true
		out.Latitude = float64(lat) * 1e-7 // unit is 1e-7 degrees
		out.Longitude = float64(lon) * 1e-7
		offset += 8
	}

	if flags&lnsFlagElevation != 0 {
		if len(data) < offset+3 {
			return out, fmt.Errorf("payload truncated in elevation field")
		}
		offset += 3
	}
	if flags&lnsFlagHeading != 0 {
		if len(data) < offset+2 {
			return out, fmt.Errorf("payload truncated in heading field")
		}
		offset += 2
	}

	return out, nil
}

// ParsePositionQuality decodes a Position Quality (0x2A69) payload and
// returns the estimated horizontal position error in meters. ok is false
// when the pod does not report EHPE.
func ParsePositionQuality(data []byte) (ehpeMeters float64, ok bool, err error) {
	if len(data) < 2 {
		return 0, false, fmt.Errorf("position quality payload too short: %d bytes", len(data))
	}
	flags := binary.LittleEndian.Uint16(data[0:2])
	offset := 2

	if flags&pqFlagBeaconsInSolution != 0 {
		offset++
	}
	if flags&pqFlagBeaconsInView != 0 {
		offset++
	}
	if flags&pqFlagTimeToFirstFix != 0 {
		offset += 2
	}

	if flags&pqFlagEHPE == 0 {
		return 0, false, nil
	}
	if len(data) < offset+4 {
		return 0, false, fmt.Errorf("payload truncated in EHPE field")
	}
	raw := binary.LittleEndian.Uint32(data[offset : offset+4])
	return float64(raw) / 100.0, true, nil // unit is 1/100 m
}

// EncodeLocationAndSpeed builds a Location and Speed payload carrying
// speed, total distance and coordinates. The mock pod emits these.
func EncodeLocationAndSpeed(latitude, longitude, speedMps, distanceMeters float64) []byte {
	buf := make([]byte, 0, 13)

	flags := uint16(lnsFlagInstantaneousSpeed | lnsFlagTotalDistance | lnsFlagLocation)
	buf = binary.LittleEndian.AppendUint16(buf, flags)

	buf = binary.LittleEndian.AppendUint16(buf, uint16(speedMps*100.0))

	dist := uint32(distanceMeters * 10.0)
	buf = append(buf, byte(dist), byte(dist>>8), byte(dist>>16))

	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(latitude/1e-7)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(longitude/1e-7)))

	return buf
}

// EncodePositionQuality builds a Position Quality payload carrying only
// an EHPE value.
func EncodePositionQuality(ehpeMeters float64) []byte {
	buf := make([]byte, 0, 6)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(pqFlagEHPE))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ehpeMeters*100.0))
	return buf
}
