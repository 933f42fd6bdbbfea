// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded directly on spec §4.2's byte layouts and its documented
// scale-conversion fix for TIME(n)/DATETIME2(n)/DATETIMEOFFSET(n): a prior
// implementation ignored scale when converting wire ticks to the host
// engine's microsecond resolution, corrupting sub-second fields for every
// scale below 7. The fix: multiply ticks by 10^(6-scale) for scale <= 6,
// divide by 10 for scale 7.

package encoding

import (
	"fmt"
	"time"
)

var epoch0001 = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
var epoch1900 = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// pow10 returns 10^n for small non-negative n.
func pow10(n int) int64 {
	r := int64(1)
	for i := 0; i < n; i++ {
		r *= 10
	}
	return r
}

// timeWidth returns the byte width of a TIME(scale)/DATETIME2(scale)
// time-portion field.
func timeWidth(scale int) (int, error) {
	switch {
	case scale < 0 || scale > 7:
		return 0, fmt.Errorf("encoding: invalid time scale %d", scale)
	case scale <= 2:
		return 3, nil
	case scale <= 4:
		return 4, nil
	default:
		return 5, nil
	}
}

func decodeLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func encodeLE(v uint64, width int) []byte {
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// ticksToNanosSinceMidnight converts a raw TIME(scale) tick count (units of
// 10^-scale seconds) to nanoseconds since midnight, applying the
// scale-dependent conversion documented above.
func ticksToNanosSinceMidnight(ticks uint64, scale int) int64 {
	var micros int64
	if scale <= 6 {
		micros = int64(ticks) * pow10(6-scale)
	} else {
		micros = int64(ticks) / 10
	}
	return micros * 1000
}

// nanosSinceMidnightToTicks is the inverse of [ticksToNanosSinceMidnight].
func nanosSinceMidnightToTicks(nanos int64, scale int) uint64 {
	micros := nanos / 1000
	if scale <= 6 {
		return uint64(micros / pow10(6-scale))
	}
	return uint64(micros * 10)
}

// DecodeDate decodes a DATE wire value: a 3-byte unsigned little-endian day
// count since 0001-01-01.
func DecodeDate(b []byte) (time.Time, error) {
	if len(b) != 3 {
		return time.Time{}, fmt.Errorf("encoding: date payload must be 3 bytes, got %d", len(b))
	}
	days := decodeLE(b)
	return epoch0001.AddDate(0, 0, int(days)), nil
}

// EncodeDate encodes t's date portion as a DATE wire value.
func EncodeDate(t time.Time) []byte {
	t = t.UTC()
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days := d.Unix()/86400 - epoch0001.Unix()/86400
	return encodeLE(uint64(days), 3)
}

// DecodeTime decodes a TIME(scale) wire value into nanoseconds since
// midnight.
func DecodeTime(b []byte, scale int) (int64, error) {
	width, err := timeWidth(scale)
	if err != nil {
		return 0, err
	}
	if len(b) != width {
		return 0, fmt.Errorf("encoding: time(%d) payload must be %d bytes, got %d", scale, width, len(b))
	}
	return ticksToNanosSinceMidnight(decodeLE(b), scale), nil
}

// EncodeTime encodes nanosSinceMidnight as a TIME(scale) wire value.
func EncodeTime(nanosSinceMidnight int64, scale int) ([]byte, error) {
	width, err := timeWidth(scale)
	if err != nil {
		return nil, err
	}
	return encodeLE(nanosSinceMidnightToTicks(nanosSinceMidnight, scale), width), nil
}

// DecodeDateTime2 decodes a DATETIME2(scale) wire value: the TIME(scale)
// bytes followed by the 3-byte DATE bytes.
func DecodeDateTime2(b []byte, scale int) (time.Time, error) {
	width, err := timeWidth(scale)
	if err != nil {
		return time.Time{}, err
	}
	if len(b) != width+3 {
		return time.Time{}, fmt.Errorf("encoding: datetime2(%d) payload must be %d bytes, got %d", scale, width+3, len(b))
	}
	nanos, err := DecodeTime(b[:width], scale)
	if err != nil {
		return time.Time{}, err
	}
	date, err := DecodeDate(b[width:])
	if err != nil {
		return time.Time{}, err
	}
	return date.Add(time.Duration(nanos)), nil
}

// EncodeDateTime2 encodes t as a DATETIME2(scale) wire value.
func EncodeDateTime2(t time.Time, scale int) ([]byte, error) {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	nanos := t.Sub(midnight).Nanoseconds()
	timeBytes, err := EncodeTime(nanos, scale)
	if err != nil {
		return nil, err
	}
	return append(timeBytes, EncodeDate(midnight)...), nil
}

// DecodeDateTimeOffset decodes a DATETIMEOFFSET(scale) wire value: the
// DATETIME2(scale) bytes (already UTC) followed by a 2-byte signed
// little-endian minutes offset, which is display-only.
func DecodeDateTimeOffset(b []byte, scale int) (utcTime time.Time, offsetMinutes int16, err error) {
	width, err := timeWidth(scale)
	if err != nil {
		return time.Time{}, 0, err
	}
	if len(b) != width+3+2 {
		return time.Time{}, 0, fmt.Errorf("encoding: datetimeoffset(%d) payload must be %d bytes, got %d", scale, width+5, len(b))
	}
	utcTime, err = DecodeDateTime2(b[:width+3], scale)
	if err != nil {
		return time.Time{}, 0, err
	}
	offset := int16(uint16(b[width+3]) | uint16(b[width+4])<<8)
	return utcTime, offset, nil
}

// EncodeDateTimeOffset encodes utcTime (already UTC) plus a display-only
// offsetMinutes as a DATETIMEOFFSET(scale) wire value.
func EncodeDateTimeOffset(utcTime time.Time, offsetMinutes int16, scale int) ([]byte, error) {
	dt2, err := EncodeDateTime2(utcTime, scale)
	if err != nil {
		return nil, err
	}
	u := uint16(offsetMinutes)
	return append(dt2, byte(u), byte(u>>8)), nil
}

// DecodeDateTime decodes the legacy DATETIME wire format: 4 bytes of days
// since 1900-01-01, then 4 bytes of ticks at 1/300s resolution.
func DecodeDateTime(b []byte) (time.Time, error) {
	if len(b) != 8 {
		return time.Time{}, fmt.Errorf("encoding: datetime payload must be 8 bytes, got %d", len(b))
	}
	days := int32(decodeLE(b[:4]))
	ticks := int32(decodeLE(b[4:]))
	base := epoch1900.AddDate(0, 0, int(days))
	nanos := time.Duration(float64(ticks) * (float64(time.Second) / 300.0))
	return base.Add(nanos), nil
}

// EncodeDateTime encodes t as the legacy DATETIME wire format.
func EncodeDateTime(t time.Time) []byte {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days := int64(midnight.Sub(epoch1900).Hours() / 24)
	ticks := int64(t.Sub(midnight).Seconds() * 300.0)
	out := encodeLE(uint64(uint32(days)), 4)
	return append(out, encodeLE(uint64(uint32(ticks)), 4)...)
}

// DecodeSmallDateTime decodes the legacy SMALLDATETIME wire format: 2
// bytes of days since 1900-01-01, then 2 bytes of minutes since midnight.
func DecodeSmallDateTime(b []byte) (time.Time, error) {
	if len(b) != 4 {
		return time.Time{}, fmt.Errorf("encoding: smalldatetime payload must be 4 bytes, got %d", len(b))
	}
	days := decodeLE(b[:2])
	minutes := decodeLE(b[2:])
	base := epoch1900.AddDate(0, 0, int(days))
	return base.Add(time.Duration(minutes) * time.Minute), nil
}

// EncodeSmallDateTime encodes t as the legacy SMALLDATETIME wire format.
func EncodeSmallDateTime(t time.Time) []byte {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days := int64(midnight.Sub(epoch1900).Hours() / 24)
	minutes := int64(t.Sub(midnight).Minutes())
	out := encodeLE(uint64(uint16(days)), 2)
	return append(out, encodeLE(uint64(uint16(minutes)), 2)...)
}
