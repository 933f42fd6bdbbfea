// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on spec §4.2 byte layouts. No pack example implements the SQL
// Server DECIMAL/NUMERIC wire format, so mantissa arithmetic uses stdlib
// math/big: no decimal/bignum library appears in the teacher's or any pack
// repo's go.mod, and a 38-digit mantissa exceeds any fixed-width integer.

package encoding

import (
	"fmt"
	"math/big"
)

// mantissaWidth returns the number of little-endian mantissa bytes used for
// a DECIMAL/NUMERIC of the given precision, per the four precision buckets
// of MS-TDS.
func mantissaWidth(precision int) (int, error) {
	switch {
	case precision >= 1 && precision <= 9:
		return 4, nil
	case precision <= 19:
		return 8, nil
	case precision <= 28:
		return 12, nil
	case precision <= 38:
		return 16, nil
	default:
		return 0, fmt.Errorf("encoding: invalid decimal precision %d", precision)
	}
}

// DecodeDecimal decodes a DECIMAL/NUMERIC(precision,scale) wire value: a
// sign byte (0 = negative, 1 = non-negative) followed by a little-endian
// mantissa of the width [mantissaWidth] selects for precision. The result
// is returned as a [*big.Rat] scaled by 10^-scale.
func DecodeDecimal(b []byte, precision, scale int) (*big.Rat, error) {
	width, err := mantissaWidth(precision)
	if err != nil {
		return nil, err
	}
	if len(b) != width+1 {
		return nil, fmt.Errorf("encoding: decimal payload must be %d bytes, got %d", width+1, len(b))
	}
	negative := b[0] == 0
	mantissa := new(big.Int)
	for i := width; i >= 1; i-- {
		mantissa.Lsh(mantissa, 8)
		mantissa.Or(mantissa, big.NewInt(int64(b[i])))
	}
	if negative {
		mantissa.Neg(mantissa)
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)
	return new(big.Rat).SetFrac(mantissa, denom), nil
}

// EncodeDecimal encodes v as a DECIMAL/NUMERIC(precision,scale) wire value.
func EncodeDecimal(v *big.Rat, precision, scale int) ([]byte, error) {
	width, err := mantissaWidth(precision)
	if err != nil {
		return nil, err
	}
	scaled := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)
	num := new(big.Int).Mul(v.Num(), scaled)
	mantissa := new(big.Int).Quo(num, v.Denom())

	negative := mantissa.Sign() < 0
	if negative {
		mantissa.Neg(mantissa)
	}

	out := make([]byte, width+1)
	if negative {
		out[0] = 0
	} else {
		out[0] = 1
	}
	bytes := mantissa.Bytes() // big-endian
	for i, bt := range bytes {
		pos := len(bytes) - 1 - i
		if pos+1 >= len(out) {
			return nil, fmt.Errorf("encoding: value overflows precision %d", precision)
		}
		out[pos+1] = bt
	}
	return out, nil
}

// DecodeMoney decodes the MONEY(19,4) wire format: [high32 LE, low32 LE] of
// a signed 64-bit integer representing the amount times 10000.
func DecodeMoney(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("encoding: money payload must be 8 bytes, got %d", len(b))
	}
	high := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	low := uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24
	return int64(high)<<32 | int64(low), nil
}

// EncodeMoney encodes micro-units (amount * 10000) into the MONEY wire
// format.
func EncodeMoney(units int64) []byte {
	high := uint32(units >> 32)
	low := uint32(units)
	return []byte{
		byte(high), byte(high >> 8), byte(high >> 16), byte(high >> 24),
		byte(low), byte(low >> 8), byte(low >> 16), byte(low >> 24),
	}
}

// DecodeSmallMoney decodes the SMALLMONEY(10,4) wire format: a single
// signed 32-bit little-endian integer representing amount * 10000.
func DecodeSmallMoney(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("encoding: smallmoney payload must be 4 bytes, got %d", len(b))
	}
	return int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24), nil
}

// EncodeSmallMoney encodes micro-units (amount * 10000) into the
// SMALLMONEY wire format.
func EncodeSmallMoney(units int32) []byte {
	u := uint32(units)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}
