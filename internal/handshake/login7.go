// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: other_examples ha1tch-aulsql protocol/tds-connection.go's
// LOGIN7 field layout (fixed header followed by variable-length string
// offsets into a trailing data block) and other_examples
// wang-xuemin/go-mssqldb's token.go password-obfuscation convention
// (nibble swap then XOR 0xA5), both reworked into pure encode/decode
// functions here rather than the connection-embedded procedures they
// come from.

package handshake

import (
	"encoding/binary"
	"fmt"

	"github.com/hugr-lab/mssql-extension/internal/encoding"
)

// LOGIN7 option-flags byte 3 bits (MS-TDS 2.2.6.3).
const (
	optionFlags3Extension byte = 0x10
)

// Feature extension ids (MS-TDS 2.2.6.4).
const (
	FeatureSessionRecovery   byte = 0x01
	FeatureFedAuth           byte = 0x02
	FeatureColumnEncryption  byte = 0x04
	FeatureGlobalTrans       byte = 0x05
	FeatureUTF8Support       byte = 0x0A
	FeatureTerminator        byte = 0xFF
)

// FedAuth options-word library bits (MS-TDS 2.2.6.4, FEDAUTH feature ext).
const (
	fedAuthLibrarySecurityToken = 0x01
	fedAuthFlagEchoYes          = 0x01 << 1
)

// Login7 is the decoded LOGIN7 fixed-plus-variable field set this core
// sends on every connection.
type Login7 struct {
	TDSVersion      uint32
	PacketSize      uint32
	ClientProgVer   uint32
	ClientPID       uint32
	ConnectionID    uint32
	OptionFlags1    byte
	OptionFlags2    byte
	TypeFlags       byte
	OptionFlags3    byte
	ClientTimeZone  int32
	ClientLCID      uint32

	Hostname    string
	Username    string
	Password    string // cleartext; obfuscated only at encode time
	AppName     string
	ServerName  string
	Language    string
	Database    string
	ClientID    [6]byte
	SSPI        []byte
	AttachDB    string

	// FedAuthToken, when non-empty, requests the FEDAUTH feature
	// extension carrying a pre-acquired security token instead of a
	// SQL-auth password.
	FedAuthToken string
}

// obfuscatePassword implements MS-TDS 2.2.6.3's password/SSPI obfuscation:
// swap the nibbles of each byte, then XOR with 0xA5.
func obfuscatePassword(pw []byte) []byte {
	out := make([]byte, len(pw))
	for i, c := range pw {
		swapped := (c << 4) | (c >> 4)
		out[i] = swapped ^ 0xA5
	}
	return out
}

// EncodeLogin7 serializes l into the LOGIN7 packet body, including an
// optional FEDAUTH feature-extension block when l.FedAuthToken is set.
func EncodeLogin7(l Login7) ([]byte, error) {
	hostnameUTF16, err := encoding.EncodeUTF16LE(l.Hostname)
	if err != nil {
		return nil, fmt.Errorf("handshake: encoding hostname: %w", err)
	}
	usernameUTF16, err := encoding.EncodeUTF16LE(l.Username)
	if err != nil {
		return nil, fmt.Errorf("handshake: encoding username: %w", err)
	}
	appNameUTF16, err := encoding.EncodeUTF16LE(l.AppName)
	if err != nil {
		return nil, fmt.Errorf("handshake: encoding app name: %w", err)
	}
	serverNameUTF16, err := encoding.EncodeUTF16LE(l.ServerName)
	if err != nil {
		return nil, fmt.Errorf("handshake: encoding server name: %w", err)
	}
	languageUTF16, err := encoding.EncodeUTF16LE(l.Language)
	if err != nil {
		return nil, fmt.Errorf("handshake: encoding language: %w", err)
	}
	databaseUTF16, err := encoding.EncodeUTF16LE(l.Database)
	if err != nil {
		return nil, fmt.Errorf("handshake: encoding database: %w", err)
	}
	attachDBUTF16, err := encoding.EncodeUTF16LE(l.AttachDB)
	if err != nil {
		return nil, fmt.Errorf("handshake: encoding attach db filename: %w", err)
	}

	optionFlags3 := l.OptionFlags3
	var featureExt []byte
	if l.FedAuthToken != "" {
		optionFlags3 |= optionFlags3Extension
		featureExt = encodeFedAuthFeatureExt(l.FedAuthToken)
	}

	passwordBytes := []byte(nil)
	if l.Password != "" {
		raw, err := encoding.EncodeUTF16LE(l.Password)
		if err != nil {
			return nil, fmt.Errorf("handshake: encoding password: %w", err)
		}
		passwordBytes = obfuscatePassword(raw)
	}

	const fixedLen = 94 // LOGIN7 fixed portion length through ClientID+SSPI offsets, MS-TDS 2.2.6.3

	type strField struct {
		data []byte
	}
	fields := []strField{
		{hostnameUTF16}, {usernameUTF16}, {passwordBytes}, {appNameUTF16},
		{serverNameUTF16}, nil, {languageUTF16}, {databaseUTF16},
	}

	offset := uint16(fixedLen)
	offsets := make([]uint16, len(fields))
	lengths := make([]uint16, len(fields))
	for i, f := range fields {
		offsets[i] = offset
		n := uint16(len(f.data))
		if i == 2 && passwordBytes != nil {
			n = uint16(len(passwordBytes))
		}
		lengths[i] = n / 2
		offset += n
	}
	sspiOffset := offset
	offset += uint16(len(l.SSPI))
	attachOffset := offset
	offset += uint16(len(attachDBUTF16))
	featureExtOffset := offset
	_ = featureExtOffset

	buf := make([]byte, 0, int(offset)+len(featureExt)+4)
	var hdr [fixedLen]byte
	binary.LittleEndian.PutUint32(hdr[4:8], l.TDSVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], l.PacketSize)
	binary.LittleEndian.PutUint32(hdr[12:16], l.ClientProgVer)
	binary.LittleEndian.PutUint32(hdr[16:20], l.ClientPID)
	binary.LittleEndian.PutUint32(hdr[20:24], l.ConnectionID)
	hdr[24] = l.OptionFlags1
	hdr[25] = l.OptionFlags2
	hdr[26] = l.TypeFlags
	hdr[27] = optionFlags3
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(l.ClientTimeZone))
	binary.LittleEndian.PutUint32(hdr[32:36], l.ClientLCID)

	pos := 36
	putOffsetLen := func(off, length uint16) {
		binary.LittleEndian.PutUint16(hdr[pos:pos+2], off)
		binary.LittleEndian.PutUint16(hdr[pos+2:pos+4], length)
		pos += 4
	}
	putOffsetLen(offsets[0], lengths[0]) // hostname
	putOffsetLen(offsets[1], lengths[1]) // username
	putOffsetLen(offsets[2], lengths[2]) // password
	putOffsetLen(offsets[3], lengths[3]) // app name
	putOffsetLen(offsets[4], lengths[4]) // server name
	putOffsetLen(featureExtOffset, 0)    // extension offset (fExtension path), length reserved
	putOffsetLen(offsets[6], lengths[6]) // language
	putOffsetLen(offsets[7], lengths[7]) // database
	copy(hdr[pos:pos+6], l.ClientID[:])
	pos += 6
	putOffsetLen(sspiOffset, uint16(len(l.SSPI)))
	putOffsetLen(attachOffset, uint16(len(attachDBUTF16))/2)

	buf = append(buf, hdr[:]...)
	buf = append(buf, hostnameUTF16...)
	buf = append(buf, usernameUTF16...)
	buf = append(buf, passwordBytes...)
	buf = append(buf, appNameUTF16...)
	buf = append(buf, serverNameUTF16...)
	buf = append(buf, languageUTF16...)
	buf = append(buf, databaseUTF16...)
	buf = append(buf, l.SSPI...)
	buf = append(buf, attachDBUTF16...)
	buf = append(buf, featureExt...)

	total := make([]byte, 4+len(buf))
	binary.LittleEndian.PutUint32(total[0:4], uint32(len(total)))
	copy(total[4:], buf)
	return total, nil
}

// encodeFedAuthFeatureExt builds the FEDAUTH feature-extension record
// (feature id, 4-byte data length, then a 4-byte options word followed by
// the UTF-16LE security token) plus the [FeatureTerminator] byte.
func encodeFedAuthFeatureExt(token string) []byte {
	tokenUTF16, _ := encoding.EncodeUTF16LE(token)
	options := uint32(fedAuthLibrarySecurityToken)
	data := make([]byte, 4+len(tokenUTF16))
	binary.LittleEndian.PutUint32(data[0:4], options)
	copy(data[4:], tokenUTF16)

	rec := make([]byte, 1+4+len(data))
	rec[0] = FeatureFedAuth
	binary.LittleEndian.PutUint32(rec[1:5], uint32(len(data)))
	copy(rec[5:], data)
	return append(rec, FeatureTerminator)
}
