// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: other_examples wang-xuemin/go-mssqldb token.go's constant
// block (token tag values, doneMore/doneError/doneCount bits, envType*
// codes). FEDAUTHINFO ids follow spec §4.3's numbering (SPN=1, STSURL=2)
// rather than the reference file's, which the spec explicitly overrides.

// Package token implements the streaming TDS token-stream decoder: the
// tagged variant over COLMETADATA/ROW/NBCROW/DONE*/ENVCHANGE/INFO/ERROR/
// LOGINACK/FEDAUTHINFO/ORDER/RETURNSTATUS/RETURNVALUE.
package token

// Tag identifies a TDS response token.
type Tag byte

const (
	TagReturnStatus Tag = 0x79
	TagColMetadata  Tag = 0x81
	TagOrder        Tag = 0xA9
	TagError        Tag = 0xAA
	TagInfo         Tag = 0xAB
	TagReturnValue  Tag = 0xAC
	TagLoginAck     Tag = 0xAD
	TagFeatureExtAck Tag = 0xAE
	TagRow          Tag = 0xD1
	TagNbcRow       Tag = 0xD2
	TagEnvChange    Tag = 0xE3
	TagSSPI         Tag = 0xED
	TagFedAuthInfo  Tag = 0xEE
	TagDone         Tag = 0xFD
	TagDoneProc     Tag = 0xFE
	TagDoneInProc   Tag = 0xFF
)

// DONE/DONEPROC/DONEINPROC status bits (MS-TDS 2.2.7.5).
const (
	DoneFinal    uint16 = 0x0000
	DoneMore     uint16 = 0x0001
	DoneError    uint16 = 0x0002
	DoneCount    uint16 = 0x0010
	DoneAttn     uint16 = 0x0020
	DoneSrvError uint16 = 0x0100
)

// ENVCHANGE type codes (MS-TDS 2.2.7.9). Only BEGIN_TRANS is acted on
// (its transaction descriptor); the rest are decoded and otherwise ignored.
const (
	EnvTypDatabase      byte = 1
	EnvTypLanguage      byte = 2
	EnvTypCharset       byte = 3
	EnvTypPacketSize    byte = 4
	EnvSortId           byte = 5
	EnvSortFlags        byte = 6
	EnvSqlCollation     byte = 7
	EnvTypBeginTran     byte = 8
	EnvTypCommitTran    byte = 9
	EnvTypRollbackTran  byte = 10
	EnvTypRouting       byte = 20
)

// FEDAUTHINFO option ids (spec §4.3).
const (
	FedAuthInfoSPN    uint32 = 1
	FedAuthInfoSTSURL uint32 = 2
)

// ColumnFlags bits in a COLMETADATA column's flag field.
const (
	ColFlagNullable      uint16 = 0x0001
	ColFlagCaseSensitive uint16 = 0x0002
	ColFlagUpdatable     uint16 = 0x000C
	ColFlagIdentity      uint16 = 0x0010
)

// ServerErrorSeverityThreshold is the minimum TDS ERROR token severity that
// the core treats as a failure rather than an informational message
// (spec §7).
const ServerErrorSeverityThreshold = 11

// Done describes a DONE/DONEPROC/DONEINPROC token.
type Done struct {
	Status   uint16
	CurCmd   uint16
	RowCount uint64
}

// IsFinal reports whether this is the terminal DONE of a batch: the last
// one without [DoneMore] set.
func (d Done) IsFinal() bool {
	return d.Status&DoneMore == 0
}

// HasCount reports whether RowCount is valid.
func (d Done) HasCount() bool {
	return d.Status&DoneCount != 0
}

// EnvChange describes an ENVCHANGE token.
type EnvChange struct {
	Type byte
	New  []byte
	Old  []byte
}

// ServerMessage describes an INFO or ERROR token.
type ServerMessage struct {
	Number   int32
	State    byte
	Severity byte
	Message  string
	Server   string
	Proc     string
	Line     int32
}

// IsFailure reports whether this ERROR token represents a failure rather
// than an informational message, per spec §7.
func (m ServerMessage) IsFailure() bool {
	return int(m.Severity) >= ServerErrorSeverityThreshold
}

// FedAuthInfoEntry is one entry of a FEDAUTHINFO token.
type FedAuthInfoEntry struct {
	InfoID uint32
	Data   string
}

// LoginAck describes a LOGINACK token.
type LoginAck struct {
	Interface     byte
	TDSVersion    uint32
	ProgName      string
	ServerVersion [4]byte
}
