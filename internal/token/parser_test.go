package token

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putUint16LE(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
}

func putUint32LE(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 24))
}

func putUint64LE(buf *bytes.Buffer, v uint64) {
	for i := 0; i < 8; i++ {
		buf.WriteByte(byte(v >> (8 * i)))
	}
}

// writeBVarChar writes a 1-byte UTF-16-code-unit-count-prefixed ASCII
// string, the BVARCHAR encoding COLMETADATA column names and INFO/ERROR
// server/proc names use.
func writeBVarChar(buf *bytes.Buffer, s string) {
	buf.WriteByte(byte(len(s)))
	for _, r := range s {
		buf.WriteByte(byte(r))
		buf.WriteByte(0)
	}
}

func writeUSVarChar(buf *bytes.Buffer, s string) {
	putUint16LE(buf, uint16(len(s)))
	for _, r := range s {
		buf.WriteByte(byte(r))
		buf.WriteByte(0)
	}
}

// oneInt4ColMetadata builds a single-column COLMETADATA token (tag
// included) for an INT4 NOT NULL column named name.
func oneInt4ColMetadata(name string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(TagColMetadata))
	putUint16LE(&buf, 1)
	putUint32LE(&buf, 0)  // user type
	putUint16LE(&buf, 0)  // flags: not nullable
	buf.WriteByte(byte(TypeInt4))
	writeBVarChar(&buf, name)
	return buf.Bytes()
}

func TestParserColMetadataAndRow(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(oneInt4ColMetadata("id"))
	buf.WriteByte(byte(TagRow))
	putUint32LE(&buf, 42)

	p := NewParser(&buf)

	tok, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, TagColMetadata, tok.Tag)
	require.Len(t, tok.ColMetadata, 1)
	assert.Equal(t, "id", tok.ColMetadata[0].Name)
	assert.Equal(t, TypeInt4, tok.ColMetadata[0].Type.Type)

	tok, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, TagRow, tok.Tag)
	require.Len(t, tok.Row, 1)
	assert.False(t, tok.Row[0].Null)
	assert.Equal(t, []byte{42, 0, 0, 0}, tok.Row[0].Data)
}

func TestParserNbcRowNullBitmap(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(TagColMetadata))
	putUint16LE(&buf, 2)
	for _, name := range []string{"a", "b"} {
		putUint32LE(&buf, 0)
		putUint16LE(&buf, ColFlagNullable)
		buf.WriteByte(byte(TypeInt4))
		writeBVarChar(&buf, name)
	}
	buf.WriteByte(byte(TagNbcRow))
	buf.WriteByte(0x02) // bit 1 set: second column is NULL
	putUint32LE(&buf, 7) // first column's value

	p := NewParser(&buf)
	_, err := p.Next()
	require.NoError(t, err)

	tok, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, TagNbcRow, tok.Tag)
	require.Len(t, tok.Row, 2)
	assert.False(t, tok.Row[0].Null)
	assert.Equal(t, []byte{7, 0, 0, 0}, tok.Row[0].Data)
	assert.True(t, tok.Row[1].Null)
}

func TestParserDone(t *testing.T) {
	t.Run("final done with count", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteByte(byte(TagDone))
		putUint16LE(&buf, DoneFinal|DoneCount)
		putUint16LE(&buf, 0)
		putUint64LE(&buf, 5)

		p := NewParser(&buf)
		tok, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, TagDone, tok.Tag)
		assert.True(t, tok.Done.IsFinal())
		assert.True(t, tok.Done.HasCount())
		assert.Equal(t, uint64(5), tok.Done.RowCount)
	})

	t.Run("non-final done in a multi-statement batch", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteByte(byte(TagDone))
		putUint16LE(&buf, DoneMore)
		putUint16LE(&buf, 0)
		putUint64LE(&buf, 0)

		p := NewParser(&buf)
		tok, err := p.Next()
		require.NoError(t, err)
		assert.False(t, tok.Done.IsFinal())
	})

	t.Run("doneproc and doneinproc share the same layout", func(t *testing.T) {
		for _, tag := range []Tag{TagDoneProc, TagDoneInProc} {
			var buf bytes.Buffer
			buf.WriteByte(byte(tag))
			putUint16LE(&buf, DoneFinal)
			putUint16LE(&buf, 0)
			putUint64LE(&buf, 0)

			p := NewParser(&buf)
			tok, err := p.Next()
			require.NoError(t, err)
			assert.Equal(t, tag, tok.Tag)
			assert.True(t, tok.Done.IsFinal())
		}
	})
}

func TestParserServerMessage(t *testing.T) {
	build := func(tag Tag, severity byte, message string) []byte {
		var inner bytes.Buffer
		putUint32LE(&inner, 50000) // number
		inner.WriteByte(1)          // state
		inner.WriteByte(severity)
		writeUSVarChar(&inner, message)
		writeBVarChar(&inner, "srv")
		writeBVarChar(&inner, "proc")
		putUint32LE(&inner, 1) // line

		var buf bytes.Buffer
		buf.WriteByte(byte(tag))
		putUint16LE(&buf, uint16(inner.Len()))
		buf.Write(inner.Bytes())
		return buf.Bytes()
	}

	t.Run("info token", func(t *testing.T) {
		p := NewParser(bytes.NewReader(build(TagInfo, 5, "just a warning")))
		tok, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, TagInfo, tok.Tag)
		assert.Equal(t, "just a warning", tok.Info.Message)
		assert.False(t, tok.Info.IsFailure())
	})

	t.Run("error token below failure threshold", func(t *testing.T) {
		p := NewParser(bytes.NewReader(build(TagError, 10, "low severity")))
		tok, err := p.Next()
		require.NoError(t, err)
		assert.False(t, tok.Error.IsFailure())
	})

	t.Run("error token at failure threshold", func(t *testing.T) {
		p := NewParser(bytes.NewReader(build(TagError, 11, "serious")))
		tok, err := p.Next()
		require.NoError(t, err)
		assert.True(t, tok.Error.IsFailure())
		assert.Equal(t, "serious", tok.Error.Message)
	})
}

func TestParserUnrecognizedTag(t *testing.T) {
	p := NewParser(bytes.NewReader([]byte{0x00}))
	_, err := p.Next()
	assert.Error(t, err)
}

func TestParserEOF(t *testing.T) {
	p := NewParser(bytes.NewReader(nil))
	_, err := p.Next()
	assert.Error(t, err)
}
