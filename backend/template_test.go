package backend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataBytes(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("\t; empty bytecode\n", DataBytes(nil))
	assert.Equal("\tdb 0x00, 0xff\n", DataBytes([]byte{0, 0xff}))

	blob := make([]byte, 17)
	for n := range blob {
		blob[n] = byte(n)
	}
	text := DataBytes(blob)
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	assert.Len(lines, 2)
	assert.Equal("\tdb 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f", lines[0])
	assert.Equal("\tdb 0x10", lines[1])
}

func TestSplice(t *testing.T) {
	assert := assert.New(t)

	template := strings.Join([]string{
		"[bits 16]",
		"bytecode:",
		"\t" + TEMPLATE_BEGIN,
		"\tdb 0 ; placeholder",
		"\t" + TEMPLATE_END,
		"bytecode_end:",
		"",
	}, "\n")

	text, err := Splice(template, []byte{1, 2, 3})
	assert.NoError(err)
	assert.Equal("[bits 16]\nbytecode:\n\tdb 0x01, 0x02, 0x03\nbytecode_end:\n", text)
	assert.NotContains(text, "@@")

	// Markers sharing a line with code keep that code.
	text, err = Splice("x: "+TEMPLATE_BEGIN+TEMPLATE_END, []byte{7})
	assert.NoError(err)
	assert.Equal("x: \tdb 0x07\n", text)
}

func TestSpliceErrors(t *testing.T) {
	table := [...]struct {
		template string
		begin    int
		end      int
	}{
		{"nothing here\n", 0, 0},
		{TEMPLATE_BEGIN + "\n", 1, 0},
		{TEMPLATE_END + "\n", 0, 1},
		{TEMPLATE_BEGIN + "\n" + TEMPLATE_END + "\n" + TEMPLATE_BEGIN + "\n" + TEMPLATE_END + "\n", 2, 2},
		{TEMPLATE_END + "\n" + TEMPLATE_BEGIN + "\n", 1, 1},
	}

	for _, entry := range table {
		text, err := Splice(entry.template, []byte{1})
		assert.Empty(t, text)
		var et *ErrTemplate
		if assert.ErrorAs(t, err, &et, entry.template) {
			assert.Equal(t, entry.begin, et.Begin)
			assert.Equal(t, entry.end, et.End)
		}
	}
}
