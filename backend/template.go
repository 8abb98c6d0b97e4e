package backend

import (
	"fmt"
	"strings"
)

// Bootloader template placeholder markers.
const (
	TEMPLATE_BEGIN = "; @@BYTECODE_BEGIN@@"
	TEMPLATE_END   = "; @@BYTECODE_END@@"
)

// BYTES_PER_LINE is the number of bytes in each generated db directive.
const BYTES_PER_LINE = 16

// DataBytes renders a blob as db directives, in hexadecimal.
func DataBytes(blob []byte) string {
	if len(blob) == 0 {
		return "\t; empty bytecode\n"
	}

	var out strings.Builder
	for start := 0; start < len(blob); start += BYTES_PER_LINE {
		end := min(start+BYTES_PER_LINE, len(blob))
		words := make([]string, 0, end-start)
		for _, b := range blob[start:end] {
			words = append(words, fmt.Sprintf("0x%02x", b))
		}
		out.WriteString("\tdb ")
		out.WriteString(strings.Join(words, ", "))
		out.WriteString("\n")
	}

	return out.String()
}

// Splice replaces the single marker delimited region of a template,
// markers included, with the blob as db directives.
func Splice(template string, blob []byte) (text string, err error) {
	begins := strings.Count(template, TEMPLATE_BEGIN)
	ends := strings.Count(template, TEMPLATE_END)
	if begins != 1 || ends != 1 {
		err = &ErrTemplate{Begin: begins, End: ends}
		return
	}

	start := strings.Index(template, TEMPLATE_BEGIN)
	stop := strings.Index(template, TEMPLATE_END)
	if stop < start {
		err = &ErrTemplate{Begin: begins, End: ends}
		return
	}
	stop += len(TEMPLATE_END)

	// Swallow the end marker's line break, DataBytes supplies its own.
	if strings.HasPrefix(template[stop:], "\r\n") {
		stop += 2
	} else if strings.HasPrefix(template[stop:], "\n") {
		stop += 1
	}

	// Keep what precedes the begin marker on its line only if it is not blank.
	lineStart := strings.LastIndexByte(template[:start], '\n') + 1
	if strings.TrimSpace(template[lineStart:start]) == "" {
		start = lineStart
	}

	text = template[:start] + DataBytes(blob) + template[stop:]
	return
}
