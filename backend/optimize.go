package backend

import (
	"strconv"
	"strings"
)

// asmLine is one line of native assembly text, split for peephole matching.
type asmLine struct {
	text     string
	label    string   // Set if the line defines a label.
	mnemonic string   // Lower case, empty for non-instructions.
	args     []string // Trimmed operands.
}

func parseAsmLine(text string) (line asmLine) {
	line.text = text

	code := text
	if index := strings.IndexByte(code, ';'); index >= 0 {
		code = code[:index]
	}
	trimmed := strings.TrimSpace(code)
	if len(trimmed) == 0 || strings.HasPrefix(trimmed, "[") {
		return
	}

	// Labels start in column zero.
	if text[0] != ' ' && text[0] != '\t' {
		if name, ok := strings.CutSuffix(trimmed, ":"); ok {
			line.label = name
		}
		return
	}

	mnemonic, rest, _ := strings.Cut(trimmed, " ")
	line.mnemonic = strings.ToLower(mnemonic)
	rest = strings.TrimSpace(rest)
	if len(rest) != 0 {
		for _, arg := range strings.Split(rest, ",") {
			line.args = append(line.args, strings.TrimSpace(arg))
		}
	}

	return
}

// barrier lines are never removed as dead code.
func (line asmLine) barrier() bool {
	switch line.mnemonic {
	case "db", "dw", "dd", "dq", "times", "resb", "resw", "align":
		return true
	}
	return false
}

func (line asmLine) is(mnemonic string, args int) bool {
	return line.mnemonic == mnemonic && len(line.args) == args
}

func (line asmLine) terminal() bool {
	return line.is("ret", 0) || line.is("jmp", 1)
}

func parseLiteral(text string) (value int64, ok bool) {
	value, err := strconv.ParseInt(text, 0, 64)
	return value, err == nil
}

// peephole makes one pass over the lines, returning true if anything changed.
func peephole(lines []asmLine) (out []asmLine, changed bool) {
	out = make([]asmLine, 0, len(lines))

	for n := 0; n < len(lines); n++ {
		line := lines[n]
		var next asmLine
		if n+1 < len(lines) {
			next = lines[n+1]
		}

		switch {
		case line.is("mov", 2) && line.args[0] == line.args[1]:
			changed = true
			continue
		case (line.is("add", 2) || line.is("sub", 2)) && line.args[1] == "0":
			changed = true
			continue
		case line.is("push", 1) && next.is("pop", 1) && line.args[0] == next.args[0]:
			changed = true
			n++
			continue
		case line.is("jmp", 1) && len(next.label) != 0 && next.label == line.args[0]:
			changed = true
			continue
		case line.is("mov", 2) && (next.is("add", 2) || next.is("sub", 2)) && line.args[0] == next.args[0]:
			a, aok := parseLiteral(line.args[1])
			b, bok := parseLiteral(next.args[1])
			if !aok || !bok {
				break
			}
			if next.mnemonic == "sub" {
				b = -b
			}
			sum := a + b
			if sum < -0x8000 || sum > 0xffff {
				break
			}
			folded := "\tmov " + line.args[0] + ", " + strconv.FormatInt(sum, 10)
			out = append(out, parseAsmLine(folded))
			changed = true
			n++
			continue
		}

		out = append(out, line)

		if line.terminal() {
			for n+1 < len(lines) {
				next := lines[n+1]
				if len(next.label) != 0 || next.barrier() || len(next.mnemonic) == 0 {
					break
				}
				changed = true
				n++
			}
		}
	}

	return
}

// Optimize applies peephole rewrites to native assembly text until none apply.
func Optimize(text string) string {
	trailing := strings.HasSuffix(text, "\n")
	raw := strings.Split(strings.TrimSuffix(text, "\n"), "\n")

	lines := make([]asmLine, len(raw))
	for n, line := range raw {
		lines[n] = parseAsmLine(line)
	}

	for changed := true; changed; {
		lines, changed = peephole(lines)
	}

	var out strings.Builder
	for n, line := range lines {
		if n > 0 {
			out.WriteString("\n")
		}
		out.WriteString(line.text)
	}
	if trailing {
		out.WriteString("\n")
	}

	return out.String()
}
