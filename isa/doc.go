// Package isa defines the assembled module format for the ucboot instruction
// set, and the assembler that produces it.
//
// A Module holds instructions, data items, and a label table. Addresses in
// [0, len(Instructions)) name instructions by index; addresses in
// [len(Instructions), len(Instructions)+len(Data)) name data items, offset by
// the instruction count. Every label and every address-carrying operand is
// tagged with a Binding, so later stages never infer what an address means
// from its numeric range.
//
// The assembler reads a line oriented source language with labels, equates,
// macros, character literals, and starlark $(...) expressions.
package isa
