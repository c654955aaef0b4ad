// Package bytecode defines the instruction stream shared by the slotvm
// assembler and executor. Neither side imports the other; this package
// is the whole contract between them.
//
// The stream format is designed for:
//   - One linear sequence: opcodes, slot ids, literal digits and string
//     keys all live in the same word sequence
//   - Self-delimiting records: `opcode operand* END`, with JUMP as the
//     single record that has no terminator
//   - Easy inspection: every word flattens to a small integer, and opcode
//     values never collide with slot ids
//
// # Words
//
// Each stream element is a tagged Word. The tag says how the integer is
// to be read:
//
//   - WordOp: an opcode, or the END terminator
//   - WordDigit: one decimal digit (0-9) of a number literal
//   - WordSlot: a slot id operand
//   - WordText: a key into the stream's string table
//   - WordPending: a jump target whose block has not been declared yet;
//     only present while the assembler is still running
//
// Stream.Ints flattens the tagged form into the compact integer encoding,
// and FromInts reverses it using the record shapes in the opcode table.
//
// # Slot ids
//
// Slot ids are always above MaxReserved. Everything at or below it is an
// opcode, a digit or the terminator, so a flattened stream can be read
// back without ambiguity.
//
// # Images
//
// A finished stream can be stored as an image: the "SVMC" magic, a format
// version, then the canonical CBOR encoding of the words, the string table
// and the source line map.
package bytecode
