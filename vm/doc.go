// Package vm implements the execution engine for virtualized routines.
//
// This package contains:
//   - the tagged Value model with CLI stack projection and conversions
//   - the evaluation stack, argument table and managed references
//   - routine headers and the protected-region (try) table
//   - the Bridge interface to the host runtime and its resolution cache
//   - the opcode table, builder and disassembler
//   - the dispatch table and the Interpreter loop with exception unwinding
//
// A VM is created over a code section and a Bridge; Invoke runs the routine
// whose header starts at a given entry offset.
package vm
