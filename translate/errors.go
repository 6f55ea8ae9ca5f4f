package translate

import "errors"

// ErrUnknownOpcode is returned when decode meets a program-memory word
// outside the bounded opcode set this translator recognizes (spec.md
// §7's "unknown opcode" sentinel, surfaced to the embedder rather than
// silently falling back to an interpreter, since that fallback is
// explicitly out of scope here).
var ErrUnknownOpcode = errors.New("translate: unknown or unimplemented opcode")

// ErrBadEncoding reports a host emitter failure (an unbound branch
// label reaching Bytes()) — always a programmer error in this module,
// never a guest-data-dependent condition.
var ErrBadEncoding = errors.New("translate: host emitter produced an invalid encoding")
