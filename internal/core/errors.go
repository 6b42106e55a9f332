// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors shared across the stack, its collaborators and the daemon.
var (
	// Buffer and packet errors
	ErrBufferUnderflow = errors.New("ministack: buffer underflow")
	ErrPayloadTooLarge = errors.New("ministack: payload too large")

	// Dispatch errors
	ErrProtocolNotFound = errors.New("ministack: protocol not found")

	// Address errors
	ErrInvalidAddress = errors.New("ministack: invalid address")

	// Driver errors
	ErrUnknownDriver = errors.New("ministack: unknown driver")
	ErrDriverClosed  = errors.New("ministack: driver closed")

	// Stack lifecycle errors
	ErrStackStopped = errors.New("ministack: stack stopped")

	// Configuration errors
	ErrConfigInvalid = errors.New("ministack: invalid configuration")
)
