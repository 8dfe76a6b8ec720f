package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the coordination core. Conditions carrying
// user-visible context get their own types; the rest are sentinels
// matched with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrPeerNotFound  = errors.New("peer not found")
	ErrConflict      = errors.New("conflict")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrCannotConsume = errors.New("cannot consume")
)

// BlockedError means the share slot is already claimed by someone else.
type BlockedError struct {
	CurrentHost string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("already sharing: %s", e.CurrentHost)
}

func (e *BlockedError) Is(target error) bool { return target == ErrConflict }

// BusyError means the callee is already party to a live call.
type BusyError struct {
	Name string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s is already in a call", e.Name)
}

func (e *BusyError) Is(target error) bool { return target == ErrConflict }

// EngineError wraps a media engine failure. It is produced at the
// boundary, before any coordination state is touched.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("media engine: %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }
