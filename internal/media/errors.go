// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import "errors"

var (
	// ErrWouldBlock reports that an operation cannot make progress right now.
	ErrWouldBlock = errors.New("media: would block")
	// ErrEndOfStream reports that a source or decoder is drained.
	ErrEndOfStream = errors.New("media: end of stream")
	// ErrNotSupported reports an optional operation the collaborator lacks.
	ErrNotSupported = errors.New("media: not supported")
	// ErrTransient classifies I/O stalls that are retried by the reader.
	ErrTransient = errors.New("media: transient i/o error")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrWouldBlock)
}
