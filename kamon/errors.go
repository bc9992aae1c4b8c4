// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package kamon

import (
	"errors"
	"fmt"
)

// Errors returned by the sync orchestrator and its collaborators.
var (
	ErrCycleInProgress = errors.New("kamon: sync cycle already in progress")
	ErrWriteInFlight   = errors.New("kamon: token update already in flight")
	ErrNoToken         = errors.New("kamon: owner holds no token")
	ErrClosed          = errors.New("kamon: orchestrator closed")

	ErrSignerDeclined  = errors.New("kamon: signer declined the transaction")
	ErrTxReverted      = errors.New("kamon: update transaction reverted")
	ErrPointsMismatch  = errors.New("kamon: generated document carries different points")
	ErrUnsupportedURI  = errors.New("kamon: unsupported metadata pointer")
	ErrEmptyPointsRead = errors.New("kamon: points source returned no totals")
)

// ErrorKind classifies a failure for outcome reporting.
type ErrorKind uint8

const (
	KindTransient    ErrorKind = iota // transport failure talking to a collaborator
	KindApplication                   // collaborator answered, but signalled failure
	KindUserDeclined                  // the signing party rejected the write
	KindPrecondition                  // nothing to do; never reported as an outcome
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindApplication:
		return "application"
	case KindUserDeclined:
		return "declined"
	case KindPrecondition:
		return "precondition"
	default:
		return "unknown"
	}
}

// SyncError is a collaborator failure tagged with the step that produced it.
type SyncError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func transientError(op string, err error) error {
	return &SyncError{Op: op, Kind: KindTransient, Err: err}
}

func applicationError(op string, err error) error {
	return &SyncError{Op: op, Kind: KindApplication, Err: err}
}

// KindOf reports how err should be treated. Errors that carry no explicit
// classification are considered transient.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrSignerDeclined):
		return KindUserDeclined
	case errors.Is(err, ErrNoToken), errors.Is(err, ErrWriteInFlight), errors.Is(err, ErrCycleInProgress):
		return KindPrecondition
	case errors.Is(err, ErrPointsMismatch), errors.Is(err, ErrUnsupportedURI):
		return KindApplication
	}
	return KindTransient
}
