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
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OutcomeKind is the terminal result of a sync cycle.
type OutcomeKind uint8

const (
	OutcomeNoChangeNeeded OutcomeKind = iota
	OutcomeReadFailed
	OutcomeGenerationFailed
	OutcomeFetchFailed
	OutcomeWriteSucceeded
	OutcomeWriteRejected
	OutcomeWriteFailed
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeNoChangeNeeded:   "no_change_needed",
	OutcomeReadFailed:       "read_failed",
	OutcomeGenerationFailed: "generation_failed",
	OutcomeFetchFailed:      "fetch_failed",
	OutcomeWriteSucceeded:   "write_succeeded",
	OutcomeWriteRejected:    "write_rejected",
	OutcomeWriteFailed:      "write_failed",
}

func (k OutcomeKind) String() string {
	if name, ok := outcomeNames[k]; ok {
		return name
	}
	return "unknown"
}

// Failed reports whether the outcome is a failure of any step.
func (k OutcomeKind) Failed() bool {
	return k != OutcomeNoChangeNeeded && k != OutcomeWriteSucceeded
}

// MarshalText implements encoding.TextMarshaler.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *OutcomeKind) UnmarshalText(text []byte) error {
	for kind, name := range outcomeNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("kamon: unknown outcome %q", text)
}

// Outcome is published once per cycle that reached a terminal state. Cycles
// aborted on an unmet precondition publish nothing.
type Outcome struct {
	Cycle       string         `json:"cycle"`
	Kind        OutcomeKind    `json:"kind"`
	Owner       common.Address `json:"owner"`
	TokenID     uint64         `json:"tokenId"`
	Points      uint64         `json:"points"`
	MetadataURI string         `json:"metadataUri,omitempty"`
	PayloadHash common.Hash    `json:"payloadHash"`
	TxHash      common.Hash    `json:"txHash"`
	Reason      string         `json:"error,omitempty"`
	Time        time.Time      `json:"time"`

	// Err is the failure behind the outcome. It does not survive encoding;
	// Reason carries its text.
	Err error `json:"-"`
}
