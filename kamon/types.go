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

// Package kamon keeps a Kamon NFT's metadata in step with its owner's quest
// points. A point change regenerates the token's image and metadata document
// off-chain and records the new document pointer on-chain, once per change.
package kamon

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Trait types carried by kamon metadata documents.
const (
	TraitPoints = "Points"
	TraitDate   = "Date"
	TraitRole   = "Role" // may repeat
)

// TokenAttribute is a single entry of a metadata document's attribute list.
// Value is either a JSON number or a string.
type TokenAttribute struct {
	TraitType   string      `json:"trait_type"`
	Value       interface{} `json:"value"`
	DisplayType string      `json:"display_type,omitempty"`
}

// Uint64 interprets the attribute value as a non-negative integer.
func (a TokenAttribute) Uint64() (uint64, bool) {
	switch v := a.Value.(type) {
	case float64:
		if v < 0 || v != math.Trunc(v) || v >= math.MaxUint64 {
			return 0, false
		}
		return uint64(v), true
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		return n, err == nil
	case int:
		return uint64(v), v >= 0
	case int64:
		return uint64(v), v >= 0
	case uint64:
		return v, true
	}
	return 0, false
}

// String returns the attribute value rendered as text.
func (a TokenAttribute) String() string {
	switch v := a.Value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// KamonToken is the metadata document a kamon token's URI points at. The
// document lives in content-addressed storage; only its URI is on-chain.
type KamonToken struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Image       string           `json:"image"`
	Attributes  []TokenAttribute `json:"attributes"`
}

// Attribute returns the first attribute with the given trait type.
func (t *KamonToken) Attribute(traitType string) (TokenAttribute, bool) {
	for _, attr := range t.Attributes {
		if attr.TraitType == traitType {
			return attr, true
		}
	}
	return TokenAttribute{}, false
}

// Points returns the point total the document was generated for.
func (t *KamonToken) Points() (uint64, bool) {
	attr, ok := t.Attribute(TraitPoints)
	if !ok {
		return 0, false
	}
	return attr.Uint64()
}

// Date returns the document's Date attribute as unix seconds.
func (t *KamonToken) Date() int64 {
	attr, ok := t.Attribute(TraitDate)
	if !ok {
		return 0
	}
	n, ok := attr.Uint64()
	if !ok || n > math.MaxInt64 {
		return 0
	}
	return int64(n)
}

// Roles returns the distinct Role values of the document, sorted.
func (t *KamonToken) Roles() []string {
	seen := make(map[string]struct{})
	roles := []string{}
	for _, attr := range t.Attributes {
		if attr.TraitType != TraitRole {
			continue
		}
		role := attr.String()
		if _, dup := seen[role]; dup || role == "" {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// SyncRequestPayload is what the metadata generator receives. Roles and Date
// come from the current document; Points is the freshly read total.
type SyncRequestPayload struct {
	Owner  common.Address `json:"owner"`
	Roles  []string       `json:"roles"`
	Points uint64         `json:"points"`
	Date   int64          `json:"date"`
}

// NewSyncRequestPayload derives the generation request for owner from its
// current document and the point total read at comparison time.
func NewSyncRequestPayload(owner common.Address, current *KamonToken, points uint64) SyncRequestPayload {
	return SyncRequestPayload{
		Owner:  owner,
		Roles:  current.Roles(),
		Points: points,
		Date:   current.Date(),
	}
}

// Hash is the keccak256 of the payload's JSON encoding. Equal payloads hash
// equally since roles are kept sorted.
func (p SyncRequestPayload) Hash() common.Hash {
	enc, _ := json.Marshal(p)
	return common.BytesToHash(crypto.Keccak256(enc))
}
