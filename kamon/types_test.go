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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenAttributeUint64(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  uint64
		ok    bool
	}{
		{name: "float", value: float64(120), want: 120, ok: true},
		{name: "fractional", value: 1.5, ok: false},
		{name: "negative", value: float64(-3), ok: false},
		{name: "huge", value: 1e20, ok: false},
		{name: "json number", value: json.Number("42"), want: 42, ok: true},
		{name: "numeric string", value: "17", want: 17, ok: true},
		{name: "text", value: "many", ok: false},
		{name: "int", value: 5, want: 5, ok: true},
		{name: "nil", value: nil, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TokenAttribute{Value: tt.value}.Uint64()
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestKamonTokenDecode(t *testing.T) {
	raw := `{
		"name": "Kamon",
		"description": "HENKAKU community kamon",
		"image": "ipfs://QmImage",
		"attributes": [
			{"trait_type": "Role", "value": "member"},
			{"trait_type": "Points", "value": 300},
			{"trait_type": "Role", "value": "builder"},
			{"trait_type": "Role", "value": "member"},
			{"display_type": "date", "trait_type": "Date", "value": 1656633600}
		]
	}`
	var token KamonToken
	require.NoError(t, json.Unmarshal([]byte(raw), &token))

	points, ok := token.Points()
	assert.True(t, ok)
	assert.Equal(t, uint64(300), points)
	assert.Equal(t, int64(1656633600), token.Date())
	assert.Equal(t, []string{"builder", "member"}, token.Roles())

	date, ok := token.Attribute(TraitDate)
	require.True(t, ok)
	assert.Equal(t, "date", date.DisplayType)
}

func TestKamonTokenMissingAttributes(t *testing.T) {
	token := &KamonToken{Name: "Kamon"}

	_, ok := token.Points()
	assert.False(t, ok)
	assert.Zero(t, token.Date())
	assert.NotNil(t, token.Roles())
	assert.Empty(t, token.Roles())
}

func TestSyncRequestPayload(t *testing.T) {
	current := kamonDoc(10, 1656633600, "member", "admin")
	payload := NewSyncRequestPayload(testOwner, current, 25)

	assert.Equal(t, testOwner, payload.Owner)
	assert.Equal(t, []string{"admin", "member"}, payload.Roles)
	assert.Equal(t, uint64(25), payload.Points)
	assert.Equal(t, int64(1656633600), payload.Date)

	enc, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"owner": "0x00000000000000000000000000000000000000a1",
		"roles": ["admin", "member"],
		"points": 25,
		"date": 1656633600
	}`, string(enc))

	// Role order on the document does not change the hash
	reordered := NewSyncRequestPayload(testOwner, kamonDoc(10, 1656633600, "admin", "member"), 25)
	assert.Equal(t, payload.Hash(), reordered.Hash())
	assert.NotEqual(t, payload.Hash(), NewSyncRequestPayload(testOwner, current, 26).Hash())
}

func TestOutcomeKindText(t *testing.T) {
	for kind := OutcomeNoChangeNeeded; kind <= OutcomeWriteFailed; kind++ {
		text, err := kind.MarshalText()
		require.NoError(t, err)

		var decoded OutcomeKind
		require.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, kind, decoded)
	}
	var kind OutcomeKind
	assert.Error(t, kind.UnmarshalText([]byte("exploded")))

	assert.False(t, OutcomeNoChangeNeeded.Failed())
	assert.False(t, OutcomeWriteSucceeded.Failed())
	assert.True(t, OutcomeWriteRejected.Failed())
	assert.True(t, OutcomeReadFailed.Failed())
}
