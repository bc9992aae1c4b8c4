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
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_Resolve(t *testing.T) {
	f := NewHTTPFetcher("https://ipfs.example.org/ipfs", time.Second)

	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{uri: "ipfs://QmAbc", want: "https://ipfs.example.org/ipfs/QmAbc"},
		{uri: "ipfs://ipfs/QmAbc/meta.json", want: "https://ipfs.example.org/ipfs/QmAbc/meta.json"},
		{uri: "https://example.org/kamon/1.json", want: "https://example.org/kamon/1.json"},
		{uri: "http://localhost:8080/1", want: "http://localhost:8080/1"},
		{uri: "ipfs://", wantErr: true},
		{uri: "ar://abc", wantErr: true},
		{uri: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := f.Resolve(tt.uri)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedURI)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPFetcher_DefaultGateway(t *testing.T) {
	f := NewHTTPFetcher("", time.Second)
	got, err := f.Resolve("ipfs://QmAbc")
	require.NoError(t, err)
	assert.Equal(t, DefaultIPFSGateway+"QmAbc", got)
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ipfs/QmGood", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"name": "Kamon #7",
			"image": "ipfs://QmImage",
			"attributes": [
				{"trait_type": "Points", "value": 120},
				{"display_type": "date", "trait_type": "Date", "value": 1656633600},
				{"trait_type": "Role", "value": "member"}
			]
		}`))
	})
	mux.HandleFunc("/ipfs/QmFailed", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name": "Kamon", "image": "Error: pin failed", "attributes": []}`))
	})
	mux.HandleFunc("/ipfs/QmBroken", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/ipfs/", time.Second)

	token, err := f.Fetch(context.Background(), "ipfs://QmGood")
	require.NoError(t, err)
	assert.Equal(t, "Kamon #7", token.Name)
	points, ok := token.Points()
	assert.True(t, ok)
	assert.Equal(t, uint64(120), points)
	assert.Equal(t, int64(1656633600), token.Date())
	assert.Equal(t, []string{"member"}, token.Roles())

	_, err = f.Fetch(context.Background(), "ipfs://QmFailed")
	require.Error(t, err)
	assert.Equal(t, KindApplication, KindOf(err))
	assert.Contains(t, err.Error(), "pin failed")

	_, err = f.Fetch(context.Background(), "ipfs://QmBroken")
	require.Error(t, err)
	assert.Equal(t, KindApplication, KindOf(err))

	_, err = f.Fetch(context.Background(), "ipfs://QmMissing")
	require.Error(t, err)
	assert.Equal(t, KindTransient, KindOf(err))

	_, err = f.Fetch(context.Background(), "ar://nope")
	assert.ErrorIs(t, err, ErrUnsupportedURI)
	assert.Equal(t, KindApplication, KindOf(err))
}
