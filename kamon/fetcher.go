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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultIPFSGateway is the public gateway the kamon documents are pinned behind.
const DefaultIPFSGateway = "https://gateway.pinata.cloud/ipfs/"

// HTTPFetcher resolves metadata pointers over HTTP. ipfs:// pointers are
// rewritten onto an IPFS gateway; http(s) pointers are fetched as is.
type HTTPFetcher struct {
	gateway string
	client  *http.Client
}

var _ MetadataFetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher. An empty gateway selects DefaultIPFSGateway.
func NewHTTPFetcher(gateway string, timeout time.Duration) *HTTPFetcher {
	if gateway == "" {
		gateway = DefaultIPFSGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return &HTTPFetcher{
		gateway: gateway,
		client:  &http.Client{Timeout: timeout},
	}
}

// Resolve maps a metadata pointer to the URL it is fetched from.
func (f *HTTPFetcher) Resolve(uri string) (string, error) {
	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		path := strings.TrimPrefix(uri, "ipfs://")
		path = strings.TrimPrefix(path, "ipfs/")
		if path == "" {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
		}
		return f.gateway + path, nil
	case strings.HasPrefix(uri, "https://"), strings.HasPrefix(uri, "http://"):
		return uri, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
}

// Fetch implements MetadataFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) (*KamonToken, error) {
	url, err := f.Resolve(uri)
	if err != nil {
		return nil, applicationError("fetch", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, transientError("fetch", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, transientError("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Freshly pinned documents can take a while to reach the gateway.
		return nil, transientError("fetch", fmt.Errorf("%s: status %d", url, resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, transientError("fetch", err)
	}
	return decodeKamonToken(data)
}

// decodeKamonToken parses a metadata document. A document whose image starts
// with "Error" is a failure report from the pinning service.
func decodeKamonToken(data []byte) (*KamonToken, error) {
	var token KamonToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, applicationError("fetch", fmt.Errorf("malformed metadata: %v", err))
	}
	if strings.HasPrefix(token.Image, errorPrefix) {
		return nil, applicationError("fetch", errors.New(token.Image))
	}
	return &token, nil
}
