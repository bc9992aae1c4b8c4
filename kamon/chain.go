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

	"github.com/ethereum/go-ethereum/common"
)

// TokenReader resolves the token an owner holds and its metadata pointer.
type TokenReader interface {
	// TokenOf returns the owner's token id and current metadata URI. A zero
	// id means the owner holds no token.
	TokenOf(ctx context.Context, owner common.Address) (tokenID uint64, uri string, err error)
}

// PointsSource is the authoritative point ledger. Implementations must not
// cache across calls.
type PointsSource interface {
	PointsOf(ctx context.Context, owner common.Address) (uint64, error)
}

// MetadataGenerator asks the generation service to render and pin a new
// document. Each call may produce a distinct artifact, so callers submit at
// most once per change.
type MetadataGenerator interface {
	Generate(ctx context.Context, payload SyncRequestPayload) (uri string, err error)
}

// MetadataFetcher resolves a metadata pointer to its document.
type MetadataFetcher interface {
	Fetch(ctx context.Context, uri string) (*KamonToken, error)
}

// TokenWriter records a new metadata pointer for a token on-chain. A nil
// error means the update succeeded; an error matching ErrSignerDeclined means
// the signing party rejected it; anything else is a failed update.
type TokenWriter interface {
	UpdateToken(ctx context.Context, tokenID uint64, uri string) (txHash common.Hash, err error)
}
