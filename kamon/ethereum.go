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
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	kamoncontract "github.com/henkaku/kamonsync/contracts/kamon"
)

// userRejectedCode is the EIP-1193 error code for a request the user declined.
const userRejectedCode = 4001

// declinedMessages are fragments signers use when the operator refuses to sign.
// Clef answers "Request denied"; injected wallets relay "User denied ..." or
// "User rejected ...".
var declinedMessages = []string{"request denied", "user denied", "user rejected"}

// EthereumBackend reads and updates kamon tokens through the KamonNFT and
// QuestPoints contracts. It implements TokenReader, PointsSource and
// TokenWriter.
type EthereumBackend struct {
	nft    *kamoncontract.KamonNFT
	points *kamoncontract.QuestPoints
	mined  bind.DeployBackend // nil skips waiting for receipts
	opts   *bind.TransactOpts
}

var (
	_ TokenReader  = (*EthereumBackend)(nil)
	_ PointsSource = (*EthereumBackend)(nil)
	_ TokenWriter  = (*EthereumBackend)(nil)
)

// NewEthereumBackend creates a chain backend. If mined is non-nil, UpdateToken
// waits for the transaction receipt and reports reverted updates as failures.
func NewEthereumBackend(nft *kamoncontract.KamonNFT, points *kamoncontract.QuestPoints, opts *bind.TransactOpts, mined bind.DeployBackend) *EthereumBackend {
	return &EthereumBackend{nft: nft, points: points, opts: opts, mined: mined}
}

// TokenOf implements TokenReader. An owner whose recorded token is held by
// someone else holds no token.
func (e *EthereumBackend) TokenOf(ctx context.Context, owner common.Address) (uint64, string, error) {
	call := &bind.CallOpts{Context: ctx}
	id, err := e.nft.TokenIdOf(call, owner)
	if err != nil {
		return 0, "", fmt.Errorf("tokenIdOf: %w", err)
	}
	if id.Sign() == 0 {
		return 0, "", nil
	}
	if !id.IsUint64() {
		return 0, "", fmt.Errorf("tokenIdOf: token id %v overflows uint64", id)
	}
	// tokenIdOf can lag a transfer; only the current holder's token is synced.
	holder, err := e.nft.OwnerOf(call, id)
	if err != nil {
		return 0, "", fmt.Errorf("ownerOf(%v): %w", id, err)
	}
	if holder != owner {
		log.Debug("Token no longer held by owner", "owner", owner, "token", id, "holder", holder)
		return 0, "", nil
	}
	uri, err := e.nft.TokenURI(call, id)
	if err != nil {
		return 0, "", fmt.Errorf("tokenURI(%v): %w", id, err)
	}
	return id.Uint64(), uri, nil
}

// PointsOf implements PointsSource. The ledger answers batched reads; a
// single-owner query takes the first total.
func (e *EthereumBackend) PointsOf(ctx context.Context, owner common.Address) (uint64, error) {
	totals, err := e.points.GetPoints(&bind.CallOpts{Context: ctx}, []common.Address{owner})
	if err != nil {
		return 0, fmt.Errorf("getPoints: %w", err)
	}
	if len(totals) == 0 || totals[0] == nil {
		return 0, ErrEmptyPointsRead
	}
	if !totals[0].IsUint64() {
		return 0, fmt.Errorf("getPoints: total %v overflows uint64", totals[0])
	}
	return totals[0].Uint64(), nil
}

// UpdateToken implements TokenWriter.
func (e *EthereumBackend) UpdateToken(ctx context.Context, tokenID uint64, uri string) (common.Hash, error) {
	if e.opts == nil {
		return common.Hash{}, errors.New("kamon: no transaction signer configured")
	}
	opts := *e.opts
	opts.Context = ctx

	tx, err := e.nft.UpdateNFT(&opts, new(big.Int).SetUint64(tokenID), uri)
	if err != nil {
		if signerDeclined(err) {
			return common.Hash{}, fmt.Errorf("%w: %v", ErrSignerDeclined, err)
		}
		return common.Hash{}, fmt.Errorf("updateNFT: %w", err)
	}
	if e.mined == nil {
		return tx.Hash(), nil
	}
	receipt, err := bind.WaitMined(ctx, e.mined, tx)
	if err != nil {
		return tx.Hash(), fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return tx.Hash(), fmt.Errorf("%w: %s", ErrTxReverted, tx.Hash().Hex())
	}
	return tx.Hash(), nil
}

// ContractInfo summarises the bound contracts and, when requested, one
// holder's standing.
type ContractInfo struct {
	KamonNFT    common.Address
	QuestPoints common.Address
	TotalSupply *big.Int

	Owner    *common.Address
	Balance  *big.Int
	TokenID  uint64
	TokenURI string
	Points   uint64
}

// Info reads the kamon supply and, if owner is non-nil, the owner's balance,
// synced token and point total.
func (e *EthereumBackend) Info(ctx context.Context, owner *common.Address) (*ContractInfo, error) {
	call := &bind.CallOpts{Context: ctx}
	supply, err := e.nft.TotalSupply(call)
	if err != nil {
		return nil, fmt.Errorf("totalSupply: %w", err)
	}
	info := &ContractInfo{
		KamonNFT:    e.nft.Address(),
		QuestPoints: e.points.Address(),
		TotalSupply: supply,
	}
	if owner == nil {
		return info, nil
	}
	info.Owner = owner
	if info.Balance, err = e.nft.BalanceOf(call, *owner); err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	if info.TokenID, info.TokenURI, err = e.TokenOf(ctx, *owner); err != nil {
		return nil, err
	}
	if info.Points, err = e.PointsOf(ctx, *owner); err != nil {
		return nil, err
	}
	return info, nil
}

// signerDeclined reports whether err is the signing party refusing the
// transaction, as opposed to any other failure.
func signerDeclined(err error) bool {
	if errors.Is(err, ErrSignerDeclined) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range declinedMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
