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

// Package kamon provides high-level Go bindings for the KamonNFT contract and
// the quest points ledger that drives its metadata.
package kamon

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/henkaku/kamonsync/contracts/kamon/contract"
)

// errEmptyResult is returned when a call decodes to fewer outputs than the ABI promises.
var errEmptyResult = errors.New("kamon: contract call returned no values")

// KamonNFT is a high-level wrapper around the on-chain KamonNFT contract.
type KamonNFT struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewKamonNFT connects to an already-deployed KamonNFT contract.
func NewKamonNFT(addr common.Address, backend bind.ContractBackend) (*KamonNFT, error) {
	parsed, err := abi.JSON(strings.NewReader(contract.KamonNFTABI))
	if err != nil {
		return nil, err
	}
	return &KamonNFT{
		address:  addr,
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
	}, nil
}

// Address returns the contract address the wrapper is bound to.
func (k *KamonNFT) Address() common.Address {
	return k.address
}

// ──────────────────────────────────────────────
//  Write methods
// ──────────────────────────────────────────────

// UpdateNFT points a token at a new metadata document.
func (k *KamonNFT) UpdateNFT(opts *bind.TransactOpts, tokenId *big.Int, finalTokenURI string) (*types.Transaction, error) {
	return k.contract.Transact(opts, "updateNFT", tokenId, finalTokenURI)
}

// ──────────────────────────────────────────────
//  Read methods
// ──────────────────────────────────────────────

// TokenIdOf returns the token held by owner, or zero if it holds none.
func (k *KamonNFT) TokenIdOf(opts *bind.CallOpts, owner common.Address) (*big.Int, error) {
	var out []interface{}
	if err := k.contract.Call(opts, &out, "tokenIdOf", owner); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errEmptyResult
	}
	return out[0].(*big.Int), nil
}

// TokenURI returns the metadata pointer currently recorded for a token.
func (k *KamonNFT) TokenURI(opts *bind.CallOpts, tokenId *big.Int) (string, error) {
	var out []interface{}
	if err := k.contract.Call(opts, &out, "tokenURI", tokenId); err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", errEmptyResult
	}
	return out[0].(string), nil
}

// OwnerOf returns the current owner of a token.
func (k *KamonNFT) OwnerOf(opts *bind.CallOpts, tokenId *big.Int) (common.Address, error) {
	var out []interface{}
	if err := k.contract.Call(opts, &out, "ownerOf", tokenId); err != nil {
		return common.Address{}, err
	}
	if len(out) == 0 {
		return common.Address{}, errEmptyResult
	}
	return out[0].(common.Address), nil
}

// BalanceOf returns how many kamon tokens an address holds.
func (k *KamonNFT) BalanceOf(opts *bind.CallOpts, owner common.Address) (*big.Int, error) {
	var out []interface{}
	if err := k.contract.Call(opts, &out, "balanceOf", owner); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errEmptyResult
	}
	return out[0].(*big.Int), nil
}

// TotalSupply returns the number of minted tokens.
func (k *KamonNFT) TotalSupply(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	if err := k.contract.Call(opts, &out, "totalSupply"); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errEmptyResult
	}
	return out[0].(*big.Int), nil
}

// QuestPoints wraps the read-only quest points ledger.
type QuestPoints struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewQuestPoints connects to a deployed points ledger.
func NewQuestPoints(addr common.Address, backend bind.ContractCaller) (*QuestPoints, error) {
	parsed, err := abi.JSON(strings.NewReader(contract.QuestPointsABI))
	if err != nil {
		return nil, err
	}
	return &QuestPoints{
		address:  addr,
		contract: bind.NewBoundContract(addr, parsed, backend, nil, nil),
	}, nil
}

// Address returns the ledger address.
func (q *QuestPoints) Address() common.Address {
	return q.address
}

// GetPoints returns the point totals of owners, in the order given.
func (q *QuestPoints) GetPoints(opts *bind.CallOpts, owners []common.Address) ([]*big.Int, error) {
	var out []interface{}
	if err := q.contract.Call(opts, &out, "getPoints", owners); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errEmptyResult
	}
	return out[0].([]*big.Int), nil
}
