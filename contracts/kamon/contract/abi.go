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

// Package contract contains the ABIs of the contracts the point sync talks to.
// Only the methods used off-chain are listed; regenerate full bindings with:
//   abigen --abi kamonNFT.abi --pkg contract --type KamonNFT --out kamon_gen.go
package contract

// KamonNFTABI is the subset of the KamonNFT ABI used by the sync service.
const KamonNFTABI = `[
	{
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "tokenIdOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "tokenId", "type": "uint256"}],
		"name": "tokenURI",
		"outputs": [{"name": "", "type": "string"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "tokenId", "type": "uint256"}],
		"name": "ownerOf",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "totalSupply",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "tokenId",       "type": "uint256"},
			{"name": "finalTokenUri", "type": "string"}
		],
		"name": "updateNFT",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// QuestPointsABI is the ABI of the quest points ledger. Reads are batched:
// one total is returned per queried owner, in order.
const QuestPointsABI = `[
	{
		"inputs": [{"name": "owners", "type": "address[]"}],
		"name": "getPoints",
		"outputs": [{"name": "", "type": "uint256[]"}],
		"stateMutability": "view",
		"type": "function"
	}
]`
