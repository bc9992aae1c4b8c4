// Copyright 2018 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/external"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"

	kamoncontract "github.com/henkaku/kamonsync/contracts/kamon"
	"github.com/henkaku/kamonsync/kamon"
)

// service bundles the orchestrator with the node connection it depends on.
type service struct {
	client *ethclient.Client
	orch   *kamon.Orchestrator
}

// newService dials the node, binds the contracts of the selected network and
// wires the orchestrator.
func newService(ctx context.Context, cfg *Config) (*service, error) {
	network, err := cfg.network()
	if err != nil {
		return nil, err
	}
	if cfg.Generator.URL == "" {
		return nil, errors.New("no metadata generator configured")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", cfg.RPC, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read chain id: %v", err)
	}
	if chainID.Uint64() != network.ChainID {
		client.Close()
		return nil, fmt.Errorf("node serves chain %v, network %s expects %d", chainID, network.Name, network.ChainID)
	}

	nft, err := kamoncontract.NewKamonNFT(common.HexToAddress(network.KamonNFT), client)
	if err != nil {
		client.Close()
		return nil, err
	}
	points, err := kamoncontract.NewQuestPoints(common.HexToAddress(network.Points), client)
	if err != nil {
		client.Close()
		return nil, err
	}
	opts, err := makeTransactor(cfg, chainID)
	if err != nil {
		client.Close()
		return nil, err
	}
	if opts == nil {
		log.Warn("No signer configured, token updates will fail")
	}
	var mined bind.DeployBackend
	if cfg.Writer.WaitMined {
		mined = client
	}
	backend := kamon.NewEthereumBackend(nft, points, opts, mined)

	generator, err := kamon.NewHTTPGenerator(cfg.generatorConfig())
	if err != nil {
		client.Close()
		return nil, err
	}
	fetcher := kamon.NewHTTPFetcher(cfg.IPFS.Gateway, cfg.IPFS.Timeout)

	log.Info("Kamon sync service ready",
		"network", network.Name,
		"chain", chainID,
		"nft", network.KamonNFT,
		"points", network.Points,
		"generator", cfg.Generator.URL,
	)
	return &service{
		client: client,
		orch:   kamon.NewOrchestrator(backend, backend, generator, fetcher, backend),
	}, nil
}

// Close stops running cycles and drops the node connection.
func (s *service) Close() {
	s.orch.Close()
	s.client.Close()
}

// makeTransactor builds the updater's signer: clef when an endpoint is
// configured, a keyfile otherwise, nil when neither is set.
func makeTransactor(cfg *Config, chainID *big.Int) (*bind.TransactOpts, error) {
	switch {
	case cfg.Signer.Clef != "":
		signer, err := external.NewExternalSigner(cfg.Signer.Clef)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to clef: %v", err)
		}
		account := accounts.Account{Address: common.HexToAddress(cfg.Signer.Account)}
		return bind.NewClefTransactor(signer, account), nil

	case cfg.Signer.Keystore != "":
		key, err := os.Open(cfg.Signer.Keystore)
		if err != nil {
			return nil, fmt.Errorf("failed to open keyfile: %v", err)
		}
		defer key.Close()

		var passphrase string
		if cfg.Signer.PasswordFile != "" {
			data, err := os.ReadFile(cfg.Signer.PasswordFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read password file: %v", err)
			}
			passphrase = strings.TrimRight(string(data), "\r\n")
		}
		opts, err := bind.NewTransactorWithChainID(key, passphrase, chainID)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt keyfile: %v", err)
		}
		return opts, nil
	}
	return nil, nil
}

type chainInfo struct {
	chainID *big.Int
	*kamon.ContractInfo
}

// readChainInfo reads the chain id and contract state without a signer. When
// owner is set, the owner's token and points are included.
func readChainInfo(ctx context.Context, url string, network Network, owner *common.Address) (*chainInfo, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", url, err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %v", err)
	}
	nft, err := kamoncontract.NewKamonNFT(common.HexToAddress(network.KamonNFT), client)
	if err != nil {
		return nil, err
	}
	points, err := kamoncontract.NewQuestPoints(common.HexToAddress(network.Points), client)
	if err != nil {
		return nil, err
	}
	info, err := kamon.NewEthereumBackend(nft, points, nil, nil).Info(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &chainInfo{chainID: chainID, ContractInfo: info}, nil
}
