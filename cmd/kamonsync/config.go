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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/henkaku/kamonsync/kamon"
)

// Config models kamonsync.yml.
type Config struct {
	// Network selects an entry of Networks. When empty, polygon is used in
	// production and goerli otherwise.
	Network    string             `yaml:"network"`
	Production bool               `yaml:"production"`
	RPC        string             `yaml:"rpc"`
	Networks   map[string]Network `yaml:"networks"`

	Generator struct {
		URL             string        `yaml:"url"`
		Timeout         time.Duration `yaml:"timeout"`
		RateLimit       float64       `yaml:"rate_limit"`
		Burst           int           `yaml:"burst"`
		BreakerFailures uint32        `yaml:"breaker_failures"`
		BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	} `yaml:"generator"`

	IPFS struct {
		Gateway string        `yaml:"gateway"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"ipfs"`

	Signer struct {
		Keystore     string `yaml:"keystore"`
		PasswordFile string `yaml:"password_file"`
		Clef         string `yaml:"clef"`
		Account      string `yaml:"account"`
	} `yaml:"signer"`

	Writer struct {
		WaitMined bool `yaml:"wait_mined"`
	} `yaml:"writer"`

	Journal string `yaml:"journal"`

	API struct {
		Listen      string   `yaml:"listen"`
		CORSOrigins []string `yaml:"cors_origins"`
		JWTSecret   string   `yaml:"jwt_secret"`
	} `yaml:"api"`
}

// Network holds the contract deployment of one chain.
type Network struct {
	Name     string `yaml:"-"`
	ChainID  uint64 `yaml:"chain_id"`
	KamonNFT string `yaml:"kamon_nft"`
	Points   string `yaml:"points"`
}

// loadConfig reads the config at path on top of the defaults. An empty path
// yields the defaults.
func loadConfig(path string) (*Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return configFromYAML(data)
}

// configFromYAML parses and validates config from raw YAML bytes.
func configFromYAML(data []byte) (*Config, error) {
	cfg := defaultConfig()
	builtin := cfg.Networks
	cfg.Networks = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.Networks = mergeNetworks(builtin, cfg.Networks)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeNetworks overlays file entries on the built-in network table field by
// field, so a file may set a single address of a known network.
func mergeNetworks(builtin, file map[string]Network) map[string]Network {
	merged := make(map[string]Network, len(builtin)+len(file))
	for name, n := range builtin {
		merged[name] = n
	}
	for name, n := range file {
		base := merged[name]
		if n.ChainID != 0 {
			base.ChainID = n.ChainID
		}
		if n.KamonNFT != "" {
			base.KamonNFT = n.KamonNFT
		}
		if n.Points != "" {
			base.Points = n.Points
		}
		merged[name] = base
	}
	return merged
}

// defaultConfig returns the built-in configuration.
func defaultConfig() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("kamonsync: broken default config: %v", err))
	}
	return &cfg
}

func (c *Config) validate() error {
	if c.RPC == "" {
		return errors.New("config.rpc is required")
	}
	if len(c.Networks) == 0 {
		return errors.New("config.networks is required")
	}
	for name, n := range c.Networks {
		if n.ChainID == 0 {
			return fmt.Errorf("network %s: chain_id is required", name)
		}
		if n.KamonNFT != "" && !common.IsHexAddress(n.KamonNFT) {
			return fmt.Errorf("network %s: invalid kamon_nft address %q", name, n.KamonNFT)
		}
		if n.Points != "" && !common.IsHexAddress(n.Points) {
			return fmt.Errorf("network %s: invalid points address %q", name, n.Points)
		}
	}
	if c.Network != "" {
		if _, ok := c.Networks[c.Network]; !ok {
			return fmt.Errorf("network %s not defined", c.Network)
		}
	}
	if c.Generator.RateLimit < 0 {
		return errors.New("config.generator.rate_limit must not be negative")
	}
	if c.Signer.Keystore != "" && c.Signer.Clef != "" {
		return errors.New("config.signer: keystore and clef are mutually exclusive")
	}
	if c.Signer.Clef != "" && !common.IsHexAddress(c.Signer.Account) {
		return errors.New("config.signer.account must be set to an address when using clef")
	}
	if c.Journal == "" {
		return errors.New("config.journal is required")
	}
	return nil
}

// networkName is the configured network, or the default for the mode:
// polygon in production, goerli otherwise.
func (c *Config) networkName() string {
	if c.Network != "" {
		return c.Network
	}
	if c.Production {
		return "polygon"
	}
	return "goerli"
}

// network returns the selected network with both contract addresses present.
func (c *Config) network() (Network, error) {
	name := c.networkName()
	n, ok := c.Networks[name]
	if !ok {
		return Network{}, fmt.Errorf("network %s not defined", name)
	}
	n.Name = name
	if n.KamonNFT == "" {
		return Network{}, fmt.Errorf("network %s: kamon_nft address not configured", name)
	}
	if n.Points == "" {
		return Network{}, fmt.Errorf("network %s: points address not configured", name)
	}
	return n, nil
}

func (c *Config) generatorConfig() kamon.GeneratorConfig {
	return kamon.GeneratorConfig{
		URL:             c.Generator.URL,
		Timeout:         c.Generator.Timeout,
		RateLimit:       c.Generator.RateLimit,
		Burst:           c.Generator.Burst,
		BreakerFailures: c.Generator.BreakerFailures,
		BreakerCooldown: c.Generator.BreakerCooldown,
	}
}

var defaultTemplate = `rpc: http://localhost:8545

networks:
  rinkeby:
    chain_id: 4
    kamon_nft: "0x9D8b1775CbEE7ae3Cf9dAE3D2CaCBA4986d7df63"
  goerli:
    chain_id: 5
    kamon_nft: "0x539BCf896f02459dBcB3a2F1D823d2E65DB7211C"
  polygon:
    chain_id: 137
    kamon_nft: "0xbF6F98CB455C73D389B0fB7Ee314C5058569A1A4"

generator:
  timeout: 60s
  rate_limit: 1
  burst: 1
  breaker_failures: 5
  breaker_cooldown: 30s

ipfs:
  gateway: ` + kamon.DefaultIPFSGateway + `
  timeout: 20s

writer:
  wait_mined: true

journal: ` + filepath.Join(".kamonsync", "journal.db") + `

api:
  listen: "127.0.0.1:8551"
`
