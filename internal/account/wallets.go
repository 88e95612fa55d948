package account

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ErrNoWallets is returned when neither a wallets file nor the single-wallet
// environment variables provide a wallet.
var ErrNoWallets = errors.New("no wallets configured")

// WalletEntry is one wallet as declared in configuration.
type WalletEntry struct {
	Address    string `yaml:"address"`
	PrivateKey string `yaml:"privateKey"`
}

type walletsFile struct {
	Wallets []WalletEntry `yaml:"wallets"`
}

// ParseWallets decodes a wallets document. Both a top-level list and a
// mapping with a "wallets" key are accepted.
func ParseWallets(data []byte) ([]WalletEntry, error) {
	var doc walletsFile
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Wallets) > 0 {
		return doc.Wallets, nil
	}

	var list []WalletEntry
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse wallets: %w", err)
	}
	return list, nil
}

// ReadWalletsFile reads and decodes a wallets YAML file.
func ReadWalletsFile(path string) ([]WalletEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallets file: %w", err)
	}
	return ParseWallets(data)
}

// FromEntries builds accounts from declared wallets. Each private key must
// derive the declared address; an empty address is filled from the key.
// Duplicate addresses are rejected.
func FromEntries(entries []WalletEntry) ([]*Account, error) {
	if len(entries) == 0 {
		return nil, ErrNoWallets
	}

	seen := make(map[common.Address]int, len(entries))
	accounts := make([]*Account, 0, len(entries))
	for i, e := range entries {
		acc, err := NewAccountFromHex(e.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wallet %d: invalid private key: %w", i, err)
		}

		if addr := strings.TrimSpace(e.Address); addr != "" {
			if !common.IsHexAddress(addr) {
				return nil, fmt.Errorf("wallet %d: invalid address %q", i, addr)
			}
			if common.HexToAddress(addr) != acc.Address {
				return nil, fmt.Errorf("wallet %d: private key derives %s, not declared address %s",
					i, acc.Short(), ShortAddress(common.HexToAddress(addr)))
			}
		}

		if j, dup := seen[acc.Address]; dup {
			return nil, fmt.Errorf("wallet %d: duplicate of wallet %d (%s)", i, j, acc.Short())
		}
		seen[acc.Address] = i
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// Load resolves the configured wallets. A wallets file takes precedence over
// the single address/key pair.
func Load(walletsPath, address, privateKey string) ([]*Account, error) {
	if walletsPath != "" {
		entries, err := ReadWalletsFile(walletsPath)
		if err != nil {
			return nil, err
		}
		return FromEntries(entries)
	}
	if privateKey == "" {
		return nil, ErrNoWallets
	}
	return FromEntries([]WalletEntry{{Address: address, PrivateKey: privateKey}})
}
