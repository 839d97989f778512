package wallet

import (
	"fmt"
	"strings"

	"github.com/OKaluzny/wallet-engine/internal/walleterr"
	"github.com/tyler-smith/go-bip39"
)

// NewMnemonic generates a 12-word BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("mnemonic: %w", err)
	}
	return mnemonic, nil
}

// SeedFromMnemonic validates mnemonic and returns its BIP-39 seed.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: invalid mnemonic", walleterr.ErrInvalidParameter)
	}
	return bip39.NewSeed(mnemonic, passphrase), nil
}
