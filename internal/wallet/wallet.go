package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DerivedKey is a key derived from an HD seed.
type DerivedKey struct {
	Address        common.Address
	DerivationPath string
	PublicKey      string // uncompressed, hex
	PrivateKey     []byte
}

// Generator derives keys from HD seed bytes.
type Generator interface {
	// GenerateFromSeed derives the key at the given address index
	GenerateFromSeed(seed []byte, index uint32) (*DerivedKey, error)
}

// Signer defines the interface for transaction signing.
type Signer interface {
	// Sign returns a signed copy of tx
	Sign(ctx context.Context, tx *types.Transaction, privateKey []byte) (*types.Transaction, error)
}
