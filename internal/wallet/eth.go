package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/OKaluzny/wallet-engine/internal/walleterr"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"golang.org/x/crypto/sha3"
)

// SLIP-44 coin type of ether.
const ethCoinType = 60

var (
	_ Generator = (*ETHGenerator)(nil)
	_ Signer    = (*ETHSigner)(nil)
)

// ETHGenerator derives Ethereum keys using BIP-44.
// Derivation path: m/44'/60'/0'/0/{index}
type ETHGenerator struct{}

// NewETHGenerator returns a new Ethereum key generator.
func NewETHGenerator() *ETHGenerator {
	return &ETHGenerator{}
}

// GenerateFromSeed derives an Ethereum key from a BIP-39 seed.
func (g *ETHGenerator) GenerateFromSeed(seed []byte, index uint32) (*DerivedKey, error) {
	path := fmt.Sprintf("m/44'/%d'/0'/0/%d", ethCoinType, index)

	key, err := deriveKey(seed, bip44Path(index))
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	_, pubKey := btcec.PrivKeyFromBytes(key)

	return &DerivedKey{
		Address:        addressFromKey(key),
		DerivationPath: path,
		PublicKey:      hex.EncodeToString(pubKey.SerializeUncompressed()),
		PrivateKey:     key,
	}, nil
}

// ETHSigner signs legacy Ethereum transactions with EIP-155 replay protection.
type ETHSigner struct {
	chainID *big.Int
}

// NewETHSigner returns a new Ethereum transaction signer with the given chain ID.
func NewETHSigner(chainID *big.Int) *ETHSigner {
	return &ETHSigner{chainID: new(big.Int).Set(chainID)}
}

// ChainID returns the chain the signer is bound to.
func (s *ETHSigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Sign signs tx with privateKey and returns the signed transaction.
func (s *ETHSigner) Sign(ctx context.Context, tx *types.Transaction, privateKey []byte) (*types.Transaction, error) {
	if err := ValidateKey(privateKey); err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", walleterr.ErrInvalidParameter, err)
	}
	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}

// AddressFromKey derives the Ethereum address of a raw secp256k1 private key.
func AddressFromKey(key []byte) (common.Address, error) {
	if err := ValidateKey(key); err != nil {
		return common.Address{}, err
	}
	return addressFromKey(key), nil
}

// ValidateKey checks that key is a 32-byte scalar in [1, N).
func ValidateKey(key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("%w: private key must be 32 bytes, got %d", walleterr.ErrInvalidParameter, len(key))
	}
	d := new(big.Int).SetBytes(key)
	if d.Sign() == 0 || d.Cmp(btcec.S256().N) >= 0 {
		return fmt.Errorf("%w: private key out of curve range", walleterr.ErrInvalidParameter)
	}
	return nil
}

// addressFromKey is the last 20 bytes of Keccak256 over the uncompressed
// public key.
func addressFromKey(key []byte) common.Address {
	_, pubKey := btcec.PrivKeyFromBytes(key)
	pubBytes := pubKey.SerializeUncompressed()
	hash := keccak256(pubBytes[1:]) // skip 0x04 prefix
	return common.BytesToAddress(hash[12:])
}

// bip44Path returns the child indexes of m/44'/60'/0'/0/index.
func bip44Path(index uint32) []uint32 {
	return []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + ethCoinType,
		bip32.FirstHardenedChild,
		0,
		index,
	}
}

// deriveKey walks path from the BIP-32 master key of seed and returns the
// 32-byte private key at its end.
func deriveKey(seed []byte, path []uint32) ([]byte, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	for depth, child := range path {
		if key, err = key.NewChildKey(child); err != nil {
			return nil, fmt.Errorf("derive depth %d: %w", depth+1, err)
		}
	}
	return common.LeftPadBytes(key.Key, 32), nil
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
