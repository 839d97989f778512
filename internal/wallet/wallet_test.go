package wallet

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/OKaluzny/wallet-engine/internal/walleterr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"
)

const abandonMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testSeed(t *testing.T) []byte {
	t.Helper()
	return bip39.NewSeed(abandonMnemonic, "")
}

func testSeed2(t *testing.T) []byte {
	t.Helper()
	return bip39.NewSeed("zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong", "")
}

func TestETHGenerator_KnownVector(t *testing.T) {
	key, err := NewETHGenerator().GenerateFromSeed(testSeed(t), 0)
	require.NoError(t, err)

	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", key.Address.Hex())
	assert.Equal(t, "m/44'/60'/0'/0/0", key.DerivationPath)
	assert.Len(t, key.PrivateKey, 32)
}

func TestETHGenerator_Deterministic(t *testing.T) {
	gen := NewETHGenerator()
	k1, err := gen.GenerateFromSeed(testSeed(t), 3)
	require.NoError(t, err)
	k2, err := gen.GenerateFromSeed(testSeed(t), 3)
	require.NoError(t, err)

	assert.Equal(t, k1.Address, k2.Address)
	assert.Equal(t, k1.PublicKey, k2.PublicKey)
}

func TestETHGenerator_DifferentSeedsAndIndices(t *testing.T) {
	gen := NewETHGenerator()
	a, err := gen.GenerateFromSeed(testSeed(t), 0)
	require.NoError(t, err)
	b, err := gen.GenerateFromSeed(testSeed2(t), 0)
	require.NoError(t, err)
	c, err := gen.GenerateFromSeed(testSeed(t), 1)
	require.NoError(t, err)

	assert.NotEqual(t, a.Address, b.Address, "different seeds produced same address")
	assert.NotEqual(t, a.Address, c.Address, "different indices produced same address")
}

func TestETHGenerator_PublicKeyFormat(t *testing.T) {
	key, err := NewETHGenerator().GenerateFromSeed(testSeed(t), 0)
	require.NoError(t, err)

	pubBytes, err := hex.DecodeString(key.PublicKey)
	require.NoError(t, err)
	require.Len(t, pubBytes, 65)
	assert.Equal(t, byte(0x04), pubBytes[0])
}

func TestAddressFromKey_MatchesGeth(t *testing.T) {
	for i := 0; i < 5; i++ {
		gk, err := crypto.GenerateKey()
		require.NoError(t, err)

		addr, err := AddressFromKey(crypto.FromECDSA(gk))
		require.NoError(t, err)
		assert.Equal(t, crypto.PubkeyToAddress(gk.PublicKey), addr)
	}
}

func TestValidateKey(t *testing.T) {
	require.ErrorIs(t, ValidateKey(nil), walleterr.ErrInvalidParameter)
	require.ErrorIs(t, ValidateKey(make([]byte, 32)), walleterr.ErrInvalidParameter)
	require.ErrorIs(t, ValidateKey(make([]byte, 31)), walleterr.ErrInvalidParameter)

	n := crypto.S256().Params().N
	require.ErrorIs(t, ValidateKey(common.LeftPadBytes(n.Bytes(), 32)), walleterr.ErrInvalidParameter)
	require.NoError(t, ValidateKey(common.LeftPadBytes(big.NewInt(1).Bytes(), 32)))
}

func TestMnemonic(t *testing.T) {
	m, err := NewMnemonic()
	require.NoError(t, err)
	assert.Len(t, strings.Fields(m), 12)

	seed, err := SeedFromMnemonic(m, "")
	require.NoError(t, err)
	assert.Len(t, seed, 64)

	seed, err = SeedFromMnemonic("  "+strings.ReplaceAll(abandonMnemonic, " ", "  ")+" ", "")
	require.NoError(t, err)
	assert.Equal(t, testSeed(t), seed)

	_, err = SeedFromMnemonic("abandon abandon abandon", "")
	require.ErrorIs(t, err, walleterr.ErrInvalidParameter)
}

func TestETHSigner_Sign(t *testing.T) {
	key, err := NewETHGenerator().GenerateFromSeed(testSeed(t), 0)
	require.NoError(t, err)

	chainID := big.NewInt(3)
	signer := NewETHSigner(chainID)
	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    7,
		To:       &to,
		Value:    big.NewInt(1000),
		Gas:      25000,
		GasPrice: big.NewInt(5_000_000_000),
		Data:     []byte{0xca, 0xfe},
	})

	signed, err := signer.Sign(context.Background(), tx, key.PrivateKey)
	require.NoError(t, err)

	sender, err := types.Sender(types.NewEIP155Signer(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, key.Address, sender)
	assert.Equal(t, uint64(7), signed.Nonce())
	assert.Equal(t, chainID, signed.ChainId())
	assert.Equal(t, []byte{0xca, 0xfe}, signed.Data())
	assert.Equal(t, 0, signer.ChainID().Cmp(chainID))
}

func TestETHSigner_BadKey(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})
	_, err := NewETHSigner(big.NewInt(1)).Sign(context.Background(), tx, []byte("fake-private-key"))
	require.ErrorIs(t, err, walleterr.ErrInvalidParameter)
}
