package models

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeiToEther(t *testing.T) {
	tests := []struct {
		wei  string
		want float64
	}{
		{"350003576885437676061958", 350003.577},
		{"10000000000000000", 0.01},
		{"0", 0},
		{"499999999999999", 0},
		{"500000000000000", 0.001},
		{"1000000000000000000", 1},
		{"-1500000000000000", -0.002},
	}
	for _, tt := range tests {
		wei, err := ParseWei(tt.wei)
		require.NoError(t, err)
		assert.Equal(t, tt.want, WeiToEther(wei, RoundDigits), tt.wei)
	}
}

func TestParseWei_Invalid(t *testing.T) {
	_, err := ParseWei("12.5")
	require.Error(t, err)
	_, err = ParseWei("")
	require.Error(t, err)
}

func TestGweiToWei(t *testing.T) {
	assert.Equal(t, 0, GweiToWei(5).Cmp(big.NewInt(5_000_000_000)))
}

func TestChainByName(t *testing.T) {
	c, err := ChainByName("Mainnet")
	require.NoError(t, err)
	assert.Equal(t, ChainMainnet, c.ID)
	assert.Equal(t, int64(1), c.BigID().Int64())

	c, err = ChainByName("ropsten")
	require.NoError(t, err)
	assert.Equal(t, ChainRopsten, c.ID)

	_, err = ChainByName("kovan")
	require.Error(t, err)
}
