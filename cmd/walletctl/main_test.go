package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OKaluzny/wallet-engine/internal/keystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAccountList(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keystore")

	out, err := runCmd(t, "account", "list", "--keystore", dir)
	require.NoError(t, err)
	assert.Empty(t, out)

	s := keystore.New(dir, nil)
	a, err := s.NewAccount("password", keystore.WithSecurityRatio(1))
	require.NoError(t, err)
	addr, _ := a.Address()

	out, err = runCmd(t, "account", "list", "--keystore", dir)
	require.NoError(t, err)
	assert.Equal(t, "0: "+addr.Hex()+" "+a.Path()+"\n", out)
}

func TestAccountMnemonic(t *testing.T) {
	out, err := runCmd(t, "account", "mnemonic")
	require.NoError(t, err)
	assert.Len(t, strings.Fields(out), 12)
}

func TestBalance_NoAccounts(t *testing.T) {
	_, err := runCmd(t, "balance", "--keystore", filepath.Join(t.TempDir(), "keystore"))
	assert.Error(t, err)
}

func TestUnknownChain(t *testing.T) {
	_, err := runCmd(t, "account", "list", "--keystore", t.TempDir(), "--chain", "kovan")
	assert.Error(t, err)
}
