package engine

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OKaluzny/wallet-engine/internal/config"
	"github.com/OKaluzny/wallet-engine/internal/indexer/indexertest"
	"github.com/OKaluzny/wallet-engine/internal/keystore"
	"github.com/OKaluzny/wallet-engine/internal/walleterr"
	"github.com/OKaluzny/wallet-engine/pkg/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	password  = "password"
	recipient = "0xab5801a7d398351b8be11c439e05c5b3259aec9b"
)

// mockRPC implements tx.RPC.
type mockRPC struct {
	nonce uint64
	sent  []*types.Transaction
}

func (m *mockRPC) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return m.nonce, nil
}

func (m *mockRPC) SendTransaction(_ context.Context, tx *types.Transaction) error {
	m.sent = append(m.sent, tx)
	return nil
}

// balanceRPC is a mockRPC that also implements BalanceReader.
type balanceRPC struct {
	mockRPC
	balances map[common.Address]*big.Int
	err      error
}

func (m *balanceRPC) BalanceAt(_ context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	if m.err != nil {
		return nil, m.err
	}
	if block != nil {
		return nil, errors.New("only the latest block is served")
	}
	if wei, ok := m.balances[account]; ok {
		return wei, nil
	}
	return new(big.Int), nil
}

func testConfig(t *testing.T, srv *indexertest.Server) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.KeystoreDir = filepath.Join(t.TempDir(), "keystore")
	cfg.Chain = "ropsten"
	cfg.SecurityRatio = 1
	cfg.HTTPTimeout = 2 * time.Second
	cfg.IndexerMaxRetries = 1
	cfg.RPCURL = ""
	if srv != nil {
		cfg.IndexerURL = srv.Chain().IndexerURL
	}
	return cfg
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *indexertest.Server) {
	t.Helper()
	srv := indexertest.NewServer()
	t.Cleanup(srv.Close)
	e, err := New(testConfig(t, srv), nil, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, srv
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.SecurityRatio = 101
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, walleterr.ErrInvalidParameter)

	cfg = testConfig(t, nil)
	cfg.Chain = "kovan"
	_, err = New(cfg, nil)
	assert.ErrorIs(t, err, walleterr.ErrInvalidParameter)
}

func TestChain(t *testing.T) {
	e, srv := newTestEngine(t)
	assert.Equal(t, models.ChainRopsten, e.Chain().ID)
	assert.Equal(t, srv.Chain().IndexerURL, e.Chain().IndexerURL)
}

func TestAccountLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.MainAccount()
	assert.ErrorIs(t, err, walleterr.ErrAccountNotFound)

	a, err := e.NewAccount(password)
	require.NoError(t, err)
	iterations, err := keystore.SecurityRatioIterations(1)
	require.NoError(t, err)
	assert.Equal(t, iterations, a.Params().Iterations)

	main, err := e.MainAccount()
	require.NoError(t, err)
	assert.Same(t, a, main)

	addr, _ := a.Address()
	got, err := e.Account(addr.Hex())
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = e.Account("not-an-address")
	assert.ErrorIs(t, err, walleterr.ErrInvalidParameter)
	_, err = e.Account(recipient)
	assert.ErrorIs(t, err, walleterr.ErrAccountNotFound)

	require.NoError(t, e.UpdateAccountPassword(a, "new_password", ""))
	a.Lock()
	_, err = e.UnlockAccount(addr.Hex(), password)
	assert.ErrorIs(t, err, walleterr.ErrInvalidPassword)
	_, err = e.UnlockAccount(addr.Hex(), "new_password")
	require.NoError(t, err)

	require.NoError(t, e.DeleteAccount(a))
	accounts, err := e.Accounts()
	require.NoError(t, err)
	assert.Empty(t, accounts)
	_, err = os.Stat(filepath.Join(keystore.DeletedAccountDir(e.Store().Dir()), filepath.Base(a.Path())))
	assert.NoError(t, err)
}

func TestImportMnemonic(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.ImportMnemonic("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", "", 0, password)
	require.NoError(t, err)
	addr, _ := a.Address()
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", addr.Hex())
}

func TestBalanceAndHistory(t *testing.T) {
	e, srv := newTestEngine(t)
	a, err := e.NewAccount(password)
	require.NoError(t, err)
	addr, _ := a.Address()

	srv.SetBalance(addr.Hex(), "350003576885437676061958")
	balance, err := e.Balance(context.Background(), addr.Hex())
	require.NoError(t, err)
	assert.Equal(t, 350003.577, balance)

	history, err := e.History(context.Background(), addr.Hex())
	require.NoError(t, err)
	assert.Empty(t, history)

	srv.AddTransaction(models.Transaction{TimeStamp: "1", From: addr.Hex(), To: recipient, Value: "1"})
	srv.AddTransaction(models.Transaction{TimeStamp: "2", From: recipient, To: addr.Hex(), Value: "1"})
	history, err = e.History(context.Background(), addr.Hex())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Extra.Sent)
	assert.True(t, history[1].Extra.Received)

	nonce, err := e.Nonce(context.Background(), addr.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	_, err = e.Balance(context.Background(), "0x123")
	assert.ErrorIs(t, err, walleterr.ErrInvalidParameter)
}

func TestBalanceRPC(t *testing.T) {
	addr := common.HexToAddress(recipient)
	wei, ok := new(big.Int).SetString("350003576885437676061958", 10)
	require.True(t, ok)
	node := &balanceRPC{balances: map[common.Address]*big.Int{addr: wei}}
	e, srv := newTestEngine(t, WithRPC(node))

	balance, err := e.BalanceRPC(context.Background(), recipient)
	require.NoError(t, err)
	assert.Equal(t, 350003.577, balance)
	assert.Empty(t, srv.Requests(), "rpc balance must not hit the indexer")

	balance, err = e.BalanceRPC(context.Background(), "0x0000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Zero(t, balance)

	_, err = e.BalanceRPC(context.Background(), "0x123")
	assert.ErrorIs(t, err, walleterr.ErrInvalidParameter)

	node.err = rpc.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}
	_, err = e.BalanceRPC(context.Background(), recipient)
	assert.ErrorIs(t, err, walleterr.ErrNetwork)
	var netErr *walleterr.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, 502, netErr.StatusCode)
}

func TestBalanceRPC_ProviderWithoutBalances(t *testing.T) {
	e, _ := newTestEngine(t, WithRPC(&mockRPC{}))

	_, err := e.BalanceRPC(context.Background(), recipient)
	assert.ErrorIs(t, err, walleterr.ErrInvalidParameter)
}

func TestTransact_MainAccount(t *testing.T) {
	node := &mockRPC{nonce: 2}
	e, _ := newTestEngine(t, WithRPC(node))
	a, err := e.NewAccount(password)
	require.NoError(t, err)

	hash, err := e.Transact(context.Background(), models.SendRequest{To: recipient, Value: big.NewInt(100)})
	require.NoError(t, err)
	require.Len(t, node.sent, 1)
	assert.Equal(t, hash, node.sent[0].Hash())
	assert.Equal(t, uint64(2), node.sent[0].Nonce())
	assert.Equal(t, uint64(25_000), node.sent[0].Gas())
	assert.Equal(t, big.NewInt(5_000_000_000), node.sent[0].GasPrice())

	from, err := types.Sender(types.NewEIP155Signer(e.Chain().BigID()), node.sent[0])
	require.NoError(t, err)
	addr, _ := a.Address()
	assert.Equal(t, addr, from)
}

func TestTransact_ExplicitSenderMustBeUnlocked(t *testing.T) {
	node := &mockRPC{}
	e, _ := newTestEngine(t, WithRPC(node))
	_, err := e.NewAccount(password)
	require.NoError(t, err)
	second, err := e.NewAccount(password)
	require.NoError(t, err)
	addr, _ := second.Address()
	second.Lock()

	_, err = e.Transact(context.Background(), models.SendRequest{To: recipient, Sender: addr.Hex()})
	assert.ErrorIs(t, err, walleterr.ErrAccountLocked)
	assert.Empty(t, node.sent)

	_, err = e.UnlockAccount(addr.Hex(), password)
	require.NoError(t, err)
	_, err = e.Transact(context.Background(), models.SendRequest{To: recipient, Sender: addr.Hex()})
	require.NoError(t, err)

	from, err := types.Sender(types.NewEIP155Signer(e.Chain().BigID()), node.sent[0])
	require.NoError(t, err)
	assert.Equal(t, addr, from)
}

func TestTransact_NoAccounts(t *testing.T) {
	e, _ := newTestEngine(t, WithRPC(&mockRPC{}))
	_, err := e.Transact(context.Background(), models.SendRequest{To: recipient})
	assert.ErrorIs(t, err, walleterr.ErrAccountNotFound)

	_, err = e.Transact(context.Background(), models.SendRequest{To: recipient, Sender: "bogus"})
	assert.ErrorIs(t, err, walleterr.ErrInvalidParameter)
}
