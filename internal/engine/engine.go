// Package engine is the host-facing facade of the wallet: account lifecycle,
// balance and history lookups, and sending transactions on the configured
// chain.
//
// Every method blocks on disk or network I/O and none of them starts
// goroutines. Hosts with latency-sensitive threads should call the engine
// from a worker of their own, and must serialize Transact calls per sender.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/OKaluzny/wallet-engine/internal/account"
	"github.com/OKaluzny/wallet-engine/internal/config"
	"github.com/OKaluzny/wallet-engine/internal/indexer"
	"github.com/OKaluzny/wallet-engine/internal/keystore"
	"github.com/OKaluzny/wallet-engine/internal/tx"
	"github.com/OKaluzny/wallet-engine/internal/walleterr"
	"github.com/OKaluzny/wallet-engine/pkg/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Engine wires the keystore, the indexer client and the transaction builder
// for one chain.
type Engine struct {
	cfg     config.Config
	chain   models.Chain
	store   *keystore.Store
	indexer *indexer.Client
	logger  *zap.Logger

	mu      sync.Mutex
	rpc     tx.RPC
	client  *ethclient.Client // set when the engine dialed rpc itself
	builder *tx.Builder
}

// BalanceReader is an RPC provider that can read account balances, such as
// *ethclient.Client.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRPC uses rpc for nonces and broadcasts instead of dialing the chain's
// RPC URL.
func WithRPC(rpc tx.RPC) Option {
	return func(e *Engine) { e.rpc = rpc }
}

// New validates cfg and builds an engine. No network connection is made
// until the first Transact or BalanceRPC.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	chain, err := cfg.ChainInfo()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:   cfg,
		chain: chain,
		store: keystore.New(cfg.KeystoreDir, logger),
		indexer: indexer.New(indexer.Config{
			APIKey:     cfg.EtherscanAPIKey,
			UserAgent:  cfg.UserAgent,
			Timeout:    cfg.HTTPTimeout,
			MaxRetries: cfg.IndexerMaxRetries,
		}, logger),
		logger: logger.With(zap.String("component", "engine"), zap.String("chain", chain.Name)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close releases the RPC connection, if the engine opened one.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		e.client.Close()
		e.client = nil
		e.rpc = nil
		e.builder = nil
	}
}

// Chain returns the resolved chain descriptor.
func (e *Engine) Chain() models.Chain {
	return e.chain
}

// Store exposes the underlying account store.
func (e *Engine) Store() *keystore.Store {
	return e.store
}

// NewAccount creates and stores an account, applying the configured
// security ratio when set.
func (e *Engine) NewAccount(password string) (*account.Account, error) {
	return e.store.NewAccount(password, e.keyOptions()...)
}

// ImportMnemonic stores the account derived at index from mnemonic.
func (e *Engine) ImportMnemonic(mnemonic, passphrase string, index uint32, password string) (*account.Account, error) {
	return e.store.ImportMnemonic(mnemonic, passphrase, index, password, e.keyOptions()...)
}

func (e *Engine) keyOptions() []keystore.Option {
	if e.cfg.SecurityRatio == 0 {
		return nil
	}
	return []keystore.Option{keystore.WithSecurityRatio(e.cfg.SecurityRatio)}
}

// Accounts lists the keystore.
func (e *Engine) Accounts() ([]*account.Account, error) {
	return e.store.ListAccounts()
}

// MainAccount returns the first account of the keystore, the default sender.
func (e *Engine) MainAccount() (*account.Account, error) {
	accounts, err := e.store.ListAccounts()
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: keystore is empty", walleterr.ErrAccountNotFound)
	}
	return accounts[0], nil
}

// Account returns the account stored for a hex address.
func (e *Engine) Account(address string) (*account.Account, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return e.store.GetByAddress(addr)
}

// UnlockAccount looks up address and unlocks it with password.
func (e *Engine) UnlockAccount(address, password string) (*account.Account, error) {
	a, err := e.Account(address)
	if err != nil {
		return nil, err
	}
	if err := a.Unlock(password); err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteAccount moves the account's keyfile to the trash directory.
func (e *Engine) DeleteAccount(a *account.Account) error {
	return e.store.DeleteAccount(a)
}

// UpdateAccountPassword re-encrypts a under newPassword. currentPassword is
// only needed when a is locked.
func (e *Engine) UpdateAccountPassword(a *account.Account, newPassword, currentPassword string) error {
	return e.store.UpdateAccountPassword(a, newPassword, currentPassword)
}

// Balance returns the balance of address in ether, rounded to
// models.RoundDigits decimals.
func (e *Engine) Balance(ctx context.Context, address string) (float64, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return 0, err
	}
	return e.indexer.GetBalance(ctx, addr, e.chain)
}

// BalanceRPC returns the latest balance of address read from the RPC
// provider rather than the indexer, in ether rounded to models.RoundDigits
// decimals.
func (e *Engine) BalanceRPC(ctx context.Context, address string) (float64, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	err = e.dialLocked(ctx)
	provider := e.rpc
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}
	reader, ok := provider.(BalanceReader)
	if !ok {
		return 0, fmt.Errorf("%w: no rpc provider able to read balances", walleterr.ErrInvalidParameter)
	}

	wei, err := reader.BalanceAt(ctx, addr, nil)
	if err != nil {
		return 0, tx.MapRPCError(err)
	}
	return models.WeiToEther(wei, models.RoundDigits), nil
}

// History returns the annotated transaction history of address, oldest
// first. An address without history yields an empty slice.
func (e *Engine) History(ctx context.Context, address string) ([]models.Transaction, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return e.indexer.GetTransactionHistory(ctx, addr, e.chain)
}

// Nonce returns the indexer's count of transactions sent by address.
func (e *Engine) Nonce(ctx context.Context, address string) (uint64, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return 0, err
	}
	return e.indexer.GetNonce(ctx, addr, e.chain)
}

// Transact signs req with the sender's account and broadcasts it. The sender
// is req.Sender, or the main account when empty. The account must have been
// unlocked by the caller.
func (e *Engine) Transact(ctx context.Context, req models.SendRequest) (common.Hash, error) {
	var (
		sender *account.Account
		err    error
	)
	if req.Sender != "" {
		sender, err = e.Account(req.Sender)
	} else {
		sender, err = e.MainAccount()
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("resolve sender: %w", err)
	}

	b, err := e.txBuilder(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	return b.Transact(ctx, sender, req)
}

func (e *Engine) txBuilder(ctx context.Context) (*tx.Builder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.builder != nil {
		return e.builder, nil
	}
	if err := e.dialLocked(ctx); err != nil {
		return nil, err
	}
	e.builder = tx.NewBuilder(tx.BuilderConfig{
		Chain:    e.chain,
		GasLimit: e.cfg.GasLimit,
		GasPrice: e.cfg.GasPrice(),
	}, e.rpc, e.indexer, e.logger)
	return e.builder, nil
}

// dialLocked connects to the chain's RPC URL unless a provider is already
// set. e.mu must be held.
func (e *Engine) dialLocked(ctx context.Context) error {
	if e.rpc != nil || e.chain.RPCURL == "" {
		return nil
	}
	client, err := ethclient.DialContext(ctx, e.chain.RPCURL)
	if err != nil {
		return &walleterr.NetworkError{Err: fmt.Errorf("dial %s: %w", e.chain.RPCURL, err)}
	}
	e.client = client
	e.rpc = client
	e.logger.Info("connected to rpc provider", zap.String("url", e.chain.RPCURL))
	return nil
}

// ParseAddress parses a 0x-prefixed or bare hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", walleterr.ErrInvalidParameter, s)
	}
	return common.HexToAddress(s), nil
}
