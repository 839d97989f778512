package tx

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"

	"github.com/OKaluzny/wallet-engine/internal/account"
	"github.com/OKaluzny/wallet-engine/internal/wallet"
	"github.com/OKaluzny/wallet-engine/internal/walleterr"
	"github.com/OKaluzny/wallet-engine/pkg/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

const (
	// DefaultGasLimit covers a plain value transfer with some headroom.
	DefaultGasLimit uint64 = 25_000
	// DefaultGasPriceGwei is used when BuilderConfig.GasPrice is nil.
	DefaultGasPriceGwei int64 = 5
)

// JSON-RPC codes nodes return when the sender cannot cover value + gas.
var insufficientFundsCodes = map[int]bool{
	-32000: true,
	-32010: true,
}

// RPC is the subset of a JSON-RPC provider the builder needs.
// *ethclient.Client satisfies it.
type RPC interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// NonceSource derives a nonce from indexed history.
type NonceSource interface {
	GetNonce(ctx context.Context, address common.Address, chain models.Chain) (uint64, error)
}

// BuilderConfig holds configurable parameters for the transaction builder.
type BuilderConfig struct {
	Chain    models.Chain
	GasLimit uint64
	GasPrice *big.Int // wei
}

// Builder assembles, signs and broadcasts transactions.
//
// Builder does not serialize sends. Callers issuing concurrent sends for the
// same sender must do so one at a time, otherwise both may pick up the same
// nonce.
type Builder struct {
	cfg    BuilderConfig
	rpc    RPC
	nonces NonceSource
	signer wallet.Signer
	logger *zap.Logger
}

// NewBuilder creates a builder. rpc may be nil, in which case nonces come
// from the indexer and Transact cannot broadcast.
func NewBuilder(cfg BuilderConfig, rpc RPC, nonces NonceSource, logger *zap.Logger) *Builder {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultGasLimit
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = models.GweiToWei(DefaultGasPriceGwei)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		cfg:    cfg,
		rpc:    rpc,
		nonces: nonces,
		signer: wallet.NewETHSigner(cfg.Chain.BigID()),
		logger: logger.With(zap.String("component", "tx_builder"), zap.String("chain", cfg.Chain.Name)),
	}
}

// RegisterSigner replaces the default EIP-155 signer.
func (b *Builder) RegisterSigner(signer wallet.Signer) {
	b.signer = signer
}

// Transact sends req from acct and returns the transaction hash. acct must be
// unlocked. Nonce lookup, signing and broadcast happen strictly in that
// order; a failed broadcast is returned as is and never retried.
func (b *Builder) Transact(ctx context.Context, acct *account.Account, req models.SendRequest) (common.Hash, error) {
	signed, err := b.Build(ctx, acct, req)
	if err != nil {
		return common.Hash{}, err
	}
	if err := b.broadcast(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("broadcast: %w", err)
	}
	return signed.Hash(), nil
}

// Build resolves the nonce and returns the signed transaction without
// broadcasting it.
func (b *Builder) Build(ctx context.Context, acct *account.Account, req models.SendRequest) (*types.Transaction, error) {
	if acct == nil {
		return nil, fmt.Errorf("%w: no sender account", walleterr.ErrInvalidParameter)
	}
	if acct.Locked() {
		return nil, fmt.Errorf("%w: sender %s", walleterr.ErrAccountLocked, acct)
	}
	sender, ok := acct.Address()
	if !ok {
		return nil, fmt.Errorf("%w: sender address unknown", walleterr.ErrAccountLocked)
	}
	if req.Sender != "" {
		if !common.IsHexAddress(req.Sender) || common.HexToAddress(req.Sender) != sender {
			return nil, fmt.Errorf("%w: sender %q does not match account", walleterr.ErrInvalidParameter, req.Sender)
		}
	}
	if !common.IsHexAddress(req.To) {
		return nil, fmt.Errorf("%w: recipient %q", walleterr.ErrInvalidParameter, req.To)
	}
	to := common.HexToAddress(req.To)
	value := new(big.Int)
	if req.Value != nil {
		if req.Value.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative value", walleterr.ErrInvalidParameter)
		}
		value.Set(req.Value)
	}
	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit = b.cfg.GasLimit
	}
	gasPrice := b.cfg.GasPrice
	if req.GasPrice != nil {
		gasPrice = req.GasPrice
	}

	nonce, err := b.nonce(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: new(big.Int).Set(gasPrice),
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     append([]byte(nil), req.Data...),
	})

	b.logger.Info("building transaction",
		zap.String("from", sender.Hex()),
		zap.String("to", to.Hex()),
		zap.Stringer("value", value),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gasLimit),
		zap.Stringer("gas_price", gasPrice),
	)

	key, err := acct.PrivateKey()
	if err != nil {
		return nil, err
	}
	defer clear(key)

	signed, err := b.signer.Sign(ctx, tx, key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return signed, nil
}

// nonce prefers the node's pending transaction count and falls back to the
// number of outgoing transactions the indexer has seen.
func (b *Builder) nonce(ctx context.Context, sender common.Address) (uint64, error) {
	if b.rpc != nil {
		n, err := b.rpc.PendingNonceAt(ctx, sender)
		if err == nil {
			return n, nil
		}
		if b.nonces == nil {
			return 0, MapRPCError(err)
		}
		b.logger.Warn("rpc nonce unavailable, falling back to indexer",
			zap.String("address", sender.Hex()),
			zap.Error(err),
		)
	}
	if b.nonces == nil {
		return 0, fmt.Errorf("%w: no nonce source configured", walleterr.ErrInvalidParameter)
	}
	return b.nonces.GetNonce(ctx, sender, b.cfg.Chain)
}

func (b *Builder) broadcast(ctx context.Context, tx *types.Transaction) error {
	if b.rpc == nil {
		return fmt.Errorf("%w: no rpc provider configured", walleterr.ErrInvalidParameter)
	}
	if err := b.rpc.SendTransaction(ctx, tx); err != nil {
		mapped := MapRPCError(err)
		b.logger.Warn("broadcast failed",
			zap.String("tx_hash", tx.Hash().Hex()),
			zap.Uint64("nonce", tx.Nonce()),
			zap.Error(mapped),
		)
		return mapped
	}
	b.logger.Info("transaction broadcast", zap.String("tx_hash", tx.Hash().Hex()))
	return nil
}

// MapRPCError converts a node provider error into the walleterr taxonomy.
func MapRPCError(err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		code := rpcErr.ErrorCode()
		return &walleterr.RemoteError{
			Code:         code,
			Message:      rpcErr.Error(),
			Payload:      err,
			Insufficient: insufficientFundsCodes[code],
		}
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return &walleterr.NetworkError{StatusCode: httpErr.StatusCode, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &walleterr.NetworkError{Err: err}
	}
	return &walleterr.RemoteError{Message: err.Error(), Payload: err}
}
