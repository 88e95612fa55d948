// Package pipeline provides transaction lifecycle management: nonce
// reservation, build, sign, send and receipt polling.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/wrapcycler/internal/account"
	"github.com/gateway-fm/wrapcycler/internal/rpc"
	"github.com/gateway-fm/wrapcycler/internal/txbuilder"
	ptypes "github.com/gateway-fm/wrapcycler/pkg/types"
)

var (
	// ErrReverted is returned when a mined transaction has status 0.
	ErrReverted = errors.New("transaction reverted")

	// ErrConfirmTimeout is returned when no receipt arrives within the
	// configured confirmation timeout.
	ErrConfirmTimeout = errors.New("timed out waiting for receipt")
)

// DefaultPollInterval is how often receipts are polled while waiting.
const DefaultPollInterval = time.Second

// Config for creating a Pipeline.
type Config struct {
	Client    rpc.Client
	Registry  *txbuilder.Registry
	ChainID   *big.Int
	GasTipCap *big.Int
	GasFeeCap *big.Int // nil or zero: 2*baseFee + tip, or eth_gasPrice for legacy
	UseLegacy bool     // Use legacy (type 0) transactions instead of EIP-1559

	// ConfirmTimeout bounds AwaitConfirmation. Zero waits until the context ends.
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Logger         *slog.Logger
}

// Pipeline handles the complete transaction lifecycle.
type Pipeline struct {
	client         rpc.Client
	registry       *txbuilder.Registry
	signer         types.Signer
	chainID        *big.Int
	gasTipCap      *big.Int
	gasFeeCap      *big.Int
	useLegacy      bool
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
}

// New creates a new Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	tip := cfg.GasTipCap
	if tip == nil {
		tip = new(big.Int)
	}

	return &Pipeline{
		client:         cfg.Client,
		registry:       cfg.Registry,
		signer:         types.LatestSignerForChainID(cfg.ChainID),
		chainID:        cfg.ChainID,
		gasTipCap:      tip,
		gasFeeCap:      cfg.GasFeeCap,
		useLegacy:      cfg.UseLegacy,
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   pollInterval,
		logger:         logger,
	}
}

// Submit builds, signs and sends one operation for acc and returns the
// transaction hash. The nonce is resynced from the pending state first and
// released again if anything before a successful send fails.
func (p *Pipeline) Submit(ctx context.Context, acc *account.Account, kind ptypes.OperationKind, amount *big.Int) (common.Hash, error) {
	builder, err := p.registry.Get(kind)
	if err != nil {
		return common.Hash{}, err
	}

	if err := acc.Resync(ctx, p.client); err != nil {
		return common.Hash{}, fmt.Errorf("resync nonce: %w", err)
	}

	tip, feeCap, err := p.fees(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas fees: %w", err)
	}

	n := acc.ReserveNonce()
	defer n.Rollback()

	tx, err := builder.Build(txbuilder.TxParams{
		ChainID:   p.chainID,
		Nonce:     n.Value(),
		GasTipCap: tip,
		GasFeeCap: feeCap,
		UseLegacy: p.useLegacy,
		Amount:    amount,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("build: %w", err)
	}

	signed, err := types.SignTx(tx, p.signer, acc.PrivateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}

	data, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode: %w", err)
	}

	if _, err := p.client.SendRawTransaction(ctx, data); err != nil {
		return common.Hash{}, fmt.Errorf("send: %w", err)
	}
	n.Commit()

	p.logger.Debug("transaction sent",
		slog.String("wallet", acc.Short()),
		slog.String("kind", string(kind)),
		slog.String("hash", signed.Hash().Hex()),
		slog.Uint64("nonce", n.Value()),
	)
	return signed.Hash(), nil
}

// fees returns the tip and fee cap (gas price for legacy) for the next tx.
func (p *Pipeline) fees(ctx context.Context) (*big.Int, *big.Int, error) {
	if p.gasFeeCap != nil && p.gasFeeCap.Sign() > 0 {
		return p.gasTipCap, p.gasFeeCap, nil
	}

	if p.useLegacy {
		price, err := p.client.GetGasPrice(ctx)
		if err != nil {
			return nil, nil, err
		}
		return p.gasTipCap, new(big.Int).SetUint64(price), nil
	}

	baseFee, err := p.client.GetBaseFee(ctx)
	if err != nil {
		return nil, nil, err
	}
	feeCap := new(big.Int).SetUint64(baseFee)
	feeCap.Mul(feeCap, big.NewInt(2))
	feeCap.Add(feeCap, p.gasTipCap)
	return p.gasTipCap, feeCap, nil
}

// AwaitConfirmation polls for the receipt of hash until it is mined, the
// confirmation timeout elapses, or ctx is done. Transient RPC errors while
// polling are logged and polling continues.
func (p *Pipeline) AwaitConfirmation(ctx context.Context, hash common.Hash) error {
	var timeoutCh <-chan time.Time
	if p.confirmTimeout > 0 {
		timer := time.NewTimer(p.confirmTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCh:
			return fmt.Errorf("%w after %s: %s", ErrConfirmTimeout, p.confirmTimeout, hash.Hex())
		case <-ticker.C:
			receipt, err := p.client.GetTransactionReceipt(ctx, hash.Hex())
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Debug("receipt poll failed",
					slog.String("hash", hash.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if receipt == nil {
				continue
			}
			if !receipt.Succeeded() {
				return fmt.Errorf("%w in block %d: %s", ErrReverted, receipt.BlockNumber, hash.Hex())
			}
			return nil
		}
	}
}
