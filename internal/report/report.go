// Package report values wallets' combined native and wrapped holdings in a
// reference currency.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/wrapcycler/internal/account"
	"github.com/gateway-fm/wrapcycler/internal/scheduler"
	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// weiDecimals is the ether/wei exponent.
const weiDecimals = 18

// PriceSource quotes the spot price of an asset.
type PriceSource interface {
	Price(ctx context.Context, assetID string) (decimal.Decimal, error)
}

// BalanceGauge receives each wallet's valuation.
type BalanceGauge interface {
	SetWalletBalance(wallet, phase string, usd float64)
}

// Config configures a Reporter.
type Config struct {
	Ledger  scheduler.Ledger
	Token   common.Address
	Prices  PriceSource
	AssetID string       // e.g. "ethereum"
	Gauge   BalanceGauge // optional
	Logger  *slog.Logger
}

// Reporter implements scheduler.Reporter.
type Reporter struct {
	ledger  scheduler.Ledger
	token   common.Address
	prices  PriceSource
	assetID string
	gauge   BalanceGauge
	logger  *slog.Logger
}

var _ scheduler.Reporter = (*Reporter)(nil)

// New creates a Reporter.
func New(cfg Config) *Reporter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	assetID := cfg.AssetID
	if assetID == "" {
		assetID = "ethereum"
	}
	return &Reporter{
		ledger:  cfg.Ledger,
		token:   cfg.Token,
		prices:  cfg.Prices,
		assetID: assetID,
		gauge:   cfg.Gauge,
		logger:  logger,
	}
}

// Report values every wallet at the current price, fetched once per pass.
// A wallet whose balances cannot be read is left out and its error joined
// into the returned error; the others are still reported.
func (r *Reporter) Report(ctx context.Context, phase string, wallets []*account.Account) ([]types.WalletBalance, error) {
	price, err := r.prices.Price(ctx, r.assetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", scheduler.ErrPriceLookup, r.assetID, err)
	}

	results := make([]*types.WalletBalance, len(wallets))
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for i, acc := range wallets {
		g.Go(func() error {
			wb, err := r.value(ctx, acc, price)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			results[i] = wb
			return nil
		})
	}
	_ = g.Wait()

	label := phaseLabel(phase)
	out := make([]types.WalletBalance, 0, len(wallets))
	for _, wb := range results {
		if wb == nil {
			continue
		}
		r.logger.Info(fmt.Sprintf("%s balance for %s: %.2f$", label, wb.Wallet, wb.USD),
			slog.String("phase", phase),
			slog.String("native", wb.Native),
			slog.String("wrapped", wb.Wrapped),
			slog.String("price", price.String()),
		)
		if r.gauge != nil {
			r.gauge.SetWalletBalance(wb.Wallet, phase, wb.USD)
		}
		out = append(out, *wb)
	}
	return out, errors.Join(errs...)
}

func (r *Reporter) value(ctx context.Context, acc *account.Account, price decimal.Decimal) (*types.WalletBalance, error) {
	var native, wrapped *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		native, err = r.ledger.NativeBalance(gctx, acc.Address)
		return err
	})
	g.Go(func() error {
		var err error
		wrapped, err = r.ledger.TokenBalance(gctx, r.token, acc.Address)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", scheduler.ErrBalanceRead, acc.Short(), err)
	}

	nativeEth := ToEther(native)
	wrappedEth := ToEther(wrapped)
	usd := Value(native, wrapped, price)
	return &types.WalletBalance{
		Wallet:  acc.Short(),
		Native:  nativeEth.String(),
		Wrapped: wrappedEth.String(),
		USD:     usd.Round(2).InexactFloat64(),
	}, nil
}

// ToEther converts wei to ether.
func ToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -weiDecimals)
}

// Value returns (native + wrapped) in ether multiplied by price.
func Value(native, wrapped *big.Int, price decimal.Decimal) decimal.Decimal {
	return ToEther(native).Add(ToEther(wrapped)).Mul(price)
}

func phaseLabel(phase string) string {
	if phase == "" {
		return "Current"
	}
	return strings.ToUpper(phase[:1]) + phase[1:]
}
