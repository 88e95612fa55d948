// Package txbuilder builds the unsigned transactions for each operation kind.
package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	ptypes "github.com/gateway-fm/wrapcycler/pkg/types"
)

// DefaultGasLimit covers deposit() and withdraw(uint256) on WETH9 with headroom.
const DefaultGasLimit uint64 = 60_000

// TxParams holds parameters for building a transaction.
type TxParams struct {
	ChainID   *big.Int
	Nonce     uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int // gas price for legacy transactions
	UseLegacy bool
	Amount    *big.Int // wei to wrap or unwrap
}

func (p TxParams) validate() error {
	if p.ChainID == nil || p.ChainID.Sign() == 0 {
		return fmt.Errorf("ChainID must be non-nil and non-zero")
	}
	if p.Amount == nil || p.Amount.Sign() < 0 {
		return fmt.Errorf("amount must be non-negative")
	}
	if p.GasFeeCap == nil {
		return fmt.Errorf("GasFeeCap must be set")
	}
	if !p.UseLegacy && p.GasTipCap == nil {
		return fmt.Errorf("GasTipCap must be set for dynamic fee transactions")
	}
	return nil
}

// Builder builds transactions for one operation kind.
type Builder interface {
	// Kind returns the operation this builder serves.
	Kind() ptypes.OperationKind

	// GasLimit returns the gas limit for this operation.
	GasLimit() uint64

	// Build creates an unsigned transaction.
	Build(params TxParams) (*types.Transaction, error)
}

// Registry manages builder lookup by operation kind.
type Registry struct {
	builders map[ptypes.OperationKind]Builder
}

// NewRegistry creates a new builder registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[ptypes.OperationKind]Builder),
	}
}

// Register adds a builder to the registry, replacing any builder for the same kind.
func (r *Registry) Register(builder Builder) {
	r.builders[builder.Kind()] = builder
}

// Get returns the builder for kind.
func (r *Registry) Get(kind ptypes.OperationKind) (Builder, error) {
	builder, ok := r.builders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown operation kind: %s", kind)
	}
	return builder, nil
}

// NewDefaultRegistry creates a registry with the wrap and unwrap builders for
// the given WETH contract. Zero gas limits fall back to DefaultGasLimit.
func NewDefaultRegistry(weth common.Address, wrapGas, unwrapGas uint64) *Registry {
	r := NewRegistry()
	r.Register(NewWrapBuilder(weth, wrapGas))
	r.Register(NewUnwrapBuilder(weth, unwrapGas))
	return r
}
