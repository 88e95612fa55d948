package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/wrapcycler/internal/weth"
	ptypes "github.com/gateway-fm/wrapcycler/pkg/types"
)

// WrapBuilder builds deposit() calls that carry the amount as value.
type WrapBuilder struct {
	contract common.Address
	gasLimit uint64
}

// NewWrapBuilder creates a wrap builder for the WETH contract.
func NewWrapBuilder(contract common.Address, gasLimit uint64) *WrapBuilder {
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	return &WrapBuilder{contract: contract, gasLimit: gasLimit}
}

// Kind returns OpWrap.
func (b *WrapBuilder) Kind() ptypes.OperationKind {
	return ptypes.OpWrap
}

// GasLimit returns the configured gas limit.
func (b *WrapBuilder) GasLimit() uint64 {
	return b.gasLimit
}

// Build creates a deposit transaction.
func (b *WrapBuilder) Build(params TxParams) (*types.Transaction, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return contractCall(params, b.contract, params.Amount, b.gasLimit, weth.PackDeposit()), nil
}

// UnwrapBuilder builds withdraw(uint256) calls.
type UnwrapBuilder struct {
	contract common.Address
	gasLimit uint64
}

// NewUnwrapBuilder creates an unwrap builder for the WETH contract.
func NewUnwrapBuilder(contract common.Address, gasLimit uint64) *UnwrapBuilder {
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	return &UnwrapBuilder{contract: contract, gasLimit: gasLimit}
}

// Kind returns OpUnwrap.
func (b *UnwrapBuilder) Kind() ptypes.OperationKind {
	return ptypes.OpUnwrap
}

// GasLimit returns the configured gas limit.
func (b *UnwrapBuilder) GasLimit() uint64 {
	return b.gasLimit
}

// Build creates a withdraw transaction with zero value.
func (b *UnwrapBuilder) Build(params TxParams) (*types.Transaction, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	data, err := weth.PackWithdraw(params.Amount)
	if err != nil {
		return nil, fmt.Errorf("encode withdraw: %w", err)
	}
	return contractCall(params, b.contract, new(big.Int), b.gasLimit, data), nil
}
