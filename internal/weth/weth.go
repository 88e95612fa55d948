// Package weth encodes WETH9 calls and reads wallet balances in both the
// native and the wrapped asset.
package weth

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ABIJSON is the subset of the WETH9 interface the cycler uses.
const ABIJSON = `[
	{"constant":false,"inputs":[],"name":"deposit","outputs":[],"payable":true,"stateMutability":"payable","type":"function"},
	{"constant":false,"inputs":[{"name":"wad","type":"uint256"}],"name":"withdraw","outputs":[],"payable":false,"stateMutability":"nonpayable","type":"function"},
	{"constant":true,"inputs":[{"name":"","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"}
]`

var parsedABI = mustParseABI(ABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("weth: invalid ABI: %v", err))
	}
	return parsed
}

// ABI returns the parsed WETH9 ABI.
func ABI() abi.ABI {
	return parsedABI
}

// PackDeposit encodes deposit(). The wrapped amount travels as tx value.
func PackDeposit() []byte {
	data, err := parsedABI.Pack("deposit")
	if err != nil {
		panic(fmt.Sprintf("weth: pack deposit: %v", err))
	}
	return data
}

// PackWithdraw encodes withdraw(wad).
func PackWithdraw(wad *big.Int) ([]byte, error) {
	if wad == nil || wad.Sign() < 0 {
		return nil, fmt.Errorf("withdraw amount must be non-negative")
	}
	return parsedABI.Pack("withdraw", wad)
}

// PackBalanceOf encodes balanceOf(owner).
func PackBalanceOf(owner common.Address) ([]byte, error) {
	return parsedABI.Pack("balanceOf", owner)
}

// UnpackBalanceOf decodes the uint256 returned by balanceOf.
func UnpackBalanceOf(data []byte) (*big.Int, error) {
	out, err := parsedABI.Unpack("balanceOf", data)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpack balanceOf: got %d values", len(out))
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack balanceOf: unexpected type %T", out[0])
	}
	return bal, nil
}

// Backend is the slice of the JSON-RPC client the Reader needs.
// rpc.Client satisfies it.
type Backend interface {
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	EthCall(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Reader reads native and wrapped balances.
type Reader struct {
	backend Backend
}

// NewReader creates a balance reader over backend.
func NewReader(backend Backend) *Reader {
	return &Reader{backend: backend}
}

// NativeBalance returns addr's native balance in wei.
func (r *Reader) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := r.backend.GetBalance(ctx, addr.Hex())
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance %s: %w", addr.Hex(), err)
	}
	return bal, nil
}

// TokenBalance returns owner's balance of token via balanceOf.
func (r *Reader) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	out, err := r.backend.EthCall(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s on %s: %w", owner.Hex(), token.Hex(), err)
	}
	return UnpackBalanceOf(out)
}
