package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// contractCall assembles a call to contract carrying value and data, typed
// by p.UseLegacy. Legacy calls pay p.GasFeeCap as gas price.
func contractCall(p TxParams, contract common.Address, value *big.Int, gas uint64, data []byte) *types.Transaction {
	var inner types.TxData
	if p.UseLegacy {
		inner = &types.LegacyTx{
			Nonce:    p.Nonce,
			GasPrice: p.GasFeeCap,
			Gas:      gas,
			To:       &contract,
			Value:    value,
			Data:     data,
		}
	} else {
		inner = &types.DynamicFeeTx{
			ChainID:   p.ChainID,
			Nonce:     p.Nonce,
			GasTipCap: p.GasTipCap,
			GasFeeCap: p.GasFeeCap,
			Gas:       gas,
			To:        &contract,
			Value:     value,
			Data:      data,
		}
	}
	return types.NewTx(inner)
}
