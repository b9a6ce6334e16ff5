package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"memebank/abi_instance"
)

type Token struct {
	ChainID  uint64         `json:"chainId"`
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

func (t *Token) MarshalBinary() ([]byte, error) {
	return json.Marshal(t)
}

func (t *Token) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, t)
}

func (t *Token) Format(v *big.Int) string {
	return FormatAmount(v, int32(t.Decimals))
}

func (t *Token) Parse(s string) (*big.Int, error) {
	return ParseAmount(s, int32(t.Decimals))
}

// ERC20 is a read binding for one token; approvals go through the Transactor.
type ERC20 struct {
	address common.Address
	caller  *ContractCaller
}

func NewERC20(address common.Address, caller *ContractCaller) *ERC20 {
	return &ERC20{address: address, caller: caller}
}

func (e *ERC20) Address() common.Address {
	return e.address
}

func (e *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return e.caller.CallBigInt(ctx, e.address, abi_instance.ERC20ABI, "balanceOf", account)
}

func (e *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return e.caller.CallBigInt(ctx, e.address, abi_instance.ERC20ABI, "allowance", owner, spender)
}

func (e *ERC20) Decimals(ctx context.Context) (uint8, error) {
	outputs, err := e.caller.Call(ctx, e.address, abi_instance.ERC20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	v, ok := outputs[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected output type %T", outputs[0])
	}
	return v, nil
}

func (e *ERC20) Symbol(ctx context.Context) (string, error) {
	outputs, err := e.caller.Call(ctx, e.address, abi_instance.ERC20ABI, "symbol")
	if err != nil {
		return "", err
	}
	v, ok := outputs[0].(string)
	if !ok {
		return "", fmt.Errorf("symbol: unexpected output type %T", outputs[0])
	}
	return v, nil
}

// Metadata resolves symbol and decimals through the cache. Tokens that revert
// or return nothing for decimals() fall back to 18, as the lending contract
// assumes. Any other failure is returned and nothing is cached.
func (e *ERC20) Metadata(ctx context.Context, chainID uint64, fallbackSymbol string, cache TokenCache) (*Token, error) {
	if t, ok := cache.GetToken(chainID, e.address); ok {
		return t, nil
	}

	decimals, err := e.Decimals(ctx)
	if err != nil {
		if ctx.Err() != nil || (IsRetryableErr(err) && !errors.Is(err, ErrEmptyOutput)) {
			return nil, err
		}
		Log.Warn("token decimals unavailable, assuming 18", zap.Stringer("token", e.address), zap.Error(err))
		decimals = DefaultDecimals
	}

	symbol, err := e.Symbol(ctx)
	if err != nil || symbol == "" {
		symbol = fallbackSymbol
	}

	t := &Token{ChainID: chainID, Address: e.address, Symbol: symbol, Decimals: decimals}
	cache.SetToken(t)
	return t, nil
}
