package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

var (
	ErrTxReverted = errors.New("transaction reverted")
)

// gasBufferPercent is added on top of the node's estimate.
const gasBufferPercent = 20

type Transactor struct {
	wallet  Wallet
	backend ChainBackend
	conf    *RPCConf
}

func NewTransactor(wallet Wallet, backend ChainBackend, conf *RPCConf) *Transactor {
	return &Transactor{wallet: wallet, backend: backend, conf: conf}
}

// Send packs method, estimates gas and hands the transaction to the wallet.
func (t *Transactor) Send(ctx context.Context, from, to common.Address, contractABI *abi.ABI, method string, args ...interface{}) (*PendingTx, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate %s: %w", method, err)
	}
	gas = gas * (100 + gasBufferPercent) / 100

	hash, err := t.wallet.SendTransaction(ctx, &TxRequest{From: from, To: to, Data: data, Gas: gas})
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	Log.Info("transaction submitted", zap.String("method", method), zap.Stringer("hash", hash), zap.Stringer("from", from))
	return &PendingTx{
		Hash:    hash,
		Method:  method,
		From:    from,
		backend: t.backend,
		conf:    t.conf,
	}, nil
}

// PendingTx is a broadcast transaction whose receipt may not exist yet.
type PendingTx struct {
	Hash   common.Hash
	Method string
	From   common.Address

	backend ChainBackend
	conf    *RPCConf
}

func (p *PendingTx) getReceipt(ctx context.Context) (*types.Receipt, error) {
	receipt, err := p.backend.TransactionReceipt(ctx, p.Hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) || IsRetryableErr(err) {
			return nil, err
		}
		return nil, retry.Unrecoverable(err)
	}
	if receipt == nil {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// Wait blocks until the transaction is mined, ctx ends or the receipt timeout elapses.
func (p *PendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, p.conf.receiptTimeout())
	defer cancel()

	receipt, err := retry.DoWithData(func() (*types.Receipt, error) {
		return p.getReceipt(ctxWithTimeout)
	},
		infiniteAttempts,
		retry.Delay(p.conf.receiptPoll()),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctxWithTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("wait %s %s: %w", p.Method, p.Hash.Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s %s", ErrTxReverted, p.Method, p.Hash.Hex())
	}

	Log.Info("transaction confirmed", zap.String("method", p.Method), zap.Stringer("hash", p.Hash), zap.Uint64("gasUsed", receipt.GasUsed))
	return receipt, nil
}
