package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChainBackend is the subset of *ethclient.Client the client needs.
type ChainBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

var _ ChainBackend = (*ethclient.Client)(nil)

var (
	ErrEmptyOutput = errors.New("empty output")
)

type ContractCaller struct {
	backend ChainBackend
	limiter *rate.Limiter
	conf    *RPCConf
}

func DialBackend(ctx context.Context, url string) (*ethclient.Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("rpc endpoint required")
	}
	return ethclient.DialContext(ctx, url)
}

func NewContractCaller(backend ChainBackend, conf *RPCConf) *ContractCaller {
	limit := rate.Inf
	if conf.RateLimit > 0 {
		limit = rate.Limit(conf.RateLimit)
	}
	burst := conf.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ContractCaller{
		backend: backend,
		limiter: rate.NewLimiter(limit, burst),
		conf:    conf,
	}
}

func IsRetryableErr(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	errMsg := err.Error()
	if strings.Contains(errMsg, "execution reverted") ||
		strings.Contains(errMsg, "out of gas") ||
		strings.Contains(errMsg, "insufficient funds") ||
		strings.Contains(errMsg, "abi: cannot marshal in to go slice") {
		return false
	}
	return true
}

func (c *ContractCaller) callContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retry.Unrecoverable(err)
	}

	bytes, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		if IsRetryableErr(err) {
			return nil, err
		}
		return nil, retry.Unrecoverable(err)
	}

	return bytes, nil
}

func (c *ContractCaller) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, c.conf.callTimeout())
	defer cancel()

	opts := append(rpcRetryOptions(c.conf), retry.Context(ctxWithTimeout))
	return retry.DoWithData(func() ([]byte, error) {
		return c.callContract(ctxWithTimeout, msg)
	}, opts...)
}

// Call packs method with args, performs an eth_call against to and unpacks the outputs.
func (c *ContractCaller) Call(ctx context.Context, to common.Address, contractABI *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	start := time.Now()
	bytes, err := c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data})
	Metrics().rpcLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err == nil && len(bytes) == 0 {
		err = ErrEmptyOutput
	}
	Metrics().rpcCalls.WithLabelValues(method, outcome(err)).Inc()
	if err != nil {
		Log.Debug("contract call failed", zap.String("method", method), zap.Stringer("to", to), zap.Error(err))
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	outputs, err := contractABI.Unpack(method, bytes)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return outputs, nil
}

func (c *ContractCaller) CallBigInt(ctx context.Context, to common.Address, contractABI *abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	outputs, err := c.Call(ctx, to, contractABI, method, args...)
	if err != nil {
		return nil, err
	}
	return outputBigInt(method, outputs, 0)
}

func (c *ContractCaller) CallBool(ctx context.Context, to common.Address, contractABI *abi.ABI, method string, args ...interface{}) (bool, error) {
	outputs, err := c.Call(ctx, to, contractABI, method, args...)
	if err != nil {
		return false, err
	}
	if len(outputs) == 0 {
		return false, fmt.Errorf("%s: %w", method, ErrEmptyOutput)
	}
	v, ok := outputs[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected output type %T", method, outputs[0])
	}
	return v, nil
}

func outputBigInt(method string, outputs []interface{}, i int) (*big.Int, error) {
	if len(outputs) <= i {
		return nil, fmt.Errorf("%s: %w", method, ErrEmptyOutput)
	}
	v, ok := outputs[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output type %T", method, outputs[i])
	}
	return v, nil
}
