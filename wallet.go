package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// unrecognizedChainCode is the EIP-3085 error code for a chain the wallet has not registered.
const unrecognizedChainCode = 4902

var (
	ErrUnrecognizedChain = errors.New("unrecognized chain")
	ErrNoAccounts        = errors.New("wallet returned no accounts")
	ErrWrongNetwork      = errors.New("wallet is on a different network")
	ErrNotConnected      = errors.New("wallet not connected")
)

type TxRequest struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// Wallet signs and broadcasts on behalf of the user. Key material never leaves it.
type Wallet interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, n *Network) error
	AddChain(ctx context.Context, n *Network) error
	SendTransaction(ctx context.Context, req *TxRequest) (common.Hash, error)
}

func NewWallet(ctx context.Context, conf *WalletConf, backend ChainBackend) (Wallet, error) {
	switch conf.Kind {
	case WalletKindRPC, "":
		return DialRPCWallet(ctx, conf.Endpoint)
	case WalletKindKeystore:
		return OpenKeystoreWallet(conf.KeystoreDir, conf.Account, os.Getenv(conf.PasswordEnv), backend)
	default:
		return nil, fmt.Errorf("unknown wallet kind %q", conf.Kind)
	}
}

// rpcWallet talks EIP-1193 style JSON-RPC to an external wallet such as Frame.
type rpcWallet struct {
	client *rpc.Client
}

func DialRPCWallet(ctx context.Context, endpoint string) (Wallet, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("wallet endpoint required")
	}
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial wallet: %w", err)
	}
	return NewRPCWallet(client), nil
}

func NewRPCWallet(client *rpc.Client) Wallet {
	return &rpcWallet{client: client}
}

func (w *rpcWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := w.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, fmt.Errorf("eth_requestAccounts: %w", err)
	}
	return accounts, nil
}

func (w *rpcWallet) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := w.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, fmt.Errorf("eth_chainId: %w", err)
	}
	return (*big.Int)(&id), nil
}

type switchChainParams struct {
	ChainID string `json:"chainId"`
}

func (w *rpcWallet) SwitchChain(ctx context.Context, n *Network) error {
	err := w.client.CallContext(ctx, nil, "wallet_switchEthereumChain", switchChainParams{ChainID: n.ChainIDHex()})
	if err == nil {
		return nil
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == unrecognizedChainCode {
		return fmt.Errorf("%w: %s", ErrUnrecognizedChain, n.ChainIDHex())
	}
	return fmt.Errorf("wallet_switchEthereumChain: %w", err)
}

func (w *rpcWallet) AddChain(ctx context.Context, n *Network) error {
	if err := w.client.CallContext(ctx, nil, "wallet_addEthereumChain", n.AddChainParams()); err != nil {
		return fmt.Errorf("wallet_addEthereumChain: %w", err)
	}
	return nil
}

type sendTxArgs struct {
	From  common.Address  `json:"from"`
	To    common.Address  `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
}

func (w *rpcWallet) SendTransaction(ctx context.Context, req *TxRequest) (common.Hash, error) {
	args := sendTxArgs{From: req.From, To: req.To, Data: req.Data}
	if req.Value != nil {
		args.Value = (*hexutil.Big)(req.Value)
	}
	if req.Gas != 0 {
		gas := hexutil.Uint64(req.Gas)
		args.Gas = &gas
	}

	var hash common.Hash
	if err := w.client.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, fmt.Errorf("eth_sendTransaction: %w", err)
	}
	return hash, nil
}

// keystoreWallet signs with an unlocked go-ethereum keystore account and
// broadcasts through the network's RPC backend. It is pinned to that backend's chain.
type keystoreWallet struct {
	mu      sync.Mutex
	ks      *keystore.KeyStore
	account accounts.Account
	backend ChainBackend
}

func OpenKeystoreWallet(dir, address, passphrase string, backend ChainBackend) (Wallet, error) {
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	all := ks.Accounts()
	if len(all) == 0 {
		return nil, fmt.Errorf("%w in keystore %s", ErrNoAccounts, dir)
	}

	account := all[0]
	if address != "" {
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("invalid account address %q", address)
		}
		found, err := ks.Find(accounts.Account{Address: common.HexToAddress(address)})
		if err != nil {
			return nil, fmt.Errorf("find account %s: %w", address, err)
		}
		account = found
	}

	if err := ks.Unlock(account, passphrase); err != nil {
		return nil, fmt.Errorf("unlock %s: %w", account.Address.Hex(), err)
	}

	return &keystoreWallet{ks: ks, account: account, backend: backend}, nil
}

func (w *keystoreWallet) RequestAccounts(_ context.Context) ([]common.Address, error) {
	return []common.Address{w.account.Address}, nil
}

func (w *keystoreWallet) ChainID(ctx context.Context) (*big.Int, error) {
	return w.backend.ChainID(ctx)
}

func (w *keystoreWallet) SwitchChain(ctx context.Context, n *Network) error {
	id, err := w.backend.ChainID(ctx)
	if err != nil {
		return err
	}
	if id.Uint64() != n.ChainID {
		return fmt.Errorf("%w: rpc serves chain %s, want %d", ErrWrongNetwork, id, n.ChainID)
	}
	return nil
}

func (w *keystoreWallet) AddChain(_ context.Context, n *Network) error {
	return fmt.Errorf("keystore wallet cannot register %s: %w", n.Name, errors.ErrUnsupported)
}

func (w *keystoreWallet) SendTransaction(ctx context.Context, req *TxRequest) (common.Hash, error) {
	if req.From != w.account.Address {
		return common.Hash{}, fmt.Errorf("account %s is not unlocked", req.From.Hex())
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	chainID, err := w.backend.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain id: %w", err)
	}
	nonce, err := w.backend.PendingNonceAt(ctx, req.From)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      req.Gas,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	signed, err := w.ks.SignTx(w.account, tx, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	if err = w.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send: %w", err)
	}

	Log.Debug("transaction broadcast", zap.Stringer("hash", signed.Hash()), zap.Uint64("nonce", nonce))
	return signed.Hash(), nil
}
