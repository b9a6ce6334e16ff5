package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"memebank/abi_instance"
)

var (
	testUser        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testMemebank    = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	testStable      = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	testCollateral  = common.HexToAddress("0x0000000000000000000000000000000000000b03")
	testOracle      = common.HexToAddress("0x0000000000000000000000000000000000000b04")
	testBorrowStamp = int64(1700000000)

	errFakeRevert = errors.New("execution reverted")
)

func ether(s string) *big.Int {
	v, err := ParseAmount(s, 18)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestNetwork() *Network {
	return &Network{
		Key:              "testnet",
		Name:             "Test Net",
		ChainID:          1301,
		RPC:              "http://localhost:8545",
		Explorer:         "https://explorer.test",
		Currency:         ethCurrency,
		StableSymbol:     "USDT",
		CollateralSymbol: "DOGE",
		Contracts: Contracts{
			Memebank:   testMemebank,
			Stable:     testStable,
			Collateral: testCollateral,
			Oracle:     testOracle,
		},
	}
}

func newTestRPCConf() *RPCConf {
	return &RPCConf{
		RetryAttempts:  2,
		RetryDelayMs:   1,
		CallTimeoutSec: 5,
		ReceiptPollMs:  1,
		ReceiptTimeout: 5,
	}
}

type fakeUser struct {
	collateral *big.Int
	borrowed   *big.Int
	stable     *big.Int
	stamp      *big.Int
}

type allowanceKey struct {
	owner, spender common.Address
}

// fakeChain models the memebank deployment closely enough to drive the client:
// it answers eth_call from ABI-packed state and applies transactions to it.
type fakeChain struct {
	mu sync.Mutex

	chainID    *big.Int
	price      *big.Int
	interest   *big.Int
	emergency  bool
	decimals   map[common.Address]uint8
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[allowanceKey]*big.Int
	users      map[common.Address]*fakeUser
	deposits   *big.Int
	borrowed   *big.Int

	// failing maps a view name, "send:<method>" or "revert:<method>" to an injected failure.
	failing        map[string]error
	ignoreApproves bool
	pendingPolls   int

	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	polls    map[common.Hash]int
	calls    map[string][]time.Time
	sent     []string
	block    int64
}

func newFakeChain() *fakeChain {
	c := &fakeChain{
		chainID:    big.NewInt(1301),
		price:      ether("0.25"),
		interest:   ether("2"),
		decimals:   map[common.Address]uint8{testStable: 18, testCollateral: 18},
		balances:   map[common.Address]map[common.Address]*big.Int{testStable: {}, testCollateral: {}},
		allowances: map[common.Address]map[allowanceKey]*big.Int{testStable: {}, testCollateral: {}},
		users:      map[common.Address]*fakeUser{},
		deposits:   ether("1000"),
		borrowed:   ether("400"),
		failing:    map[string]error{},
		nonces:     map[common.Address]uint64{},
		receipts:   map[common.Hash]*types.Receipt{},
		polls:      map[common.Hash]int{},
		calls:      map[string][]time.Time{},
		block:      100,
	}
	c.balances[testStable][testUser] = ether("500")
	c.balances[testCollateral][testUser] = ether("1000")
	return c
}

func (c *fakeChain) fail(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing[method] = err
}

// callTimes returns when each eth_call of method arrived.
func (c *fakeChain) callTimes(method string) []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.calls[method]...)
}

func (c *fakeChain) user(addr common.Address) *fakeUser {
	u, ok := c.users[addr]
	if !ok {
		u = &fakeUser{collateral: new(big.Int), borrowed: new(big.Int), stable: new(big.Int), stamp: new(big.Int)}
		c.users[addr] = u
	}
	return u
}

func (c *fakeChain) balance(token, owner common.Address) *big.Int {
	if v, ok := c.balances[token][owner]; ok {
		return v
	}
	return new(big.Int)
}

func (c *fakeChain) allowance(token, owner, spender common.Address) *big.Int {
	if v, ok := c.allowances[token][allowanceKey{owner, spender}]; ok {
		return v
	}
	return new(big.Int)
}

func (c *fakeChain) abiFor(to common.Address) (*abi.ABI, error) {
	switch to {
	case testMemebank:
		return abi_instance.MemebankABI, nil
	case testStable, testCollateral:
		return abi_instance.ERC20ABI, nil
	case testOracle:
		return abi_instance.OracleABI, nil
	}
	return nil, fmt.Errorf("no contract at %s", to.Hex())
}

func (c *fakeChain) decode(to common.Address, data []byte) (*abi.Method, []interface{}, error) {
	contractABI, err := c.abiFor(to)
	if err != nil {
		return nil, nil, err
	}
	if len(data) < 4 {
		return nil, nil, errFakeRevert
	}
	method, err := contractABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, args, nil
}

func (c *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	method, args, err := c.decode(*msg.To, msg.Data)
	if err != nil {
		return nil, err
	}
	c.calls[method.Name] = append(c.calls[method.Name], time.Now())
	if err = c.failing[method.Name]; err != nil {
		return nil, err
	}
	outputs, err := c.view(*msg.To, method.Name, args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(outputs...)
}

func (c *fakeChain) view(to common.Address, method string, args []interface{}) ([]interface{}, error) {
	switch method {
	case "getMemecoinPrice":
		return []interface{}{c.price}, nil
	case "balanceOf":
		return []interface{}{c.balance(to, args[0].(common.Address))}, nil
	case "allowance":
		return []interface{}{c.allowance(to, args[0].(common.Address), args[1].(common.Address))}, nil
	case "decimals":
		return []interface{}{c.decimals[to]}, nil
	case "symbol":
		if to == testStable {
			return []interface{}{"USDT"}, nil
		}
		return []interface{}{"DOGE"}, nil
	case "users":
		u := c.user(args[0].(common.Address))
		return []interface{}{u.collateral, u.borrowed, u.stable, u.stamp}, nil
	case "totalStableDeposits":
		return []interface{}{c.deposits}, nil
	case "totalBorrowed":
		return []interface{}{c.borrowed}, nil
	case "emergencyMode":
		return []interface{}{c.emergency}, nil
	case "lendingInterestRate":
		return []interface{}{big.NewInt(500)}, nil
	case "borrowInterestRate":
		return []interface{}{big.NewInt(850)}, nil
	case "collateralizationRatio":
		return []interface{}{big.NewInt(15000)}, nil
	case "calculateInterest":
		return []interface{}{c.interestOf(args[0].(common.Address))}, nil
	case "calculateRepaymentAmount":
		u := c.user(args[0].(common.Address))
		interest := c.interestOf(args[0].(common.Address))
		return []interface{}{new(big.Int).Add(u.borrowed, interest), u.borrowed, interest}, nil
	}
	return nil, fmt.Errorf("view %s not modelled", method)
}

func (c *fakeChain) interestOf(addr common.Address) *big.Int {
	if c.user(addr).borrowed.Sign() == 0 {
		return new(big.Int)
	}
	return c.interest
}

func (c *fakeChain) transfer(token, from common.Address, amount *big.Int) error {
	bal := c.balance(token, from)
	allowed := c.allowance(token, from, testMemebank)
	if bal.Cmp(amount) < 0 || allowed.Cmp(amount) < 0 {
		return errFakeRevert
	}
	c.balances[token][from] = new(big.Int).Sub(bal, amount)
	c.allowances[token][allowanceKey{from, testMemebank}] = new(big.Int).Sub(allowed, amount)
	return nil
}

func (c *fakeChain) apply(from, to common.Address, method string, args []interface{}) error {
	switch method {
	case "approve":
		if !c.ignoreApproves {
			c.allowances[to][allowanceKey{from, args[0].(common.Address)}] = new(big.Int).Set(args[1].(*big.Int))
		}
		return nil
	case "depositCollateral":
		amount := args[0].(*big.Int)
		if err := c.transfer(testCollateral, from, amount); err != nil {
			return err
		}
		u := c.user(from)
		u.collateral = new(big.Int).Add(u.collateral, amount)
		return nil
	case "depositStable":
		amount := args[0].(*big.Int)
		if err := c.transfer(testStable, from, amount); err != nil {
			return err
		}
		u := c.user(from)
		u.stable = new(big.Int).Add(u.stable, amount)
		c.deposits = new(big.Int).Add(c.deposits, amount)
		return nil
	case "borrowStablecoins":
		amount := args[0].(*big.Int)
		u := c.user(from)
		u.borrowed = new(big.Int).Add(u.borrowed, amount)
		u.stamp = big.NewInt(testBorrowStamp)
		c.balances[testStable][from] = new(big.Int).Add(c.balance(testStable, from), amount)
		c.borrowed = new(big.Int).Add(c.borrowed, amount)
		return nil
	case "repayLoan":
		amount := args[0].(*big.Int)
		if err := c.transfer(testStable, from, amount); err != nil {
			return err
		}
		u := c.user(from)
		u.borrowed = new(big.Int).Sub(u.borrowed, amount)
		if u.borrowed.Sign() < 0 {
			u.borrowed.SetInt64(0)
		}
		return nil
	}
	return fmt.Errorf("transaction %s not modelled", method)
}

// execute applies a transaction and records its receipt. Reverts produce a
// status 0 receipt like a mined failing transaction.
func (c *fakeChain) execute(from, to common.Address, data []byte) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	method, args, err := c.decode(to, data)
	if err != nil {
		return common.Hash{}, err
	}
	if err = c.failing["send:"+method.Name]; err != nil {
		return common.Hash{}, err
	}

	nonce := c.nonces[from]
	c.nonces[from] = nonce + 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	hash := crypto.Keccak256Hash(from.Bytes(), buf[:], data)

	status := types.ReceiptStatusSuccessful
	if c.failing["revert:"+method.Name] != nil {
		status = types.ReceiptStatusFailed
	} else if err = c.apply(from, to, method.Name, args); err != nil {
		status = types.ReceiptStatusFailed
	}
	c.block++
	c.receipts[hash] = &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(c.block),
		GasUsed:     21000,
	}
	c.sent = append(c.sent, method.Name)
	return hash, nil
}

func (c *fakeChain) sentMethods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeChain) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	return 100000, nil
}

func (c *fakeChain) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *fakeChain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if tx.Nonce() != c.nonces[from] {
		c.mu.Unlock()
		return fmt.Errorf("nonce too low")
	}
	c.mu.Unlock()

	hash, err := c.execute(from, *tx.To(), tx.Data())
	if err != nil {
		return err
	}

	// The receipt is indexed by the signed transaction hash.
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt := c.receipts[hash]
	delete(c.receipts, hash)
	receipt.TxHash = tx.Hash()
	c.receipts[tx.Hash()] = receipt
	return nil
}

func (c *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.polls[hash] < c.pendingPolls {
		c.polls[hash]++
		return nil, ethereum.NotFound
	}
	receipt, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (c *fakeChain) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

var _ ChainBackend = (*fakeChain)(nil)

// fakeWallet plays an injected browser wallet in front of fakeChain.
type fakeWallet struct {
	mu        sync.Mutex
	chain     *fakeChain
	accounts  []common.Address
	current   uint64
	known     map[uint64]bool
	added     []AddChainParams
	switches  int
	switchErr error
	requests  []*TxRequest
}

func newFakeWallet(chain *fakeChain) *fakeWallet {
	return &fakeWallet{
		chain:    chain,
		accounts: []common.Address{testUser},
		current:  1,
		known:    map[uint64]bool{1: true},
	}
}

func (w *fakeWallet) RequestAccounts(_ context.Context) ([]common.Address, error) {
	return w.accounts, nil
}

func (w *fakeWallet) ChainID(_ context.Context) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return new(big.Int).SetUint64(w.current), nil
}

func (w *fakeWallet) SwitchChain(_ context.Context, n *Network) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.switches++
	if w.switchErr != nil {
		return w.switchErr
	}
	if !w.known[n.ChainID] {
		return fmt.Errorf("%w: %s", ErrUnrecognizedChain, n.ChainIDHex())
	}
	w.current = n.ChainID
	return nil
}

func (w *fakeWallet) AddChain(_ context.Context, n *Network) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.known[n.ChainID] = true
	w.added = append(w.added, n.AddChainParams())
	return nil
}

func (w *fakeWallet) SendTransaction(_ context.Context, req *TxRequest) (common.Hash, error) {
	w.mu.Lock()
	w.requests = append(w.requests, req)
	w.mu.Unlock()
	return w.chain.execute(req.From, req.To, req.Data)
}

var _ Wallet = (*fakeWallet)(nil)

type testEnv struct {
	chain   *fakeChain
	wallet  *fakeWallet
	conf    *RPCConf
	service *ContractService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	chain := newFakeChain()
	wallet := newFakeWallet(chain)
	conf := newTestRPCConf()
	service, err := NewContractService(newTestNetwork(), chain, wallet, NewTwoTierCache(nil, time.Minute), conf)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &testEnv{chain: chain, wallet: wallet, conf: conf, service: service}
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	if _, err := e.service.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
}
