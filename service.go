package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"memebank/abi_instance"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrApprovalFailed      = errors.New("approval failed - allowance not set correctly")
)

const (
	RepaymentStatusNone   = "No active loan"
	RepaymentStatusActive = "Active"

	// rateDecimals is the fixed-point scale of interest rates and the collateral ratio (percent with 2 decimals).
	rateDecimals = 2

	// defaultCollateralRatio is reported when the contract does not expose its ratio.
	defaultCollateralRatio = "150"
)

type ConnectedNetwork struct {
	Name    string `json:"name"`
	ChainID uint64 `json:"chainId"`
}

type Connection struct {
	Address common.Address   `json:"address"`
	Network ConnectedNetwork `json:"network"`
}

type UserData struct {
	CollateralAmount string `json:"collateralAmount"`
	BorrowedAmount   string `json:"borrowedAmount"`
	StableDeposited  string `json:"stableDeposited"`
	CollateralValue  string `json:"collateralValue"`
}

type PlatformStats struct {
	TotalDeposits      string `json:"totalDeposits"`
	TotalBorrowed      string `json:"totalBorrowed"`
	AvailableLiquidity string `json:"availableLiquidity"`
	CurrentPrice       string `json:"currentPrice"`
	IsEmergency        bool   `json:"isEmergency"`
	CollateralRatio    string `json:"collateralRatio"`
}

type RepaymentDetails struct {
	RepaymentAmount string `json:"repaymentAmount"`
	Principal       string `json:"principal"`
	Interest        string `json:"interest"`
	// Deadline is the borrow timestamp in unix milliseconds, 0 without a loan.
	Deadline int64  `json:"deadline"`
	Status   string `json:"status"`
}

type RepaymentQuote struct {
	TotalRepayment string `json:"totalRepayment"`
	Principal      string `json:"principal"`
	InterestAmount string `json:"interestAmount"`
}

type Rates struct {
	LendingInterest string `json:"lendingInterest"`
	BorrowInterest  string `json:"borrowInterest"`
	CollateralRatio string `json:"collateralRatio"`
}

type Balances struct {
	Stable     string `json:"stable"`
	Collateral string `json:"collateral"`
}

type userRecord struct {
	collateral      *big.Int
	borrowed        *big.Int
	stableDeposited *big.Int
	borrowTimestamp *big.Int
}

// ContractService is the client for one network's memebank deployment.
type ContractService struct {
	network    *Network
	caller     *ContractCaller
	transactor *Transactor
	wallet     Wallet
	tokens     TokenCache
	stable     *ERC20
	collateral *ERC20
	conn       MutexValue[*Connection]
}

func NewContractService(network *Network, backend ChainBackend, wallet Wallet, tokens TokenCache, conf *RPCConf) (*ContractService, error) {
	if err := network.Validate(); err != nil {
		return nil, err
	}
	caller := NewContractCaller(backend, conf)
	return &ContractService{
		network:    network,
		caller:     caller,
		transactor: NewTransactor(wallet, backend, conf),
		wallet:     wallet,
		tokens:     tokens,
		stable:     NewERC20(network.Contracts.Stable, caller),
		collateral: NewERC20(network.Contracts.Collateral, caller),
	}, nil
}

func (s *ContractService) Network() *Network {
	return s.network
}

// Connection returns the last successful Connect result, or nil.
func (s *ContractService) Connection() *Connection {
	return s.conn.Get()
}

// Connect requests account access and moves the wallet to this service's chain,
// registering the chain first when the wallet does not know it.
func (s *ContractService) Connect(ctx context.Context) (*Connection, error) {
	accounts, err := s.wallet.RequestAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	if err = s.switchChain(ctx); err != nil {
		Log.Warn("switch chain failed", zap.String("network", s.network.Key), zap.Error(err))
	}

	chainID, err := s.wallet.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	name := s.network.Name
	if chainID.Uint64() != s.network.ChainID {
		name = fmt.Sprintf("chain-%s", chainID)
	}
	conn := &Connection{
		Address: accounts[0],
		Network: ConnectedNetwork{Name: name, ChainID: chainID.Uint64()},
	}
	s.conn.Set(conn)

	Log.Info("wallet connected", zap.Stringer("address", conn.Address), zap.String("network", name), zap.Uint64("chainId", conn.Network.ChainID))
	return conn, nil
}

func (s *ContractService) switchChain(ctx context.Context) error {
	err := s.wallet.SwitchChain(ctx, s.network)
	if !errors.Is(err, ErrUnrecognizedChain) {
		return err
	}

	Log.Info("registering chain with wallet", zap.String("network", s.network.Name), zap.String("chainId", s.network.ChainIDHex()))
	if err = s.wallet.AddChain(ctx, s.network); err != nil {
		return err
	}
	return s.wallet.SwitchChain(ctx, s.network)
}

func (s *ContractService) ensureWritable(ctx context.Context) (*Connection, error) {
	conn := s.conn.Get()
	if conn == nil {
		return nil, ErrNotConnected
	}
	chainID, err := s.wallet.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if chainID.Uint64() != s.network.ChainID {
		return nil, fmt.Errorf("%w: wallet on %s, want %d", ErrWrongNetwork, chainID, s.network.ChainID)
	}
	return conn, nil
}

func (s *ContractService) StableToken(ctx context.Context) (*Token, error) {
	return s.stable.Metadata(ctx, s.network.ChainID, s.network.StableSymbol, s.tokens)
}

func (s *ContractService) CollateralToken(ctx context.Context) (*Token, error) {
	return s.collateral.Metadata(ctx, s.network.ChainID, s.network.CollateralSymbol, s.tokens)
}

// TokenFor returns the token a dashboard action spends or receives.
func (s *ContractService) TokenFor(ctx context.Context, kind TxKind) (*Token, error) {
	switch kind {
	case TxKindDeposit:
		return s.CollateralToken(ctx)
	case TxKindBorrow, TxKindRepay, TxKindDepositStable:
		return s.StableToken(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTxKind, kind)
	}
}

func (s *ContractService) memebankBigInt(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	return s.caller.CallBigInt(ctx, s.network.Contracts.Memebank, abi_instance.MemebankABI, method, args...)
}

func (s *ContractService) readUser(ctx context.Context, addr common.Address) (*userRecord, error) {
	outputs, err := s.caller.Call(ctx, s.network.Contracts.Memebank, abi_instance.MemebankABI, "users", addr)
	if err != nil {
		return nil, err
	}

	fields := make([]*big.Int, 4)
	for i := range fields {
		if fields[i], err = outputBigInt("users", outputs, i); err != nil {
			return nil, err
		}
	}
	return &userRecord{
		collateral:      fields[0],
		borrowed:        fields[1],
		stableDeposited: fields[2],
		borrowTimestamp: fields[3],
	}, nil
}

func (s *ContractService) oraclePrice(ctx context.Context) (*big.Int, error) {
	return s.caller.CallBigInt(ctx, s.network.Contracts.Oracle, abi_instance.OracleABI, "getMemecoinPrice")
}

// OraclePrice returns the collateral price in stablecoin terms.
func (s *ContractService) OraclePrice(ctx context.Context) (string, error) {
	price, err := s.oraclePrice(ctx)
	if err != nil {
		return "0", err
	}
	formatted := FormatAmount(price, abi_instance.OraclePriceDecimals)
	f, _ := toDecimal(price, abi_instance.OraclePriceDecimals).Float64()
	Metrics().oraclePrice.WithLabelValues(s.network.Key).Set(f)
	return formatted, nil
}

func (s *ContractService) UserData(ctx context.Context, addr common.Address) (*UserData, error) {
	stable, err := s.StableToken(ctx)
	if err != nil {
		return nil, err
	}
	collateral, err := s.CollateralToken(ctx)
	if err != nil {
		return nil, err
	}
	user, err := s.readUser(ctx, addr)
	if err != nil {
		return nil, err
	}

	value := "0"
	if user.collateral.Sign() > 0 {
		price, err := s.oraclePrice(ctx)
		if err != nil {
			Log.Warn("collateral value unavailable", zap.Error(err))
		} else {
			v := toDecimal(user.collateral, int32(collateral.Decimals)).
				Mul(toDecimal(price, abi_instance.OraclePriceDecimals)).
				Round(int32(stable.Decimals))
			value = v.String()
		}
	}

	return &UserData{
		CollateralAmount: collateral.Format(user.collateral),
		BorrowedAmount:   stable.Format(user.borrowed),
		StableDeposited:  stable.Format(user.stableDeposited),
		CollateralValue:  value,
	}, nil
}

// PlatformStats reads the aggregates. Deposits and price are required; the
// remaining fields are optional on older deployments and fall back to defaults.
func (s *ContractService) PlatformStats(ctx context.Context) (*PlatformStats, error) {
	stable, err := s.StableToken(ctx)
	if err != nil {
		return nil, err
	}
	deposits, err := s.memebankBigInt(ctx, "totalStableDeposits")
	if err != nil {
		return nil, err
	}
	price, err := s.oraclePrice(ctx)
	if err != nil {
		return nil, err
	}

	borrowed, err := s.memebankBigInt(ctx, "totalBorrowed")
	if err != nil {
		Log.Warn("totalBorrowed unavailable", zap.String("network", s.network.Key), zap.Error(err))
		borrowed = new(big.Int)
	}
	emergency, err := s.caller.CallBool(ctx, s.network.Contracts.Memebank, abi_instance.MemebankABI, "emergencyMode")
	if err != nil {
		Log.Warn("emergencyMode unavailable", zap.String("network", s.network.Key), zap.Error(err))
		emergency = false
	}
	ratio, err := s.CollateralizationRatio(ctx)
	if err != nil {
		Log.Warn("collateralizationRatio unavailable", zap.String("network", s.network.Key), zap.Error(err))
		ratio = defaultCollateralRatio
	}

	available := new(big.Int).Sub(deposits, borrowed)
	if available.Sign() < 0 {
		available.SetInt64(0)
	}

	return &PlatformStats{
		TotalDeposits:      stable.Format(deposits),
		TotalBorrowed:      stable.Format(borrowed),
		AvailableLiquidity: stable.Format(available),
		CurrentPrice:       FormatAmount(price, abi_instance.OraclePriceDecimals),
		IsEmergency:        emergency,
		CollateralRatio:    ratio,
	}, nil
}

func (s *ContractService) rate(ctx context.Context, method string) (string, error) {
	v, err := s.memebankBigInt(ctx, method)
	if err != nil {
		return "", err
	}
	return FormatAmount(v, rateDecimals), nil
}

func (s *ContractService) LendingInterestRate(ctx context.Context) (string, error) {
	return s.rate(ctx, "lendingInterestRate")
}

func (s *ContractService) BorrowInterestRate(ctx context.Context) (string, error) {
	return s.rate(ctx, "borrowInterestRate")
}

func (s *ContractService) CollateralizationRatio(ctx context.Context) (string, error) {
	return s.rate(ctx, "collateralizationRatio")
}

func (s *ContractService) Rates(ctx context.Context) (*Rates, error) {
	lending, err := s.LendingInterestRate(ctx)
	if err != nil {
		return nil, err
	}
	borrow, err := s.BorrowInterestRate(ctx)
	if err != nil {
		return nil, err
	}
	ratio, err := s.CollateralizationRatio(ctx)
	if err != nil {
		return nil, err
	}
	return &Rates{LendingInterest: lending, BorrowInterest: borrow, CollateralRatio: ratio}, nil
}

// RepaymentDetails derives principal plus accrued interest from the user record.
func (s *ContractService) RepaymentDetails(ctx context.Context, addr common.Address) (*RepaymentDetails, error) {
	stable, err := s.StableToken(ctx)
	if err != nil {
		return nil, err
	}
	user, err := s.readUser(ctx, addr)
	if err != nil {
		return nil, err
	}

	if user.borrowed.Sign() == 0 {
		return NoRepayment(), nil
	}

	interest, err := s.memebankBigInt(ctx, "calculateInterest", addr)
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Add(user.borrowed, interest)

	return &RepaymentDetails{
		RepaymentAmount: stable.Format(total),
		Principal:       stable.Format(user.borrowed),
		Interest:        stable.Format(interest),
		Deadline:        time.Unix(user.borrowTimestamp.Int64(), 0).UnixMilli(),
		Status:          RepaymentStatusActive,
	}, nil
}

func NoRepayment() *RepaymentDetails {
	return &RepaymentDetails{
		RepaymentAmount: "0",
		Principal:       "0",
		Interest:        "0",
		Status:          RepaymentStatusNone,
	}
}

// CalculateRepaymentAmount asks the contract for its own repayment breakdown.
func (s *ContractService) CalculateRepaymentAmount(ctx context.Context, addr common.Address) (*RepaymentQuote, error) {
	stable, err := s.StableToken(ctx)
	if err != nil {
		return nil, err
	}
	outputs, err := s.caller.Call(ctx, s.network.Contracts.Memebank, abi_instance.MemebankABI, "calculateRepaymentAmount", addr)
	if err != nil {
		return nil, err
	}

	values := make([]*big.Int, 3)
	for i := range values {
		if values[i], err = outputBigInt("calculateRepaymentAmount", outputs, i); err != nil {
			return nil, err
		}
	}
	return &RepaymentQuote{
		TotalRepayment: stable.Format(values[0]),
		Principal:      stable.Format(values[1]),
		InterestAmount: stable.Format(values[2]),
	}, nil
}

func (s *ContractService) balance(ctx context.Context, erc20 *ERC20, token *Token, addr common.Address) (string, error) {
	v, err := erc20.BalanceOf(ctx, addr)
	if err != nil {
		return "", err
	}
	return token.Format(v), nil
}

func (s *ContractService) StableBalance(ctx context.Context, addr common.Address) (string, error) {
	token, err := s.StableToken(ctx)
	if err != nil {
		return "", err
	}
	return s.balance(ctx, s.stable, token, addr)
}

func (s *ContractService) CollateralBalance(ctx context.Context, addr common.Address) (string, error) {
	token, err := s.CollateralToken(ctx)
	if err != nil {
		return "", err
	}
	return s.balance(ctx, s.collateral, token, addr)
}

func (s *ContractService) Balances(ctx context.Context, addr common.Address) (*Balances, error) {
	stable, err := s.StableBalance(ctx, addr)
	if err != nil {
		return nil, err
	}
	collateral, err := s.CollateralBalance(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Balances{Stable: stable, Collateral: collateral}, nil
}

// approveToken makes sure the memebank contract may move amount of token from owner.
// An insufficient allowance is first reset to zero, which some tokens require
// before a non-zero allowance can be changed.
func (s *ContractService) approveToken(ctx context.Context, owner common.Address, erc20 *ERC20, token *Token, amount *big.Int) error {
	spender := s.network.Contracts.Memebank

	balance, err := erc20.BalanceOf(ctx, owner)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w of %s. Required: %s, Available: %s", ErrInsufficientBalance, token.Symbol, token.Format(amount), token.Format(balance))
	}

	allowance, err := erc20.Allowance(ctx, owner, spender)
	if err != nil {
		return err
	}
	Log.Debug("allowance check", zap.String("token", token.Symbol), zap.String("allowance", token.Format(allowance)), zap.String("required", token.Format(amount)))
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	for _, value := range []*big.Int{new(big.Int), amount} {
		tx, err := s.transactor.Send(ctx, owner, erc20.Address(), abi_instance.ERC20ABI, "approve", spender, value)
		if err != nil {
			return err
		}
		if _, err = tx.Wait(ctx); err != nil {
			return err
		}
	}

	allowance, err = erc20.Allowance(ctx, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowance %s < %s", ErrApprovalFailed, token.Symbol, token.Format(allowance), token.Format(amount))
	}
	return nil
}

func (s *ContractService) write(ctx context.Context, method string, erc20 *ERC20, token *Token, amount string, approve bool) (*PendingTx, error) {
	conn, err := s.ensureWritable(ctx)
	if err != nil {
		return nil, err
	}
	value, err := token.Parse(amount)
	if err != nil {
		return nil, err
	}
	if approve {
		if err = s.approveToken(ctx, conn.Address, erc20, token, value); err != nil {
			return nil, err
		}
	}
	return s.transactor.Send(ctx, conn.Address, s.network.Contracts.Memebank, abi_instance.MemebankABI, method, value)
}

func (s *ContractService) DepositCollateral(ctx context.Context, amount string) (*PendingTx, error) {
	token, err := s.CollateralToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, "depositCollateral", s.collateral, token, amount, true)
}

func (s *ContractService) DepositStable(ctx context.Context, amount string) (*PendingTx, error) {
	token, err := s.StableToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, "depositStable", s.stable, token, amount, true)
}

func (s *ContractService) BorrowStablecoins(ctx context.Context, amount string) (*PendingTx, error) {
	token, err := s.StableToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, "borrowStablecoins", s.stable, token, amount, false)
}

func (s *ContractService) RepayLoan(ctx context.Context, amount string) (*PendingTx, error) {
	token, err := s.StableToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, "repayLoan", s.stable, token, amount, true)
}

// Execute dispatches a dashboard action to its contract operation.
func (s *ContractService) Execute(ctx context.Context, kind TxKind, amount string) (*PendingTx, error) {
	switch kind {
	case TxKindDeposit:
		return s.DepositCollateral(ctx, amount)
	case TxKindBorrow:
		return s.BorrowStablecoins(ctx, amount)
	case TxKindRepay:
		return s.RepayLoan(ctx, amount)
	case TxKindDepositStable:
		return s.DepositStable(ctx, amount)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTxKind, kind)
	}
}
