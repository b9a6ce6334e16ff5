package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

type TxKind string

const (
	TxKindDeposit       TxKind = "deposit"
	TxKindBorrow        TxKind = "borrow"
	TxKindRepay         TxKind = "repay"
	TxKindDepositStable TxKind = "depositStable"
)

var (
	TxKinds = []TxKind{TxKindDeposit, TxKindBorrow, TxKindDepositStable, TxKindRepay}

	ErrUnknownTxKind = errors.New("unknown transaction kind")
	ErrBusy          = errors.New("transaction of this kind already in progress")
)

func ParseTxKind(s string) (TxKind, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(s, "-", ""), "_", "")) {
	case "deposit", "depositcollateral":
		return TxKindDeposit, nil
	case "borrow", "borrowstablecoins":
		return TxKindBorrow, nil
	case "repay", "repayloan":
		return TxKindRepay, nil
	case "depositstable":
		return TxKindDepositStable, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownTxKind, s)
}

// Label is the human readable action name used in notifications.
func (k TxKind) Label() string {
	switch k {
	case TxKindDepositStable:
		return "Deposit stable"
	case "":
		return ""
	}
	s := string(k)
	return strings.ToUpper(s[:1]) + s[1:]
}

type Snapshot struct {
	Account   *Connection       `json:"account"`
	Network   string            `json:"network"`
	User      UserData          `json:"user"`
	Platform  PlatformStats     `json:"platform"`
	Repayment RepaymentDetails  `json:"repayment"`
	Rates     Rates             `json:"rates"`
	Balances  Balances          `json:"balances"`
	Loading   map[TxKind]bool   `json:"loading"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func emptySnapshot(network string) Snapshot {
	return Snapshot{
		Network: network,
		User: UserData{
			CollateralAmount: "0",
			BorrowedAmount:   "0",
			StableDeposited:  "0",
			CollateralValue:  "0",
		},
		Platform: PlatformStats{
			TotalDeposits:      "0",
			TotalBorrowed:      "0",
			AvailableLiquidity: "0",
			CurrentPrice:       "0",
			CollateralRatio:    "0",
		},
		Repayment: *NoRepayment(),
		Rates:     Rates{LendingInterest: "0", BorrowInterest: "0", CollateralRatio: "0"},
		Balances:  Balances{Stable: "0", Collateral: "0"},
	}
}

// Dashboard keeps the per-network view state and drives the pollers.
type Dashboard struct {
	service  *ContractService
	history  *HistoryStore
	pool     *ants.Pool
	conf     *DashboardConf
	notifier *Notifier

	snapshot MutexValue[Snapshot]
	loading  MutexValue[map[TxKind]bool]
}

func NewDashboard(service *ContractService, history *HistoryStore, conf *DashboardConf) (*Dashboard, error) {
	size := conf.PoolSize
	if size <= 0 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		service:  service,
		history:  history,
		pool:     pool,
		conf:     conf,
		notifier: NewNotifier(conf.NotificationLimit),
	}
	d.snapshot.Set(emptySnapshot(service.Network().Key))
	d.loading.Set(map[TxKind]bool{})
	return d, nil
}

func (d *Dashboard) Service() *ContractService {
	return d.service
}

func (d *Dashboard) Notifications() []Notification {
	return d.notifier.List()
}

func (d *Dashboard) Close() {
	d.pool.Release()
}

func (d *Dashboard) Snapshot() Snapshot {
	s := d.snapshot.Get()
	loading := d.loading.Get()
	s.Loading = make(map[TxKind]bool, len(TxKinds))
	for _, k := range TxKinds {
		s.Loading[k] = loading[k]
	}
	return s
}

// Connect connects the wallet and records the account on the snapshot.
func (d *Dashboard) Connect(ctx context.Context) (*Connection, error) {
	conn, err := d.service.Connect(ctx)
	if err != nil {
		d.notifier.Push("Connection Failed", "Failed to connect wallet", VariantDestructive)
		return nil, err
	}
	d.snapshot.Update(func(s Snapshot) Snapshot {
		s.Account = conn
		return s
	})
	return conn, nil
}

type refreshTask struct {
	name  string
	run   func(ctx context.Context) error
	apply func(s *Snapshot)
}

// Refresh reads everything shown on the dashboard in parallel. Parts that fail
// keep their previous values; the joined error reports what failed.
func (d *Dashboard) Refresh(ctx context.Context) error {
	conn := d.service.Connection()
	if conn == nil {
		return ErrNotConnected
	}
	addr := conn.Address

	var (
		user      *UserData
		platform  *PlatformStats
		repayment *RepaymentDetails
		rates     *Rates
		balances  *Balances
	)
	tasks := []*refreshTask{
		{
			name: "user",
			run: func(ctx context.Context) (err error) {
				user, err = d.service.UserData(ctx, addr)
				return
			},
			apply: func(s *Snapshot) { s.User = *user },
		},
		{
			name: "platform",
			run: func(ctx context.Context) (err error) {
				platform, err = d.service.PlatformStats(ctx)
				return
			},
			apply: func(s *Snapshot) { s.Platform = *platform },
		},
		{
			name: "repayment",
			run: func(ctx context.Context) (err error) {
				repayment, err = d.service.RepaymentDetails(ctx, addr)
				return
			},
			apply: func(s *Snapshot) { s.Repayment = *repayment },
		},
		{
			name: "rates",
			run: func(ctx context.Context) (err error) {
				rates, err = d.service.Rates(ctx)
				return
			},
			apply: func(s *Snapshot) { s.Rates = *rates },
		},
		{
			name: "balances",
			run: func(ctx context.Context) (err error) {
				balances, err = d.service.Balances(ctx, addr)
				return
			},
			apply: func(s *Snapshot) { s.Balances = *balances },
		},
	}

	errs := make([]error, len(tasks))
	wg := &sync.WaitGroup{}
	for i, task := range tasks {
		wg.Add(1)
		err := d.pool.Submit(func() {
			defer wg.Done()
			errs[i] = task.run(ctx)
		})
		if err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()

	failed := make(map[string]string)
	d.snapshot.Update(func(s Snapshot) Snapshot {
		for i, task := range tasks {
			if errs[i] != nil {
				failed[task.name] = errs[i].Error()
				continue
			}
			task.apply(&s)
		}
		s.Account = conn
		s.Errors = failed
		s.UpdatedAt = time.Now()
		return s
	})

	var joined []error
	for i, task := range tasks {
		if errs[i] != nil {
			joined = append(joined, fmt.Errorf("%s: %w", task.name, errs[i]))
		}
	}
	err := errors.Join(joined...)
	Metrics().refreshes.WithLabelValues(d.service.Network().Key, outcome(err)).Inc()
	if err != nil {
		Log.Warn("dashboard refresh incomplete", zap.String("network", d.service.Network().Key), zap.Error(err))
	}
	return err
}

// UpdatePrice refreshes only the oracle price. A zero or failed read never
// replaces a known price.
func (d *Dashboard) UpdatePrice(ctx context.Context) {
	price, err := d.service.OraclePrice(ctx)
	if err != nil {
		Log.Error("update price err", zap.String("network", d.service.Network().Key), zap.Error(err))
		return
	}
	if price == "0" {
		return
	}
	d.snapshot.Update(func(s Snapshot) Snapshot {
		s.Platform.CurrentPrice = price
		return s
	})
}

// Run refreshes once, then polls data and price on their intervals until ctx ends.
func (d *Dashboard) Run(ctx context.Context) {
	_ = d.Refresh(ctx)
	d.UpdatePrice(ctx)

	dataTicker := time.NewTicker(d.conf.dataInterval())
	defer dataTicker.Stop()
	priceTicker := time.NewTicker(d.conf.priceInterval())
	defer priceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-dataTicker.C:
			_ = d.Refresh(ctx)
		case <-priceTicker.C:
			d.UpdatePrice(ctx)
		}
	}
}

func (d *Dashboard) acquire(kind TxKind) bool {
	acquired := false
	d.loading.Update(func(m map[TxKind]bool) map[TxKind]bool {
		if m[kind] {
			return m
		}
		next := make(map[TxKind]bool, len(m)+1)
		for k, v := range m {
			next[k] = v
		}
		next[kind] = true
		acquired = true
		return next
	})
	return acquired
}

func (d *Dashboard) release(kind TxKind) {
	d.loading.Update(func(m map[TxKind]bool) map[TxKind]bool {
		next := make(map[TxKind]bool, len(m))
		for k, v := range m {
			next[k] = v
		}
		delete(next, kind)
		return next
	})
}

// Submit runs one dashboard action end to end: validate, send, wait for the
// receipt, then refresh with increasing delays. Once the transaction is
// broadcast the wait no longer follows ctx cancellation; it is bounded by the
// receipt timeout instead. A receipt that never arrives leaves the record pending.
func (d *Dashboard) Submit(ctx context.Context, kind TxKind, amount string) (*TxRecord, error) {
	if _, err := ParseDecimal(amount); err != nil {
		d.notifier.Push("Invalid amount", "Please enter a valid amount", VariantDestructive)
		return nil, err
	}
	token, err := d.service.TokenFor(ctx, kind)
	if err != nil {
		d.notifier.Push("Transaction Failed", err.Error(), VariantDestructive)
		return nil, err
	}
	if _, err = token.Parse(amount); err != nil {
		d.notifier.Push("Invalid amount", fmt.Sprintf("%s supports at most %d decimals", token.Symbol, token.Decimals), VariantDestructive)
		return nil, err
	}

	if !d.acquire(kind) {
		return nil, ErrBusy
	}
	defer d.release(kind)

	network := d.service.Network()
	pending, err := d.service.Execute(ctx, kind, amount)
	if err != nil {
		Metrics().transactions.WithLabelValues(network.Key, string(kind), "rejected").Inc()
		Log.Error("transaction err", zap.String("kind", string(kind)), zap.Error(err))
		d.notifier.Push("Transaction Failed", err.Error(), VariantDestructive)
		return nil, err
	}

	record := &TxRecord{
		Network:     network.Key,
		Kind:        kind,
		Amount:      amount,
		Account:     pending.From.Hex(),
		Hash:        pending.Hash.Hex(),
		Explorer:    network.TxURL(pending.Hash),
		Status:      TxStatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	d.saveRecord(record)
	d.notifier.Push("Transaction Submitted", "Please wait for confirmation...", VariantDefault)

	ctx = context.WithoutCancel(ctx)
	receipt, err := pending.Wait(ctx)
	if err != nil {
		record.Error = err.Error()
		record.UpdatedAt = time.Now().UTC()
		if receipt == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			d.saveRecord(record)
			Metrics().transactions.WithLabelValues(network.Key, string(kind), "pending").Inc()
			Log.Warn("transaction receipt not found", zap.String("hash", record.Hash), zap.Error(err))
			d.notifier.Push("Transaction Pending", "Confirmation is taking longer than expected. Check the explorer for its status.", VariantDefault)
			return record, err
		}

		record.Status = TxStatusFailed
		if receipt != nil {
			record.Block = receipt.BlockNumber.Uint64()
		}
		d.saveRecord(record)
		Metrics().transactions.WithLabelValues(network.Key, string(kind), "failed").Inc()
		d.notifier.Push("Transaction Failed", err.Error(), VariantDestructive)
		return record, err
	}

	record.Status = TxStatusConfirmed
	record.Block = receipt.BlockNumber.Uint64()
	record.UpdatedAt = time.Now().UTC()
	d.saveRecord(record)
	Metrics().transactions.WithLabelValues(network.Key, string(kind), "confirmed").Inc()

	if err = d.refreshAfterTx(ctx); err != nil {
		Log.Error("Failed to refresh data", zap.Error(err))
	}

	d.notifier.Push("Transaction Successful", fmt.Sprintf("%s completed successfully", kind.Label()), VariantDefault)
	return record, nil
}

// refreshAfterTx refreshes after refreshDelay(0), retrying at refreshDelay(1),
// refreshDelay(2) and so on. retry-go numbers the first retry 1.
func (d *Dashboard) refreshAfterTx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.conf.refreshDelay(0)):
	}

	return retry.Do(
		func() error { return d.Refresh(ctx) },
		retry.Attempts(uint(max(d.conf.RefreshRetries, 1))),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return d.conf.refreshDelay(n)
		}),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

func (d *Dashboard) saveRecord(record *TxRecord) {
	if d.history == nil {
		return
	}
	if err := d.history.Put(record); err != nil {
		Log.Error("history put err", zap.String("hash", record.Hash), zap.Error(err))
	}
}
