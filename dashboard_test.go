package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDashboardConf() *DashboardConf {
	return &DashboardConf{
		DataIntervalSec:   1,
		PriceIntervalSec:  1,
		RefreshRetries:    2,
		RefreshDelayMs:    1,
		NotificationLimit: 10,
		PoolSize:          4,
	}
}

func newTestDashboard(t *testing.T) (*testEnv, *Dashboard, *HistoryStore) {
	t.Helper()
	env := newTestEnv(t)
	history, err := NewMemHistoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	d, err := NewDashboard(env.service, history, newTestDashboardConf())
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return env, d, history
}

func notificationTitles(d *Dashboard) []string {
	titles := make([]string, 0)
	for _, n := range d.Notifications() {
		titles = append(titles, n.Title)
	}
	return titles
}

func TestParseTxKind(t *testing.T) {
	for in, want := range map[string]TxKind{
		"deposit":           TxKindDeposit,
		"depositCollateral": TxKindDeposit,
		"borrow":            TxKindBorrow,
		"repay":             TxKindRepay,
		"repay_loan":        TxKindRepay,
		"deposit-stable":    TxKindDepositStable,
		"depositStable":     TxKindDepositStable,
	} {
		got, err := ParseTxKind(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseTxKind("withdraw")
	require.ErrorIs(t, err, ErrUnknownTxKind)
}

func TestTxKindLabel(t *testing.T) {
	require.Equal(t, "Deposit", TxKindDeposit.Label())
	require.Equal(t, "Deposit stable", TxKindDepositStable.Label())
	require.Equal(t, "Repay", TxKindRepay.Label())
}

func TestEmptySnapshot(t *testing.T) {
	_, d, _ := newTestDashboard(t)

	s := d.Snapshot()
	require.Nil(t, s.Account)
	require.Equal(t, "testnet", s.Network)
	require.Equal(t, "0", s.Platform.CurrentPrice)
	require.Equal(t, RepaymentStatusNone, s.Repayment.Status)
	require.Len(t, s.Loading, len(TxKinds))
	for _, k := range TxKinds {
		require.False(t, s.Loading[k])
	}
}

func TestRefreshRequiresConnection(t *testing.T) {
	_, d, _ := newTestDashboard(t)
	require.ErrorIs(t, d.Refresh(context.Background()), ErrNotConnected)
}

func TestRefresh(t *testing.T) {
	_, d, _ := newTestDashboard(t)
	ctx := context.Background()

	_, err := d.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Refresh(ctx))

	s := d.Snapshot()
	require.NotNil(t, s.Account)
	require.Equal(t, testUser, s.Account.Address)
	require.Equal(t, "1000", s.Platform.TotalDeposits)
	require.Equal(t, "0.25", s.Platform.CurrentPrice)
	require.Equal(t, "8.5", s.Rates.BorrowInterest)
	require.Equal(t, "500", s.Balances.Stable)
	require.Equal(t, "1000", s.Balances.Collateral)
	require.Empty(t, s.Errors)
	require.False(t, s.UpdatedAt.IsZero())
}

func TestRefreshKeepsPreviousValuesOnFailure(t *testing.T) {
	env, d, _ := newTestDashboard(t)
	ctx := context.Background()

	_, err := d.Connect(ctx)
	require.NoError(t, err)
	env.chain.fail("lendingInterestRate", errFakeRevert)

	err = d.Refresh(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "rates")

	s := d.Snapshot()
	require.Equal(t, "0", s.Rates.BorrowInterest)
	require.Contains(t, s.Errors, "rates")
	require.Equal(t, "1000", s.Platform.TotalDeposits)
	require.Equal(t, "500", s.Balances.Stable)
}

func TestUpdatePriceIgnoresZero(t *testing.T) {
	env, d, _ := newTestDashboard(t)
	ctx := context.Background()

	d.UpdatePrice(ctx)
	require.Equal(t, "0.25", d.Snapshot().Platform.CurrentPrice)

	env.chain.price = ether("0")
	d.UpdatePrice(ctx)
	require.Equal(t, "0.25", d.Snapshot().Platform.CurrentPrice)

	env.chain.fail("getMemecoinPrice", errFakeRevert)
	d.UpdatePrice(ctx)
	require.Equal(t, "0.25", d.Snapshot().Platform.CurrentPrice)
}

func TestConnectFailureNotifies(t *testing.T) {
	env, d, _ := newTestDashboard(t)
	env.wallet.accounts = nil

	_, err := d.Connect(context.Background())
	require.ErrorIs(t, err, ErrNoAccounts)
	require.Equal(t, []string{"Connection Failed"}, notificationTitles(d))
}

func TestSubmitInvalidAmount(t *testing.T) {
	env, d, history := newTestDashboard(t)
	ctx := context.Background()
	_, err := d.Connect(ctx)
	require.NoError(t, err)

	_, err = d.Submit(ctx, TxKindDeposit, "0")
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.Equal(t, []string{"Invalid amount"}, notificationTitles(d))
	require.Empty(t, env.chain.sentMethods())

	records, err := history.List("testnet", 0)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestSubmitTooManyDecimalsForToken(t *testing.T) {
	env, d, history := newTestDashboard(t)
	env.chain.decimals[testStable] = 6
	ctx := context.Background()
	_, err := d.Connect(ctx)
	require.NoError(t, err)

	_, err = d.Submit(ctx, TxKindBorrow, "0.0000001")
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.Equal(t, []string{"Invalid amount"}, notificationTitles(d))
	require.Empty(t, env.chain.sentMethods())
	require.False(t, d.Snapshot().Loading[TxKindBorrow])

	records, err := history.List("testnet", 0)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestSubmitAmountOverflow(t *testing.T) {
	env, d, _ := newTestDashboard(t)
	ctx := context.Background()
	_, err := d.Connect(ctx)
	require.NoError(t, err)

	_, err = d.Submit(ctx, TxKindBorrow, "1e60")
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.Equal(t, []string{"Invalid amount"}, notificationTitles(d))
	require.Empty(t, env.chain.sentMethods())
}

func TestSubmitBusy(t *testing.T) {
	env, d, _ := newTestDashboard(t)
	ctx := context.Background()
	_, err := d.Connect(ctx)
	require.NoError(t, err)

	require.True(t, d.acquire(TxKindBorrow))
	require.True(t, d.Snapshot().Loading[TxKindBorrow])

	_, err = d.Submit(ctx, TxKindBorrow, "1")
	require.ErrorIs(t, err, ErrBusy)
	require.Empty(t, env.chain.sentMethods())

	d.release(TxKindBorrow)
	require.False(t, d.Snapshot().Loading[TxKindBorrow])
}

func TestSubmitConfirmed(t *testing.T) {
	env, d, history := newTestDashboard(t)
	env.chain.pendingPolls = 2
	ctx := context.Background()
	_, err := d.Connect(ctx)
	require.NoError(t, err)

	record, err := d.Submit(ctx, TxKindDeposit, "10")
	require.NoError(t, err)
	require.Equal(t, TxStatusConfirmed, record.Status)
	require.Equal(t, TxKindDeposit, record.Kind)
	require.Equal(t, "10", record.Amount)
	require.Equal(t, testUser.Hex(), record.Account)
	require.NotZero(t, record.Block)
	require.Equal(t, "https://explorer.test/tx/"+record.Hash, record.Explorer)

	stored, err := history.Get(record.Hash)
	require.NoError(t, err)
	require.Equal(t, TxStatusConfirmed, stored.Status)

	s := d.Snapshot()
	require.Equal(t, "10", s.User.CollateralAmount)
	require.Equal(t, "2.5", s.User.CollateralValue)
	require.False(t, s.Loading[TxKindDeposit])

	require.Equal(t, []string{"Transaction Submitted", "Transaction Successful"}, notificationTitles(d))
	require.Equal(t, "Deposit completed successfully", d.Notifications()[1].Description)
}

func TestSubmitRejected(t *testing.T) {
	env, d, history := newTestDashboard(t)
	ctx := context.Background()
	_, err := d.Connect(ctx)
	require.NoError(t, err)

	_, err = d.Submit(ctx, TxKindDepositStable, "5000")
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, []string{"Transaction Failed"}, notificationTitles(d))
	require.Empty(t, env.chain.sentMethods())

	records, err := history.List("testnet", 0)
	require.NoError(t, err)
	require.Empty(t, records)
	require.False(t, d.Snapshot().Loading[TxKindDepositStable])
}

func TestSubmitReverted(t *testing.T) {
	env, d, history := newTestDashboard(t)
	env.chain.fail("revert:borrowStablecoins", errFakeRevert)
	ctx := context.Background()
	_, err := d.Connect(ctx)
	require.NoError(t, err)

	record, err := d.Submit(ctx, TxKindBorrow, "1")
	require.ErrorIs(t, err, ErrTxReverted)
	require.Equal(t, TxStatusFailed, record.Status)
	require.NotEmpty(t, record.Error)

	records, err := history.List("testnet", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, TxStatusFailed, records[0].Status)
	require.Equal(t, []string{"Transaction Submitted", "Transaction Failed"}, notificationTitles(d))
}

func TestSubmitRefreshFailureStillSucceeds(t *testing.T) {
	env, d, _ := newTestDashboard(t)
	ctx := context.Background()
	_, err := d.Connect(ctx)
	require.NoError(t, err)
	env.chain.fail("borrowInterestRate", errFakeRevert)

	record, err := d.Submit(ctx, TxKindBorrow, "3")
	require.NoError(t, err)
	require.Equal(t, TxStatusConfirmed, record.Status)
	require.Equal(t, "3", d.Snapshot().Repayment.Principal)
	require.Contains(t, d.Snapshot().Errors, "rates")
}

func TestSubmitOutlivesCallerContext(t *testing.T) {
	env, d, history := newTestDashboard(t)
	env.conf.ReceiptPollMs = 10
	env.chain.pendingPolls = 30
	_, err := d.Connect(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	record, err := d.Submit(ctx, TxKindBorrow, "1")
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	require.Equal(t, TxStatusConfirmed, record.Status)

	stored, err := history.Get(record.Hash)
	require.NoError(t, err)
	require.Equal(t, TxStatusConfirmed, stored.Status)
	require.Equal(t, "1", d.Snapshot().Repayment.Principal)
}

func TestSubmitReceiptTimeoutStaysPending(t *testing.T) {
	env, d, history := newTestDashboard(t)
	env.conf.ReceiptTimeout = 1
	env.chain.pendingPolls = 1 << 30
	_, err := d.Connect(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	record, err := d.Submit(ctx, TxKindBorrow, "1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, TxStatusPending, record.Status)
	require.NotEmpty(t, record.Error)

	stored, err := history.Get(record.Hash)
	require.NoError(t, err)
	require.Equal(t, TxStatusPending, stored.Status)
	require.Equal(t, []string{"Transaction Submitted", "Transaction Pending"}, notificationTitles(d))
	require.False(t, d.Snapshot().Loading[TxKindBorrow])
}

func TestRefreshAfterTxSchedule(t *testing.T) {
	env, d, _ := newTestDashboard(t)
	d.conf.RefreshDelayMs = 100
	d.conf.RefreshRetries = 3
	_, err := d.Connect(context.Background())
	require.NoError(t, err)
	env.chain.fail("lendingInterestRate", errFakeRevert)

	start := time.Now()
	require.Error(t, d.refreshAfterTx(context.Background()))

	calls := env.chain.callTimes("lendingInterestRate")
	require.Len(t, calls, 3)
	require.GreaterOrEqual(t, calls[0].Sub(start), 100*time.Millisecond)

	first, second := calls[1].Sub(calls[0]), calls[2].Sub(calls[1])
	require.GreaterOrEqual(t, first, 200*time.Millisecond)
	require.Less(t, first, 290*time.Millisecond)
	require.GreaterOrEqual(t, second, 300*time.Millisecond)
	require.Less(t, second, 390*time.Millisecond)
}
