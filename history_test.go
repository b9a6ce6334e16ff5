package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestHistory(t *testing.T) *HistoryStore {
	h, err := OpenHistoryStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHistoryPutGet(t *testing.T) {
	h := newTestHistory(t)
	submitted := time.Unix(1700000000, 0).UTC()

	r := &TxRecord{Network: NetworkKeyUnichainSepolia, Kind: TxKindDeposit, Amount: "1", Hash: "0xAB", Status: TxStatusPending, SubmittedAt: submitted}
	require.NoError(t, h.Put(r))

	got, err := h.Get("0xab")
	require.NoError(t, err)
	require.Equal(t, TxStatusPending, got.Status)
	require.Equal(t, TxKindDeposit, got.Kind)

	r.Status = TxStatusConfirmed
	r.Block = 42
	r.SubmittedAt = time.Now()
	require.NoError(t, h.Put(r))

	got, err = h.Get("0xAB")
	require.NoError(t, err)
	require.Equal(t, TxStatusConfirmed, got.Status)
	require.Equal(t, uint64(42), got.Block)
	require.True(t, submitted.Equal(got.SubmittedAt))

	all, err := h.List(NetworkKeyUnichainSepolia, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestHistoryGetMissing(t *testing.T) {
	h := newTestHistory(t)
	_, err := h.Get("0xdead")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestHistoryListNewestFirst(t *testing.T) {
	h, err := NewMemHistoryStore()
	require.NoError(t, err)
	defer h.Close()

	base := time.Unix(1700000000, 0)
	for i, hash := range []string{"0x01", "0x02", "0x03"} {
		require.NoError(t, h.Put(&TxRecord{
			Network:     NetworkKeyBaseSepolia,
			Hash:        hash,
			Status:      TxStatusPending,
			SubmittedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, h.Put(&TxRecord{Network: NetworkKeyUnichainSepolia, Hash: "0x04", SubmittedAt: base}))

	records, err := h.List(NetworkKeyBaseSepolia, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "0x03", records[0].Hash)
	require.Equal(t, "0x02", records[1].Hash)

	records, err = h.List(NetworkKeyUnichainSepolia, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestHistoryPutRequiresHash(t *testing.T) {
	h := newTestHistory(t)
	require.Error(t, h.Put(&TxRecord{Network: "x"}))
}
