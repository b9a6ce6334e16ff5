package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

const (
	txKeyPrefix   = "tx:"
	hashKeyPrefix = "hash:"
)

var (
	ErrRecordNotFound = errors.New("transaction record not found")
)

type TxRecord struct {
	Network     string    `json:"network"`
	Kind        TxKind    `json:"kind"`
	Amount      string    `json:"amount"`
	Account     string    `json:"account"`
	Hash        string    `json:"hash"`
	Explorer    string    `json:"explorer,omitempty"`
	Status      TxStatus  `json:"status"`
	Error       string    `json:"error,omitempty"`
	Block       uint64    `json:"block,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// key orders records of one network by submit time.
func (r *TxRecord) key() []byte {
	return []byte(fmt.Sprintf("%s%s:%016x:%s", txKeyPrefix, r.Network, r.SubmittedAt.UnixNano(), strings.ToLower(r.Hash)))
}

func hashKey(hash string) []byte {
	return []byte(hashKeyPrefix + strings.ToLower(hash))
}

// HistoryStore persists submitted transactions in LevelDB.
type HistoryStore struct {
	db *leveldb.DB
}

func OpenHistoryStore(path string) (*HistoryStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve history path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// NewMemHistoryStore keeps history in memory only.
func NewMemHistoryStore() (*HistoryStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &HistoryStore{db: db}, nil
}

func (h *HistoryStore) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// Put inserts or replaces a record; the submit time of an existing record is kept.
func (h *HistoryStore) Put(r *TxRecord) error {
	if r.Hash == "" || r.Network == "" {
		return errors.New("transaction record requires network and hash")
	}
	if existing, err := h.Get(r.Hash); err == nil {
		r.SubmittedAt = existing.SubmittedAt
	} else if !errors.Is(err, ErrRecordNotFound) {
		return err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	key := r.key()
	batch := new(leveldb.Batch)
	batch.Put(key, data)
	batch.Put(hashKey(r.Hash), key)
	return h.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (h *HistoryStore) Get(hash string) (*TxRecord, error) {
	key, err := h.db.Get(hashKey(hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}

	data, err := h.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}

	r := &TxRecord{}
	if err = json.Unmarshal(data, r); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns up to limit records of network, newest first. limit <= 0 means all.
func (h *HistoryStore) List(network string, limit int) ([]*TxRecord, error) {
	it := h.db.NewIterator(util.BytesPrefix([]byte(txKeyPrefix+network+":")), nil)
	defer it.Release()

	records := make([]*TxRecord, 0)
	for ok := it.Last(); ok; ok = it.Prev() {
		r := &TxRecord{}
		if err := json.Unmarshal(it.Value(), r); err != nil {
			return nil, err
		}
		records = append(records, r)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return records, nil
}
