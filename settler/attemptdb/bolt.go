package attemptdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var attemptsBucket = []byte("attempts")

// BoltDB persists settlement attempts in a bbolt file: one nested bucket per
// chain key, records keyed by lower-cased escrow address.
type BoltDB struct {
	db *bolt.DB
}

func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open attempt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(attemptsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Record(_ context.Context, att *SettlementAttempt) error {
	raw, err := json.Marshal(att)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		main := tx.Bucket(attemptsBucket)
		if main == nil {
			return ErrMainBucketNotFound
		}
		chain, err := main.CreateBucketIfNotExists([]byte(att.ChainKey))
		if err != nil {
			return err
		}
		return chain.Put(attemptKey(att.Escrow), raw)
	})
}

func (b *BoltDB) Fetch(_ context.Context, chainKey, escrow string) (*SettlementAttempt, error) {
	var att *SettlementAttempt
	err := b.db.View(func(tx *bolt.Tx) error {
		main := tx.Bucket(attemptsBucket)
		if main == nil {
			return ErrMainBucketNotFound
		}
		chain := main.Bucket([]byte(chainKey))
		if chain == nil {
			return ErrAttemptNotFound
		}
		raw := chain.Get(attemptKey(escrow))
		if raw == nil {
			return ErrAttemptNotFound
		}
		att = new(SettlementAttempt)
		return json.Unmarshal(raw, att)
	})
	if err != nil {
		return nil, err
	}
	return att, nil
}

func (b *BoltDB) FetchByChain(_ context.Context, chainKey string) ([]*SettlementAttempt, error) {
	var out []*SettlementAttempt
	err := b.db.View(func(tx *bolt.Tx) error {
		main := tx.Bucket(attemptsBucket)
		if main == nil {
			return ErrMainBucketNotFound
		}
		chain := main.Bucket([]byte(chainKey))
		if chain == nil {
			return nil
		}
		return chain.ForEach(func(_, v []byte) error {
			att := new(SettlementAttempt)
			if err := json.Unmarshal(v, att); err != nil {
				return err
			}
			out = append(out, att)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltDB) Close() error { return b.db.Close() }

func attemptKey(escrow string) []byte {
	return []byte(strings.ToLower(escrow))
}
