package basket

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "baskets"

// DB defines the interface for database operations
type DB interface {
	// SaveBasket saves a basket to the database
	SaveBasket(basket *Basket) error

	// GetBasket retrieves a basket by ID
	GetBasket(id string) (*Basket, error)

	// ListBaskets returns all baskets
	ListBaskets() ([]*Basket, error)

	// DeleteBasket removes a basket from the database
	DeleteBasket(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveBasket saves a basket to the database
func (b *BoltDB) SaveBasket(basket *Basket) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(basket)
		if err != nil {
			return fmt.Errorf("marshaling basket: %w", err)
		}
		return bucket.Put([]byte(basket.ID), data)
	})
}

// GetBasket retrieves a basket by ID
func (b *BoltDB) GetBasket(id string) (*Basket, error) {
	var basket *Basket
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("basket not found: %s", id)
		}
		return json.Unmarshal(data, &basket)
	})
	if err != nil {
		return nil, err
	}
	return basket, nil
}

// ListBaskets returns all baskets
func (b *BoltDB) ListBaskets() ([]*Basket, error) {
	baskets := make([]*Basket, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var basket Basket
			if err := json.Unmarshal(v, &basket); err != nil {
				return fmt.Errorf("unmarshaling basket: %w", err)
			}
			baskets = append(baskets, &basket)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return baskets, nil
}

// DeleteBasket removes a basket from the database
func (b *BoltDB) DeleteBasket(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
