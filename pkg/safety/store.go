package safety

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
	"github.com/helinwang/qbft/pkg/consensus"
	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"
)

var preparedPrefix = []byte("prepared/")

func preparedKey(height uint64) []byte {
	k := make([]byte, len(preparedPrefix)+8)
	copy(k, preparedPrefix)
	binary.BigEndian.PutUint64(k[len(preparedPrefix):], height)
	return k
}

// BadgerStore persists the prepared certificate of each height in a
// badger database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the store under the directory.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	return open(badger.DefaultOptions(dir).WithSyncWrites(true))
}

// NewMemStore creates a store that is not persisted, the content is
// lost on Close.
func NewMemStore() (*BadgerStore, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, errors.Wrap(err, "open prepared store")
	}

	return &BadgerStore{db: db}, nil
}

// SavePrepared saves the certificate of the height, replacing the
// previous one. The write of a disk backed store is synced before
// returning.
func (s *BadgerStore) SavePrepared(height uint64, c *consensus.PreparedCertificate) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(preparedKey(height), c.Encode())
	})
	if err != nil {
		return errors.Wrapf(err, "save prepared certificate of height %d", height)
	}

	log.Debug("prepared certificate saved", "height", height, "round", c.Round)
	return nil
}

// LoadPrepared returns the certificate of the height, nil if there
// is none.
func (s *BadgerStore) LoadPrepared(height uint64) (*consensus.PreparedCertificate, error) {
	var c *consensus.PreparedCertificate
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(preparedKey(height))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			var err error
			c, err = consensus.DecodePreparedCertificate(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrapf(err, "load prepared certificate of height %d", height)
	}

	return c, nil
}

// Prune removes the certificates of the heights below the given
// height.
func (s *BadgerStore) Prune(below uint64) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = preparedPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		end := preparedKey(below)
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			if string(k) >= string(end) {
				break
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "scan prepared store")
	}

	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		err := wb.Delete(k)
		if err != nil {
			return errors.Wrap(err, "prune prepared store")
		}
	}

	err = wb.Flush()
	if err != nil {
		return errors.Wrap(err, "prune prepared store")
	}

	return nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
