package persistence

import (
	"errors"

	"multi-strategy-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"
)

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db       *badger.DB
	stateKey []byte
}

// NewBadgerRepository opens (or creates) a BadgerDB database at the given
// path and returns a repository bound to it.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging would interleave with ours; errors still
	// surface through the returned values.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{
		db:       db,
		stateKey: []byte("session_state"),
	}, nil
}

// SaveState marshals the session state to JSON and writes it under the
// single state key in one transaction.
func (r *badgerRepository) SaveState(state *models.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.stateKey, data)
	})
}

// LoadState reads the session state back. A missing key means a fresh
// session and returns (nil, nil).
func (r *badgerRepository) LoadState() (*models.SessionState, error) {
	var state models.SessionState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.stateKey)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// Close gracefully closes the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
