package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/vmihailenco/msgpack/v5"

	"fms-api/models"
)

const simulationEntity = "simulation"

// BadgerStore keeps the simulation as a msgpack blob in an embedded badger
// database.
type BadgerStore struct {
	entityPrefix []byte
	db           *badger.DB
	now          func() time.Time
}

// OpenBadger opens (or creates) a badger database in dir. An empty dir keeps
// the database in memory.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return NewBadgerStore(db), nil
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{
		entityPrefix: []byte(simulationEntity),
		db:           db,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (b *BadgerStore) key() []byte {
	return []byte(fmt.Sprintf("%s/current", string(b.entityPrefix)))
}

func (b *BadgerStore) get(txn *badger.Txn) (*models.Simulation, error) {
	item, err := txn.Get(b.key())
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var sim models.Simulation
	if err := item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &sim)
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulation: %w", err)
	}
	return &sim, nil
}

func (b *BadgerStore) put(txn *badger.Txn, sim *models.Simulation) error {
	buf, err := msgpack.Marshal(sim)
	if err != nil {
		return fmt.Errorf("failed to marshal simulation: %w", err)
	}
	return txn.Set(b.key(), buf)
}

func (b *BadgerStore) FindCurrent(ctx context.Context) (*models.Simulation, error) {
	var sim *models.Simulation
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		sim, err = b.get(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sim, nil
}

func (b *BadgerStore) DeleteAll(ctx context.Context) error {
	return b.db.DropPrefix(b.entityPrefix)
}

func (b *BadgerStore) Create(ctx context.Context, sim *models.Simulation) (*models.Simulation, error) {
	stored := sim.Clone()
	now := b.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if err := b.db.Update(func(txn *badger.Txn) error {
		return b.put(txn, stored)
	}); err != nil {
		return nil, err
	}
	return stored, nil
}

func (b *BadgerStore) Update(ctx context.Context, name string, upd models.SimulationUpdate) (*models.Simulation, error) {
	var sim *models.Simulation
	err := b.db.Update(func(txn *badger.Txn) error {
		current, err := b.get(txn)
		if err != nil {
			return err
		}
		if current == nil || current.Name != name {
			return ErrNotFound
		}
		upd.Apply(current)
		current.UpdatedAt = b.now()
		sim = current
		return b.put(txn, current)
	})
	if err != nil {
		return nil, err
	}
	return sim, nil
}

// Close compacts an on-disk database and closes it.
func (b *BadgerStore) Close() error {
	if !b.db.Opts().InMemory {
		if err := b.db.Flatten(1); err != nil {
			return fmt.Errorf("failed to flatten badger db: %w", err)
		}
	}
	return b.db.Close()
}
