package tablerepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/acksell/mtdynamo"
	"github.com/dgraph-io/badger/v4"
)

// BadgerOptions configures a BadgerRepository, mirroring
// ddbstore.StoreOptions's shape.
type BadgerOptions struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger for BadgerDB. If nil, logging is disabled.
	Logger badger.Logger
}

// BadgerRepository is a Repository backed by an embedded BadgerDB instance,
// so table metadata survives process restarts without depending on the
// physical store the façades themselves dispatch to.
type BadgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens (or creates) a BadgerDB database at opts.Path.
func NewBadgerRepository(opts BadgerOptions) (*BadgerRepository, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &BadgerRepository{db: db}, nil
}

// Close closes the underlying BadgerDB database.
func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

func badgerKey(tenant, virtualName string) []byte {
	return []byte(repoKey(tenant, virtualName))
}

func (r *BadgerRepository) Get(_ context.Context, tenant, virtualName string) (mtdynamo.VirtualTableDescription, bool, error) {
	var desc mtdynamo.VirtualTableDescription
	found := false
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(tenant, virtualName))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &desc)
		})
	})
	if err != nil {
		return mtdynamo.VirtualTableDescription{}, false, mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey, "read table metadata: %v", err)
	}
	return desc, found, nil
}

func (r *BadgerRepository) Put(ctx context.Context, tenant string, desc mtdynamo.VirtualTableDescription) error {
	if _, found, err := r.Get(ctx, tenant, desc.TableName); err != nil {
		return err
	} else if found {
		return mtdynamo.Errorf(mtdynamo.KindTableAlreadyExists,
			"table %q already exists for tenant %q", desc.TableName, tenant)
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey, "marshal table metadata: %v", err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(tenant, desc.TableName), data)
	})
	if err != nil {
		return mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey, "write table metadata: %v", err)
	}
	return nil
}

func (r *BadgerRepository) Delete(ctx context.Context, tenant, virtualName string) error {
	if _, found, err := r.Get(ctx, tenant, virtualName); err != nil {
		return err
	} else if !found {
		return mtdynamo.Errorf(mtdynamo.KindTableNotFound,
			"table %q not found for tenant %q", virtualName, tenant)
	}
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(tenant, virtualName))
	})
	if err != nil {
		return mtdynamo.Errorf(mtdynamo.KindMalformedPhysicalKey, "delete table metadata: %v", err)
	}
	return nil
}

var _ Repository = (*BadgerRepository)(nil)
