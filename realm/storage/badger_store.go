package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
)

// BadgerOptions tunes the badger instance behind a realm file.
type BadgerOptions struct {
	SyncWrites     bool
	MemTableSize   int64
	BlockCacheSize int64
	ValueThreshold int64
}

// DefaultBadgerOptions are sized for an embedded, per-process object store.
func DefaultBadgerOptions() BadgerOptions {
	return BadgerOptions{
		SyncWrites:     false,
		MemTableSize:   16 << 20,
		BlockCacheSize: 32 << 20,
		ValueThreshold: 1 << 10, // keep small rows in the LSM tree
	}
}

// BadgerStore implements Backend using BadgerDB
type BadgerStore struct {
	db      *badger.DB
	encoder KeyEncoder
}

// NewBadgerStore opens (or creates) the badger directory at path.
func NewBadgerStore(path string, o BadgerOptions) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = o.SyncWrites
	opts.NumVersionsToKeep = 1
	if o.MemTableSize > 0 {
		opts.MemTableSize = o.MemTableSize
	}
	if o.BlockCacheSize > 0 {
		opts.BlockCacheSize = o.BlockCacheSize
	}
	if o.ValueThreshold > 0 {
		opts.ValueThreshold = o.ValueThreshold
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, realm.Wrap(realm.KindIO, "open", err, "failed to open badger at %s", path)
	}
	return &BadgerStore{db: db}, nil
}

// Load reads the stored schema, version and every object row. A store
// written with a different schema fails with a schema error.
func (s *BadgerStore) Load(sch *schema.Schema) (*Snapshot, error) {
	snap := emptySnapshot(sch)
	var haveSchema bool

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if haveSchema, err = s.checkSchema(txn, sch); err != nil {
			return err
		}

		item, err := txn.Get(s.encoder.MetaKey(metaVersion))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("corrupt version entry")
				}
				snap.version = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		}

		for i, o := range sch.Objects() {
			if err := s.loadTable(txn, snap.tables[i], o); err != nil {
				return fmt.Errorf("load %q: %w", o.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		var re *realm.Error
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, realm.Wrap(realm.KindIO, "open", err, "failed to load realm")
	}

	if err := snap.checkPrimaryKeys(); err != nil {
		return nil, err
	}
	if !haveSchema {
		if err := s.WriteSchema(sch); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// checkSchema compares the stored schema with sch; found is false for a new file.
func (s *BadgerStore) checkSchema(txn *badger.Txn, sch *schema.Schema) (found bool, err error) {
	item, err := txn.Get(s.encoder.MetaKey(metaSchema))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var stored *schema.Schema
	err = item.Value(func(val []byte) error {
		var lerr error
		stored, lerr = schema.LoadYAML(bytes.NewReader(val))
		return lerr
	})
	if err != nil {
		return true, realm.Wrap(realm.KindSchema, "open", err, "stored schema is unreadable")
	}
	if !stored.Equal(sch) {
		return true, realm.Errorf(realm.KindSchema, "open", "schema differs from the one the file was written with")
	}
	return true, nil
}

func (s *BadgerStore) loadTable(txn *badger.Txn, t *Table, o *schema.ObjectSchema) error {
	item, err := txn.Get(s.encoder.CounterKey(o.Name))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		if err := item.Value(func(val []byte) error {
			t.nextKey = realm.ObjKey(binary.BigEndian.Uint64(val))
			return nil
		}); err != nil {
			return err
		}
	}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 1000
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	start, end := s.encoder.EncodePrefixRange(ObjectSpace, tableName(o.Name))
	for it.Seek(start); it.Valid(); it.Next() {
		item := it.Item()
		if bytes.Compare(item.Key(), end) >= 0 {
			break
		}
		key, err := s.encoder.DecodeObjectKey(o.Name, item.Key())
		if err != nil {
			return err
		}
		var row Row
		if err := item.Value(func(val []byte) error {
			var derr error
			row, derr = DecodeRow(o, val)
			return derr
		}); err != nil {
			return fmt.Errorf("object %s: %w", key, err)
		}
		t.insert(key, row)
	}
	return nil
}

// Persist writes one commit atomically.
func (s *BadgerStore) Persist(d *Delta) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var ver [8]byte
		binary.BigEndian.PutUint64(ver[:], d.Version)
		if err := txn.Set(s.encoder.MetaKey(metaVersion), ver[:]); err != nil {
			return err
		}

		for _, td := range d.Tables {
			var next [8]byte
			binary.BigEndian.PutUint64(next[:], uint64(td.NextKey))
			if err := txn.Set(s.encoder.CounterKey(td.Table), next[:]); err != nil {
				return err
			}
			for k, row := range td.Upserts {
				val, err := EncodeRow(row)
				if err != nil {
					return fmt.Errorf("encode %s of %q: %w", k, td.Table, err)
				}
				if err := txn.Set(s.encoder.ObjectKey(td.Table, k), val); err != nil {
					return fmt.Errorf("failed to write %s of %q: %w", k, td.Table, err)
				}
			}
			for _, k := range td.Deletes {
				if err := txn.Delete(s.encoder.ObjectKey(td.Table, k)); err != nil && err != badger.ErrKeyNotFound {
					return fmt.Errorf("failed to delete %s of %q: %w", k, td.Table, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return realm.Wrap(realm.KindIO, "commit", err, "failed to persist version %d", d.Version)
	}
	return nil
}

// WriteSchema records the schema the file is written with.
func (s *BadgerStore) WriteSchema(sch *schema.Schema) error {
	doc, err := sch.EncodeYAML()
	if err != nil {
		return realm.Wrap(realm.KindSchema, "open", err, "failed to encode schema")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.encoder.MetaKey(metaSchema), doc)
	})
	if err != nil {
		return realm.Wrap(realm.KindIO, "open", err, "failed to write schema")
	}
	return nil
}

// Close closes the store
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
