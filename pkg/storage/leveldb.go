package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a Backend stored in a local LevelDB database.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) the database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// Get implements Backend.
func (l *LevelDB) Get(_ context.Context, key string) ([]byte, error) {
	v, err := l.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, mapLevelDBErr(err)
	}
	return v, nil
}

// Put implements Backend.
func (l *LevelDB) Put(_ context.Context, key string, value []byte) error {
	return mapLevelDBErr(l.db.Put([]byte(key), value, nil))
}

// Delete implements Backend.
func (l *LevelDB) Delete(_ context.Context, key string) error {
	return mapLevelDBErr(l.db.Delete([]byte(key), nil))
}

// Scan implements Backend. Keys are visited in lexical order.
func (l *LevelDB) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	it := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()

	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Iterator buffers are reused between calls.
		value := append([]byte(nil), it.Value()...)
		if err := fn(string(it.Key()), value); err != nil {
			return err
		}
	}
	return mapLevelDBErr(it.Error())
}

// DeletePrefix implements Backend. Deletions are applied in one batch.
func (l *LevelDB) DeletePrefix(_ context.Context, prefix string) (int, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	batch := new(leveldb.Batch)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return 0, mapLevelDBErr(err)
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := l.db.Write(batch, nil); err != nil {
		return 0, mapLevelDBErr(err)
	}
	return batch.Len(), nil
}

// Ping implements Backend.
func (l *LevelDB) Ping(context.Context) error {
	_, err := l.db.GetProperty("leveldb.stats")
	return mapLevelDBErr(err)
}

// Close implements Backend.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

func mapLevelDBErr(err error) error {
	if errors.Is(err, leveldb.ErrClosed) {
		return ErrClosed
	}
	return err
}
