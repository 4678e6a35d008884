package state

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"humanebanque/storage"
)

var (
	// ErrTxClosed is returned when a committed or discarded transaction is used.
	ErrTxClosed = errors.New("state: transaction closed")
)

// Manager layers RLP-encoded records with hashed keys over a storage
// backend. Writes are staged in a Tx and flushed in a single batch.
type Manager struct {
	db storage.Database
	// writer is held for the lifetime of a Tx.
	writer sync.Mutex
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Begin opens a staged transaction, blocking until any other open
// transaction has been committed or discarded.
func (m *Manager) Begin() (*Tx, error) {
	if m == nil || m.db == nil {
		return nil, errors.New("state: database not configured")
	}
	m.writer.Lock()
	return &Tx{manager: m, writes: make(map[string][]byte), deletes: make(map[string]struct{})}, nil
}

func (m *Manager) release() { m.writer.Unlock() }

// Close releases the underlying database.
func (m *Manager) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

// Tx is a write-through-on-commit overlay on top of the manager's database.
type Tx struct {
	manager *Manager
	writes  map[string][]byte
	deletes map[string]struct{}
	order   []string
	closed  bool
}

func (tx *Tx) raw(hashed []byte) ([]byte, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	k := string(hashed)
	if _, gone := tx.deletes[k]; gone {
		return nil, nil
	}
	if v, ok := tx.writes[k]; ok {
		return v, nil
	}
	v, err := tx.manager.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func (tx *Tx) stage(hashed []byte, value []byte) {
	k := string(hashed)
	if _, seen := tx.writes[k]; !seen {
		if _, seen := tx.deletes[k]; !seen {
			tx.order = append(tx.order, k)
		}
	}
	delete(tx.deletes, k)
	if value == nil {
		delete(tx.writes, k)
		tx.deletes[k] = struct{}{}
		return
	}
	tx.writes[k] = value
}

// KVPut stores the RLP encoding of value under key.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	tx.stage(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := tx.raw(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key from state.
func (tx *Tx) KVDelete(key []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	tx.stage(kvKey(key), nil)
	return nil
}

// KVAppend appends value to the RLP-encoded uint64 list stored under key.
func (tx *Tx) KVAppend(key []byte, value uint64) error {
	var list []uint64
	if err := tx.KVGetList(key, &list); err != nil {
		return err
	}
	list = append(list, value)
	return tx.KVPut(key, list)
}

// KVGetList decodes the list stored under key into out, leaving an empty
// slice when the key is absent.
func (tx *Tx) KVGetList(key []byte, out interface{}) error {
	ok, err := tx.KVGet(key, out)
	if err != nil || ok {
		return err
	}
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	return nil
}

// Commit flushes the staged writes in one batch and closes the transaction.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	defer tx.close()
	batch := tx.manager.db.NewBatch()
	for _, k := range tx.order {
		if _, gone := tx.deletes[k]; gone {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), tx.writes[k])
	}
	if batch.Len() == 0 {
		return nil
	}
	return batch.Write()
}

// Discard drops staged writes. It is safe to call after Commit.
func (tx *Tx) Discard() {
	if tx == nil || tx.closed {
		return
	}
	tx.close()
}

func (tx *Tx) close() {
	tx.closed = true
	tx.writes = nil
	tx.deletes = nil
	tx.order = nil
	tx.manager.release()
}
