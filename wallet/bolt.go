package wallet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightninglabs/rgb/descriptor"
	bolt "go.etcd.io/bbolt"
)

var (
	descriptorBucket = []byte("descriptor")
	utxoBucket       = []byte("utxos")
	nextIndexBucket  = []byte("next-index")

	descrKey = []byte("descr")
	nonceKey = []byte("nonce")

	// ErrNoDescriptor is returned when opening a new wallet file without
	// a descriptor.
	ErrNoDescriptor = errors.New("wallet: no descriptor in wallet file")
)

// BoltHolder keeps the wallet state in memory and persists it to a bbolt
// file on Save and Close.
type BoltHolder struct {
	*MemHolder

	mu     sync.Mutex
	db     *bolt.DB
	closed bool
}

// OpenBoltHolder opens the wallet file at path. A new file is initialized
// with d, which is ignored if the file already holds a descriptor.
func OpenBoltHolder(path string, d *descriptor.Descr) (*BoltHolder, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open wallet file: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			descriptorBucket, utxoBucket, nextIndexBucket,
		}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	h := &BoltHolder{db: db}
	err = db.View(func(tx *bolt.Tx) error {
		var err error
		h.MemHolder, err = loadHolder(tx)
		return err
	})
	switch {
	case errors.Is(err, ErrNoDescriptor) && d != nil:
		h.MemHolder = NewMemHolder(d)
		if err := h.Save(); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Infof("Created wallet file %v", path)

	case err != nil:
		_ = db.Close()
		return nil, err

	default:
		log.Infof("Loaded wallet file %v with %d utxo(s)", path,
			h.utxos.Len())
	}

	return h, nil
}

func loadHolder(tx *bolt.Tx) (*MemHolder, error) {
	descrs := tx.Bucket(descriptorBucket)
	text := descrs.Get(descrKey)
	if text == nil {
		return nil, ErrNoDescriptor
	}

	d, err := descriptor.Parse(string(text))
	if err != nil {
		return nil, fmt.Errorf("unable to parse stored descriptor: %w",
			err)
	}
	if nonce := descrs.Get(nonceKey); len(nonce) == 8 {
		d.Nonce = binary.BigEndian.Uint64(nonce)
	}

	h := NewMemHolder(d)
	err = tx.Bucket(utxoBucket).ForEach(func(k, v []byte) error {
		op, err := decodeOutpoint(bytes.NewReader(k))
		if err != nil {
			return err
		}
		utxo, err := decodeUtxo(bytes.NewReader(v), op)
		if err != nil {
			return err
		}
		h.utxos.Insert(utxo)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to load utxos: %w", err)
	}

	err = tx.Bucket(nextIndexBucket).ForEach(func(k, v []byte) error {
		keychain, err := keychainFromKey(k)
		if err != nil {
			return err
		}
		if len(v) != 4 {
			return fmt.Errorf("invalid index of keychain %d",
				keychain)
		}
		h.utxos.nextIndex[keychain] = binary.BigEndian.Uint32(v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return h, nil
}

// Save writes the descriptor and the UTXO set to the wallet file.
func (b *BoltHolder) Save() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrHolderClosed
	}

	d := b.Descriptor()
	utxos := b.utxos.Utxos()

	b.utxos.mu.RLock()
	indexes := make(map[uint32]uint32, len(b.utxos.nextIndex))
	for k, v := range b.utxos.nextIndex {
		indexes[k] = v
	}
	b.utxos.mu.RUnlock()

	return b.db.Update(func(tx *bolt.Tx) error {
		descrs := tx.Bucket(descriptorBucket)
		if err := descrs.Put(descrKey, []byte(d.String())); err != nil {
			return err
		}
		var nonce [8]byte
		binary.BigEndian.PutUint64(nonce[:], d.Nonce)
		if err := descrs.Put(nonceKey, nonce[:]); err != nil {
			return err
		}

		// The UTXO set is rewritten as a whole so removed outputs
		// don't survive.
		if err := tx.DeleteBucket(utxoBucket); err != nil {
			return err
		}
		bucket, err := tx.CreateBucket(utxoBucket)
		if err != nil {
			return err
		}
		for _, utxo := range utxos {
			var k, v bytes.Buffer
			if err := encodeOutpoint(&k, utxo.Outpoint); err != nil {
				return err
			}
			if err := encodeUtxo(&v, utxo); err != nil {
				return err
			}
			if err := bucket.Put(k.Bytes(), v.Bytes()); err != nil {
				return err
			}
		}

		indexBucket := tx.Bucket(nextIndexBucket)
		for keychain, next := range indexes {
			var v [4]byte
			binary.BigEndian.PutUint32(v[:], next)
			err := indexBucket.Put(keychainKey(keychain), v[:])
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// Close saves the wallet and closes the file.
func (b *BoltHolder) Close() error {
	if err := b.Save(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return b.db.Close()
}

var _ Holder = (*BoltHolder)(nil)
