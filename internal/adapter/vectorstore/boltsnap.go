package vectorstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"campusbot/internal/domain"
)

var (
	bucketMeta  = []byte("vector_meta")
	bucketIndex = []byte("vector_index")
	bucketDocs  = []byte("vector_docs")

	keySchemaVersion = []byte("schema_version")
	keyModel         = []byte("model")
	keyBlob          = []byte("blob")
)

// BoltSnapshotter keeps a snapshot in a bbolt database. The index blob and
// the document records are written in one transaction.
type BoltSnapshotter struct {
	db *bbolt.DB
}

func NewBoltSnapshotter(path string) (*BoltSnapshotter, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketIndex, bucketDocs} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltSnapshotter{db: db}, nil
}

func (s *BoltSnapshotter) Save(snap *Snapshot) error {
	var blob []byte
	if snap.Index != nil {
		var err error
		if blob, err = snap.Index.MarshalBinary(); err != nil {
			return fmt.Errorf("failed to encode index: %w", err)
		}
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		versionData, err := json.Marshal(CurrentSchemaVersion)
		if err != nil {
			return err
		}
		if err := meta.Put(keySchemaVersion, versionData); err != nil {
			return err
		}
		if err := meta.Put(keyModel, []byte(snap.Model)); err != nil {
			return err
		}

		idx := tx.Bucket(bucketIndex)
		if blob == nil {
			if err := idx.Delete(keyBlob); err != nil {
				return err
			}
		} else if err := idx.Put(keyBlob, blob); err != nil {
			return err
		}

		if err := tx.DeleteBucket(bucketDocs); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		docs, err := tx.CreateBucket(bucketDocs)
		if err != nil {
			return err
		}
		for i, d := range snap.Docs {
			data, err := json.Marshal(docLine{ID: d.ID, Text: d.Text})
			if err != nil {
				return err
			}
			if err := docs.Put(positionKey(i), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltSnapshotter) Load() (*Snapshot, error) {
	var (
		snap    *Snapshot
		loadErr error
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		versionData := meta.Get(keySchemaVersion)
		if versionData == nil {
			return nil
		}
		snap = &Snapshot{Model: string(meta.Get(keyModel))}

		bad := 0
		err := tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			var dl docLine
			if err := json.Unmarshal(v, &dl); err != nil || dl.ID == "" {
				bad++
				return nil
			}
			snap.Docs = append(snap.Docs, domain.Document{ID: dl.ID, Text: dl.Text})
			return nil
		})
		if err != nil {
			return err
		}
		if bad > 0 {
			loadErr = fmt.Errorf("%w: %d unreadable document records", ErrCorruptSnapshot, bad)
			return nil
		}

		var version int
		if err := json.Unmarshal(versionData, &version); err != nil || version != CurrentSchemaVersion {
			loadErr = fmt.Errorf("%w: schema version %s, want %d", ErrCorruptSnapshot, versionData, CurrentSchemaVersion)
			return nil
		}

		if blob := tx.Bucket(bucketIndex).Get(keyBlob); blob != nil {
			idx := &FlatIndex{}
			if err := idx.UnmarshalBinary(blob); err != nil {
				loadErr = err
				return nil
			}
			snap.Index = idx
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, loadErr
}

func (s *BoltSnapshotter) Close() error {
	return s.db.Close()
}

// positionKey is big-endian so ForEach visits documents in position order.
func positionKey(i int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(i))
	return k
}
