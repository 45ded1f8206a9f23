package blockdev

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"go.etcd.io/bbolt"
)

// boltPageSize is the size of the value holding one slice of the container.
const boltPageSize = 4096

// sizeKey keeps container length; page keys are 8 bytes long and never
// collide with it.
var sizeKey = []byte("size")

// Bolt is a Backend keeping a container inside a BoltDB bucket as a sequence
// of fixed-size pages. Several containers may share one database under
// different bucket names.
type Bolt struct {
	db       *bbolt.DB
	bucket   []byte
	readOnly bool
}

// OpenBolt opens (or creates) BoltDB at path and binds the Backend to the
// named bucket.
func OpenBolt(path string, perm fs.FileMode, bucket string, readOnly bool) (*Bolt, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: empty bucket name", common.ErrInvalidArgument)
	}

	db, err := bbolt.Open(path, perm, &bbolt.Options{
		Timeout:  100 * time.Millisecond,
		ReadOnly: readOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open BoltDB: %w", err)
	}

	b := &Bolt{db: db, bucket: []byte(bucket), readOnly: readOnly}
	if !readOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(b.bucket)
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return b, nil
}

func pageKey(i int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(i))
	return k
}

func bucketSize(bkt *bbolt.Bucket) int64 {
	v := bkt.Get(sizeKey)
	if len(v) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(v))
}

func putBucketSize(bkt *bbolt.Bucket, size int64) error {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(size))
	return bkt.Put(sizeKey, v)
}

// ReadAt implements io.ReaderAt. Pages never written read as zeros.
func (b *Bolt) ReadAt(p []byte, off int64) (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return io.EOF
		}

		size := bucketSize(bkt)
		if off >= size {
			return io.EOF
		}

		want := p
		if rest := size - off; int64(len(want)) > rest {
			want = want[:rest]
		}

		for n < len(want) {
			pos := off + int64(n)
			pg, in := pos/boltPageSize, pos%boltPageSize
			chunk := want[n:]
			if l := boltPageSize - in; int64(len(chunk)) > l {
				chunk = chunk[:l]
			}

			v := bkt.Get(pageKey(pg))
			if int64(len(v)) > in {
				c := copy(chunk, v[in:])
				clear(chunk[c:])
			} else {
				clear(chunk)
			}
			n += len(chunk)
		}

		if n < len(p) {
			return io.EOF
		}
		return nil
	})
	return n, err
}

// WriteAt implements io.WriterAt. Each call is one BoltDB transaction.
func (b *Bolt) WriteAt(p []byte, off int64) (int, error) {
	if b.readOnly {
		return 0, common.ErrReadOnly
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(b.bucket)

		for n := 0; n < len(p); {
			pos := off + int64(n)
			pg, in := pos/boltPageSize, pos%boltPageSize

			page := make([]byte, boltPageSize)
			copy(page, bkt.Get(pageKey(pg)))

			c := copy(page[in:], p[n:])
			if err := bkt.Put(pageKey(pg), page); err != nil {
				return err
			}
			n += c
		}

		if end := off + int64(len(p)); end > bucketSize(bkt) {
			return putBucketSize(bkt, end)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Truncate changes the container size, dropping pages past the new end.
func (b *Bolt) Truncate(size int64) error {
	if b.readOnly {
		return common.ErrReadOnly
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		old := bucketSize(bkt)

		if size < old {
			last := size / boltPageSize
			for pg := (old - 1) / boltPageSize; pg > last; pg-- {
				if err := bkt.Delete(pageKey(pg)); err != nil {
					return err
				}
			}

			if in := size % boltPageSize; in == 0 {
				if err := bkt.Delete(pageKey(last)); err != nil {
					return err
				}
			} else if v := bkt.Get(pageKey(last)); v != nil {
				page := make([]byte, boltPageSize)
				copy(page[:in], v)
				if err := bkt.Put(pageKey(last), page); err != nil {
					return err
				}
			}
		}

		return putBucketSize(bkt, size)
	})
}

// Size returns the container size.
func (b *Bolt) Size() (int64, error) {
	var size int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		if bkt := tx.Bucket(b.bucket); bkt != nil {
			size = bucketSize(bkt)
		}
		return nil
	})
	return size, err
}

// Sync flushes the database file.
func (b *Bolt) Sync() error {
	if b.readOnly {
		return nil
	}
	return b.db.Sync()
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}
