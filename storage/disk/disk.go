package disk

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pardot/rp/storage"
	"github.com/ugorji/go/codec"
	bolt "go.etcd.io/bbolt"
)

var (
	usersBucket    = []byte("users")
	usersBySub     = []byte("users_by_sub")
	sessionsBucket = []byte("sessions")
)

var _ storage.Storage = (*Storage)(nil)

// Storage keeps users and sessions in a bbolt file, encoded as CBOR. It suits
// single instance deployments that do not want a database server.
type Storage struct {
	db *bolt.DB
}

// New opens or creates the database at path.
func New(path string, mode os.FileMode) (*Storage, error) {
	db, err := bolt.Open(path, mode, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{usersBucket, usersBySub, sessionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Storage{db: db}, nil
}

// Close releases the database file.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) GetUser(_ context.Context, id string) (*storage.User, error) {
	var u storage.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(usersBucket), id, &u, "user")
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Storage) GetUserBySub(_ context.Context, sub string) (*storage.User, error) {
	var u storage.User
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(usersBySub).Get([]byte(sub))
		if id == nil {
			return &errNotFound{fmt.Errorf("user with sub %s not found", sub)}
		}
		return get(tx.Bucket(usersBucket), string(id), &u, "user")
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Storage) CreateUser(_ context.Context, u *storage.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(usersBySub)
		if idx.Get([]byte(u.OPSub)) != nil {
			return &errConflict{fmt.Errorf("user with sub %s already exists", u.OPSub)}
		}
		b := tx.Bucket(usersBucket)
		if b.Get([]byte(u.ID)) != nil {
			return &errConflict{fmt.Errorf("user %s already exists", u.ID)}
		}
		if err := put(b, u.ID, u); err != nil {
			return err
		}
		return idx.Put([]byte(u.OPSub), []byte(u.ID))
	})
}

func (s *Storage) UpdateUser(_ context.Context, u *storage.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		var existing storage.User
		if err := get(b, u.ID, &existing, "user"); err != nil {
			return err
		}
		existing.Email = u.Email
		existing.Name = u.Name
		existing.UpdatedAt = u.UpdatedAt
		return put(b, u.ID, &existing)
	})
}

func (s *Storage) CreateSession(_ context.Context, sess *storage.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(usersBucket).Get([]byte(sess.UserID)) == nil {
			return fmt.Errorf("session %s references unknown user %s", sess.ID, sess.UserID)
		}
		b := tx.Bucket(sessionsBucket)
		if b.Get([]byte(sess.ID)) != nil {
			return &errConflict{fmt.Errorf("session %s already exists", sess.ID)}
		}
		return put(b, sess.ID, sess)
	})
}

func (s *Storage) GetSession(_ context.Context, id string) (*storage.Session, error) {
	var sess storage.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(sessionsBucket), id, &sess, "session")
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Storage) GetSessionWithUser(_ context.Context, id string) (*storage.Session, *storage.User, error) {
	var (
		sess storage.Session
		u    storage.User
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := get(tx.Bucket(sessionsBucket), id, &sess, "session"); err != nil {
			return err
		}
		return get(tx.Bucket(usersBucket), sess.UserID, &u, "user")
	})
	if err != nil {
		return nil, nil, err
	}
	return &sess, &u, nil
}

func (s *Storage) RevokeSession(_ context.Context, id string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var sess storage.Session
		if err := get(b, id, &sess, "session"); err != nil {
			if storage.IsNotFoundErr(err) {
				return nil
			}
			return err
		}
		if sess.RevokedAt != nil {
			return nil
		}
		sess.RevokedAt = &at
		return put(b, id, &sess)
	})
}

func handle() *codec.CborHandle {
	h := &codec.CborHandle{}
	h.TimeRFC3339 = true
	return h
}

var cborHandle = handle()

func get(b *bolt.Bucket, key string, into interface{}, kind string) error {
	v := b.Get([]byte(key))
	if v == nil {
		return &errNotFound{fmt.Errorf("%s %s not found", kind, key)}
	}
	if err := codec.NewDecoderBytes(v, cborHandle).Decode(into); err != nil {
		return fmt.Errorf("decoding %s %s: %w", kind, key, err)
	}
	return nil
}

func put(b *bolt.Bucket, key string, v interface{}) error {
	var out []byte
	if err := codec.NewEncoderBytes(&out, cborHandle).Encode(v); err != nil {
		return err
	}
	return b.Put([]byte(key), out)
}

type errNotFound struct {
	error
}

func (*errNotFound) NotFoundErr() {}

type errConflict struct {
	error
}

func (*errConflict) ConflictErr() {}
