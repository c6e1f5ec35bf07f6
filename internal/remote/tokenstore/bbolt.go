// Package tokenstore persists the record server's access tokens in bbolt.
// Only SHA256 hashes of raw tokens are stored.
package tokenstore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kilupskalvis/qsync/internal/remote/server"
)

// TokenPrefix marks raw qsync tokens so they are recognisable in config files and logs.
const TokenPrefix = "qsync_"

// ErrNotFound is returned for an unknown token id.
var ErrNotFound = errors.New("token not found")

var (
	bucketByHash = []byte("tokens")    // hash -> TokenInfo JSON
	bucketByID   = []byte("token_ids") // id -> hash
)

// BboltStore implements server.TokenStore.
type BboltStore struct {
	db  *bolt.DB
	now func() time.Time
}

var _ server.TokenStore = (*BboltStore)(nil)

// Open opens or creates the token database at path.
func Open(path string) (*BboltStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create token directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open token database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketByHash, bucketByID} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BboltStore{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *BboltStore) Close() error {
	return s.db.Close()
}

// GetByHash returns the token with the given hash, or nil if there is none.
func (s *BboltStore) GetByHash(hash string) (*server.TokenInfo, error) {
	var info *server.TokenInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketByHash).Get([]byte(hash))
		if data == nil {
			return nil
		}
		info = &server.TokenInfo{}
		return json.Unmarshal(data, info)
	})
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return info, nil
}

// UpdateLastUsed stamps the token with the current time.
func (s *BboltStore) UpdateLastUsed(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		info, hash, err := lookupID(tx, id)
		if err != nil {
			return err
		}
		info.LastUsedAt = s.now().UTC()
		return putToken(tx, hash, info)
	})
}

// CreateToken mints a new raw token and stores its hash.
func (s *BboltStore) CreateToken(desc string, sheets []string, permission string) (string, *server.TokenInfo, error) {
	secret, err := randomHex(24)
	if err != nil {
		return "", nil, err
	}
	raw := TokenPrefix + secret

	info := &server.TokenInfo{
		TokenHash:  server.HashToken(raw),
		Desc:       desc,
		Sheets:     sheets,
		Permission: permission,
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(bucketByID)
		for {
			id, err := randomHex(6)
			if err != nil {
				return err
			}
			if ids.Get([]byte(id)) == nil {
				info.ID = id
				break
			}
		}
		if err := ids.Put([]byte(info.ID), []byte(info.TokenHash)); err != nil {
			return err
		}
		return putToken(tx, info.TokenHash, info)
	})
	if err != nil {
		return "", nil, fmt.Errorf("persist token: %w", err)
	}
	return raw, info, nil
}

// ListTokens returns all tokens ordered by id.
func (s *BboltStore) ListTokens() ([]*server.TokenInfo, error) {
	var tokens []*server.TokenInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketByHash).ForEach(func(_, v []byte) error {
			var info server.TokenInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			tokens = append(tokens, &info)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].ID < tokens[j].ID })
	return tokens, nil
}

// DeleteToken revokes a token. Returns ErrNotFound for an unknown id.
func (s *BboltStore) DeleteToken(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, hash, err := lookupID(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketByHash).Delete([]byte(hash)); err != nil {
			return err
		}
		return tx.Bucket(bucketByID).Delete([]byte(id))
	})
}

func lookupID(tx *bolt.Tx, id string) (*server.TokenInfo, string, error) {
	hash := tx.Bucket(bucketByID).Get([]byte(id))
	if hash == nil {
		return nil, "", fmt.Errorf("token '%s': %w", id, ErrNotFound)
	}
	data := tx.Bucket(bucketByHash).Get(hash)
	if data == nil {
		return nil, "", fmt.Errorf("token '%s': %w", id, ErrNotFound)
	}
	var info server.TokenInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, "", err
	}
	return &info, string(hash), nil
}

func putToken(tx *bolt.Tx, hash string, info *server.TokenInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	return tx.Bucket(bucketByHash).Put([]byte(hash), data)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
