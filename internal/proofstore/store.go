// Package proofstore provides content-addressed publish/fetch of JSON blobs.
//
// Every backend derives the reference from the stored bytes, so a published
// blob is immutable: a correction is a new blob with a new reference.
package proofstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/yangwenmai/oracle-avs/internal/model"
)

// Store is the contract for content-addressed storage.
type Store interface {
	// Put persists data and returns its content id.
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by content id. Missing blobs yield an error
	// wrapping model.ErrProofNotFound.
	Get(ctx context.Context, cid string) ([]byte, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = (*S3Store)(nil)
	_ Store = (*IPFSStore)(nil)
)

const hashPrefix = "sha256:"

// Digest returns the "sha256:<hex>" content id of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// parseDigest returns the hex part of a "sha256:<hex>" id.
func parseDigest(cid string) (string, error) {
	raw, ok := strings.CutPrefix(cid, hashPrefix)
	if !ok {
		return "", fmt.Errorf("invalid hash format: %s", cid)
	}
	if _, err := hex.DecodeString(raw); err != nil || len(raw) != sha256.Size*2 {
		return "", fmt.Errorf("invalid hash hex: %s", cid)
	}
	return raw, nil
}

// Canonical encodes v as RFC 8785 canonical JSON so equal values always
// hash to the same content id.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}

// Publish canonicalizes v and stores it. Backend failures wrap
// model.ErrStoreUnavailable.
func Publish(ctx context.Context, s Store, v any) (string, error) {
	data, err := Canonical(v)
	if err != nil {
		return "", err
	}
	cid, err := s.Put(ctx, data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return cid, nil
}

// Fetch loads cid and decodes it into out. Unknown fields are ignored.
func Fetch(ctx context.Context, s Store, cid string, out any) error {
	data, err := s.Get(ctx, cid)
	if err != nil {
		if errors.Is(err, model.ErrProofNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", model.ErrMalformedProof, cid, err)
	}
	return nil
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	cid := Digest(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[cid]; !ok {
		s.blobs[cid] = append([]byte(nil), data...)
	}
	return cid, nil
}

func (s *MemoryStore) Get(_ context.Context, cid string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[cid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrProofNotFound, cid)
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
