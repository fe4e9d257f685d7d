// Package dedup implements content-addressed document dedup (spec §4.12):
// a per-tenant bloom filter pre-check ahead of the authoritative relational
// checksum index, so a byte-identical re-upload never touches object
// storage a second time.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sync"

	bloomfilter "github.com/holiman/bloomfilter/v2"

	"github.com/matrixqa/engine/pkg/blobstore"
	"github.com/matrixqa/engine/pkg/models"
)

// bloomM/bloomK size one tenant's filter for roughly 100k documents at
// under 1% false-positive rate; a false positive only costs one extra
// indexed lookup, never a wrong answer (the relational index stays
// authoritative per §8's dedup roundtrip scenario).
const (
	bloomM = 1 << 20
	bloomK = 4
)

// Store is the narrow blobstore.Store slice dedup needs.
type Store interface {
	Upload(ctx context.Context, key string, r io.Reader, metadata map[string]string) error
}

// DocumentIndex is the relational half of the dedup check: the
// authoritative lookup by checksum, and document creation on a genuine
// new upload.
type DocumentIndex interface {
	FindByChecksum(ctx context.Context, companyID, checksum string) (models.Document, bool, error)
	CreateDocument(ctx context.Context, doc models.Document) (models.Document, error)
}

// Service implements upload() from §4.12.
type Service struct {
	store Store
	index DocumentIndex

	mu      sync.Mutex
	filters map[string]*bloomfilter.Filter
}

// New constructs a Service.
func New(store Store, index DocumentIndex) *Service {
	return &Service{store: store, index: index, filters: make(map[string]*bloomfilter.Filter)}
}

// Upload implements §4.12's upload(file): stream-hash r, pre-check the
// tenant's bloom filter, fall back to the authoritative checksum index on a
// possible hit, and only touch object storage for a genuinely new
// checksum. r must support Seek so the hash pass can rewind before the
// upload pass re-reads it.
func (s *Service) Upload(ctx context.Context, companyID, filename, contentType string, size int64, r io.ReadSeeker, useAgenticChunking bool) (models.Document, bool, error) {
	checksum, err := streamChecksum(r)
	if err != nil {
		return models.Document{}, false, fmt.Errorf("hash upload: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return models.Document{}, false, fmt.Errorf("reset stream after hashing: %w", err)
	}

	if s.filterFor(companyID).Contains(checksumHash(checksum)) {
		existing, found, err := s.index.FindByChecksum(ctx, companyID, checksum)
		if err != nil {
			return models.Document{}, false, fmt.Errorf("check existing document by checksum: %w", err)
		}
		if found {
			return existing, true, nil
		}
		// False positive: the filter said "maybe" but the authoritative
		// index disagrees. Fall through to a genuine upload.
	}

	key := blobstore.DocumentKey(companyID, filename)
	if err := s.store.Upload(ctx, key, r, nil); err != nil {
		return models.Document{}, false, fmt.Errorf("upload document: %w", err)
	}

	doc, err := s.index.CreateDocument(ctx, models.Document{
		CompanyID:          companyID,
		Filename:           filename,
		StorageKey:         key,
		Checksum:           checksum,
		ContentType:        contentType,
		FileSizeBytes:      size,
		UseAgenticChunking: useAgenticChunking,
		ExtractionStatus:   models.ExtractionStatusPending,
	})
	if err != nil {
		return models.Document{}, false, fmt.Errorf("create document row: %w", err)
	}

	s.filterFor(companyID).Add(checksumHash(checksum))
	return doc, false, nil
}

func (s *Service) filterFor(companyID string) *bloomfilter.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.filters[companyID]
	if !ok {
		var err error
		f, err = bloomfilter.New(bloomM, bloomK)
		if err != nil {
			panic(fmt.Sprintf("dedup: invalid bloom filter parameters m=%d k=%d: %v", bloomM, bloomK, err))
		}
		s.filters[companyID] = f
	}
	return f
}

// streamChecksum hashes r with a small fixed buffer, per §4.12 step 1.
func streamChecksum(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// checksumHash wraps a sha-256 checksum's leading 8 bytes as a
// hash.Hash64 the bloom filter can consume directly, avoiding a second
// hash pass over the file content.
func checksumHash(checksum string) hash.Hash64 {
	var raw [8]byte
	decoded, _ := hex.DecodeString(checksum[:16])
	copy(raw[:], decoded)
	return fixedHash64(binary.BigEndian.Uint64(raw[:]))
}

// fixedHash64 implements hash.Hash64 over a precomputed value; Write/Sum/
// Reset are no-ops since the filter only ever calls Sum64.
type fixedHash64 uint64

func (f fixedHash64) Write(p []byte) (int, error) { return len(p), nil }
func (f fixedHash64) Sum(b []byte) []byte         { return b }
func (f fixedHash64) Reset()                      {}
func (f fixedHash64) Size() int                   { return 8 }
func (f fixedHash64) BlockSize() int              { return 8 }
func (f fixedHash64) Sum64() uint64               { return uint64(f) }
