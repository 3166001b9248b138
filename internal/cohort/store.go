package cohort

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yungbote/phenoscope-backend/internal/apperr"
	"github.com/yungbote/phenoscope-backend/internal/logger"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

// ErrObjectNotFound is returned by BundleReader implementations when the
// requested key does not exist. The store maps it to CohortNotFound.
var ErrObjectNotFound = errors.New("object not found")

// BundleReader is the narrow view of object storage the store needs: open a
// key for reading, list keys under a prefix. No writes.
type BundleReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

const bundleSuffix = ".bundle.json.gz"

type StoreConfig struct {
	Prefix   string
	Capacity int
	Retries  int
	Backoff  time.Duration
}

// Store loads cohort references on demand and holds them in a small LRU.
// Loads for the same cohort are deduplicated: concurrent callers wait on the
// first load rather than each issuing a storage read. References handed out
// are shared and read-only.
type Store struct {
	log    *logger.Logger
	reader BundleReader
	cfg    StoreConfig

	group singleflight.Group

	mu    sync.Mutex
	order *list.List // front = most recently used
	items map[string]*list.Element
}

type storeEntry struct {
	cohortID string
	ref      *types.CohortReference
}

func NewStore(baseLog *logger.Logger, reader BundleReader, cfg StoreConfig) *Store {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	return &Store{
		log:    baseLog.With("component", "CohortStore"),
		reader: reader,
		cfg:    cfg,
		order:  list.New(),
		items:  make(map[string]*list.Element),
	}
}

// Load returns the reference for a cohort, reading and decoding the bundle
// on first use. Transient storage failures are retried with exponential
// backoff before surfacing as StorageError; a missing object is
// CohortNotFound immediately and a malformed bundle CorruptData immediately,
// neither is retried.
func (s *Store) Load(ctx context.Context, cohortID string) (*types.CohortReference, error) {
	if ref, ok := s.cached(cohortID); ok {
		return ref, nil
	}

	v, err, _ := s.group.Do(cohortID, func() (any, error) {
		if ref, ok := s.cached(cohortID); ok {
			return ref, nil
		}
		ref, err := s.load(ctx, cohortID)
		if err != nil {
			return nil, err
		}
		s.insert(cohortID, ref)
		return ref, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.CohortReference), nil
}

// ListCohorts enumerates the cohort ids available in storage.
func (s *Store) ListCohorts(ctx context.Context) ([]string, error) {
	keys, err := s.reader.List(ctx, s.cfg.Prefix)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageError, fmt.Errorf("list cohorts: %w", err))
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		base := path.Base(key)
		if !strings.HasSuffix(base, bundleSuffix) {
			continue
		}
		out = append(out, strings.TrimSuffix(base, bundleSuffix))
	}
	return out, nil
}

func (s *Store) key(cohortID string) string {
	return path.Join(s.cfg.Prefix, cohortID+bundleSuffix)
}

func (s *Store) load(ctx context.Context, cohortID string) (*types.CohortReference, error) {
	key := s.key(cohortID)
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
		rc, err := s.reader.Open(ctx, key)
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				return nil, apperr.New(apperr.KindCohortNotFound, "no such cohort %q", cohortID)
			}
			lastErr = err
			s.log.Warn("Cohort bundle read failed",
				"cohort_id", cohortID, "attempt", attempt, "error", err)
			if attempt < s.cfg.Retries {
				if err := s.sleep(ctx, attempt); err != nil {
					return nil, apperr.Wrap(apperr.KindStorageError, err)
				}
			}
			continue
		}

		ref, err := DecodeBundle(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		if ref.CohortID != cohortID {
			return nil, apperr.New(apperr.KindCorruptData,
				"bundle at %s declares cohort_id %q", key, ref.CohortID)
		}
		s.log.Info("Cohort reference loaded",
			"cohort_id", cohortID,
			"samples", ref.N,
			"rank", ref.K,
			"variants", len(ref.Variants),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return ref, nil
	}
	return nil, apperr.Wrap(apperr.KindStorageError,
		fmt.Errorf("loading cohort %q failed after %d attempts: %w", cohortID, s.cfg.Retries, lastErr))
}

func (s *Store) sleep(ctx context.Context, attempt int) error {
	d := s.cfg.Backoff << (attempt - 1)
	d += time.Duration(rand.Int63n(int64(s.cfg.Backoff)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (s *Store) cached(cohortID string) (*types.CohortReference, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[cohortID]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*storeEntry).ref, true
}

func (s *Store) insert(cohortID string, ref *types.CohortReference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[cohortID]; ok {
		s.order.MoveToFront(el)
		el.Value.(*storeEntry).ref = ref
		return
	}
	s.items[cohortID] = s.order.PushFront(&storeEntry{cohortID: cohortID, ref: ref})
	for len(s.items) > s.cfg.Capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*storeEntry)
		s.order.Remove(oldest)
		delete(s.items, entry.cohortID)
		s.log.Info("Cohort reference evicted", "cohort_id", entry.cohortID)
	}
}
