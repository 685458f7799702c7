package backup

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/penguinchat/penguinchat/internal/blob"
	"github.com/penguinchat/penguinchat/internal/chat"
	"github.com/penguinchat/penguinchat/internal/ledger"
)

// ScanOptions tune the recovery scanner.
type ScanOptions struct {
	BlobType    string
	CallTimeout time.Duration
	Concurrency int
	CacheSize   int
}

// Found is one valid backup discovered during a scan.
type Found struct {
	Object ledger.Object
	BlobID string
	Data   Data
}

// ScanStats counts what a scan saw. Corrupt counts invalid payloads that
// carried our app id; Foreign counts everything else that was rejected.
// Dropped counts undecodable messages inside otherwise valid backups.
type ScanStats struct {
	Objects int `json:"objects"`
	Valid   int `json:"valid"`
	Failed  int `json:"failed"`
	Corrupt int `json:"corrupt"`
	Foreign int `json:"foreign"`
	Dropped int `json:"dropped"`
}

// Scanner finds a wallet's backups through the ownership registry and
// fetches them from the blob store. It never writes to either.
type Scanner struct {
	registry ledger.Registry
	reader   blob.Reader
	log      *zap.Logger
	opts     ScanOptions
	cache    *lru.Cache[string, []byte]
}

// NewScanner creates a scanner. Blobs are immutable, so fetched payloads are
// kept in an LRU cache of opts.CacheSize entries.
func NewScanner(reg ledger.Registry, reader blob.Reader, log *zap.Logger, opts ScanOptions) (*Scanner, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 128
	}
	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("blob cache: %w", err)
	}
	return &Scanner{registry: reg, reader: reader, log: log, opts: opts, cache: cache}, nil
}

// Objects lists owner's blob objects without fetching them.
func (s *Scanner) Objects(ctx context.Context, owner string) ([]ledger.Object, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	objs, err := s.registry.OwnedObjects(ctx, owner, s.opts.BlobType)
	if err != nil {
		return nil, fmt.Errorf("query owned objects of %s: %w", owner, err)
	}
	return objs, nil
}

// Scan calls fn for every valid backup owned by owner. Only a registry
// failure fails the scan; an object that cannot be fetched or validated is
// logged and skipped. fn is never called concurrently.
func (s *Scanner) Scan(ctx context.Context, owner string, fn func(Found)) (ScanStats, error) {
	_, stats, err := s.scan(ctx, owner, fn)
	return stats, err
}

func (s *Scanner) scan(ctx context.Context, owner string, fn func(Found)) ([]*Found, ScanStats, error) {
	objs, err := s.Objects(ctx, owner)
	if err != nil {
		return nil, ScanStats{}, err
	}

	var (
		mu      sync.Mutex
		stats   = ScanStats{Objects: len(objs)}
		results = make([]*Found, len(objs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, obj := range objs {
		g.Go(func() error {
			found, verdict, err := s.inspect(gctx, obj)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Failed++
				s.log.Warn("skipping backup object", zap.String("wallet", owner), zap.String("object_id", obj.ID), zap.Error(err))
			case !verdict.Valid && verdict.Tagged():
				stats.Corrupt++
				s.log.Warn("skipping corrupt backup", zap.String("wallet", owner), zap.String("object_id", obj.ID),
					zap.String("blob_id", found.BlobID), zap.String("reason", string(verdict.Reason)), zap.String("detail", verdict.Detail))
			case !verdict.Valid:
				stats.Foreign++
				s.log.Debug("skipping foreign blob", zap.String("object_id", obj.ID), zap.String("reason", string(verdict.Reason)))
			default:
				stats.Valid++
				if verdict.Dropped > 0 {
					stats.Dropped += verdict.Dropped
					s.log.Warn("backup has undecodable messages", zap.String("wallet", owner),
						zap.String("blob_id", found.BlobID), zap.Int("dropped", verdict.Dropped))
				}
				results[i] = &found
				if fn != nil {
					fn(found)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, stats, ctx.Err()
}

func (s *Scanner) inspect(ctx context.Context, obj ledger.Object) (Found, Verdict, error) {
	id := obj.BlobID
	if id == "" {
		id = obj.ID
	}
	found := Found{Object: obj, BlobID: id}

	raw, err := s.fetch(ctx, id)
	if err != nil {
		return found, Verdict{}, err
	}
	verdict := Validate(raw)
	found.Data = verdict.Data
	return found, verdict, nil
}

// Fetch returns a blob, from cache when possible, under the call timeout.
func (s *Scanner) Fetch(ctx context.Context, blobID string) ([]byte, error) {
	return s.fetch(ctx, blobID)
}

func (s *Scanner) fetch(ctx context.Context, blobID string) ([]byte, error) {
	if raw, ok := s.cache.Get(blobID); ok {
		return raw, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	raw, err := s.reader.Get(ctx, blobID)
	if err != nil {
		return nil, fmt.Errorf("fetch blob %s: %w", blobID, err)
	}
	s.cache.Add(blobID, raw)
	return raw, nil
}

// Recover collects every message from owner's valid backups. Each backup's
// messages are handed to onBatch as soon as that backup is validated; the
// returned list holds all of them sorted by timestamp, oldest first.
func (s *Scanner) Recover(ctx context.Context, owner string, onBatch func([]chat.Message)) ([]chat.Message, ScanStats, error) {
	results, stats, err := s.scan(ctx, owner, func(f Found) {
		if onBatch != nil {
			if msgs := f.Data.Messages(); len(msgs) > 0 {
				onBatch(msgs)
			}
		}
	})
	if err != nil {
		return nil, stats, err
	}

	var all []chat.Message
	for _, f := range results {
		if f != nil {
			all = append(all, f.Data.Messages()...)
		}
	}
	slices.SortStableFunc(all, func(a, b chat.Message) int { return a.Timestamp.Compare(b.Timestamp) })
	return all, stats, nil
}
