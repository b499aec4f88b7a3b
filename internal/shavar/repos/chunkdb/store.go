// Package chunkdb is the persistent chunk store behind the update
// protocol. It keeps raw chunk payloads and a prefix index in bbolt,
// answers host lookups through a cache, a bloom filter, and the index in
// that order, and implements the updater's storage delegate.
package chunkdb

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	bbolt "go.etcd.io/bbolt"
	"golang.org/x/net/idna"

	"github.com/haukened/shavar/internal/shavar/common/clock"
	"github.com/haukened/shavar/internal/shavar/common/log"
	"github.com/haukened/shavar/internal/shavar/domain"
	"github.com/haukened/shavar/internal/shavar/services/updater"
)

var (
	bucketAdds     = []byte("adds")
	bucketSubs     = []byte("subs")
	bucketPrefixes = []byte("prefixes")
	bucketMeta     = []byte("meta")

	metaUpdatedKey = []byte("updated")
)

var allBuckets = [][]byte{bucketAdds, bucketSubs, bucketPrefixes, bucketMeta}

const (
	defaultBloomCapacity = 1 << 20
	defaultBloomFPRate   = 0.001
)

// Stats captures high-level counts for the store and its lookup cache.
type Stats struct {
	AddChunks   int
	SubChunks   int
	Prefixes    int
	CacheHits   uint64
	CacheMisses uint64
	UpdatedUnix int64 // seconds since epoch, 0 before the first success
}

// Options defines configuration parameters for the chunk store.
type Options struct {
	// required parameters
	Path string
	// CacheSize is the lookup cache capacity; <= 0 disables it.
	CacheSize int
	// options to inject for testing purposes
	BloomCapacity uint
	BloomFPRate   float64
	Clock         clock.Clock
	Logger        log.Logger
}

// Store owns the bolt database. Writes arriving through the delegate
// interface are serialized on a single worker goroutine so chunk
// application keeps the order the updater issued it in; Contains is safe
// to call concurrently from any goroutine.
type Store struct {
	db     *bbolt.DB
	bloom  *prefixFilter
	cache  lookupCache
	clk    clock.Clock
	logger log.Logger

	tasks    chan func()
	quit     chan struct{}
	stopOnce sync.Once
}

// Open opens (or creates) the database at opts.Path, ensures buckets
// exist, and rebuilds the bloom filter from the persisted prefix index.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if opts.BloomCapacity == 0 {
		opts.BloomCapacity = defaultBloomCapacity
	}
	if opts.BloomFPRate <= 0 || opts.BloomFPRate >= 1 {
		opts.BloomFPRate = defaultBloomFPRate
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	cache, err := newDecisionCache(opts.CacheSize)
	if err != nil {
		return nil, err
	}

	db, err := bbolt.Open(opts.Path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		bloom:  newPrefixFilter(opts.BloomCapacity, opts.BloomFPRate),
		cache:  cache,
		clk:    opts.Clock,
		logger: opts.Logger,
		tasks:  make(chan func(), 32),
		quit:   make(chan struct{}),
	}
	if err := s.rebuildBloom(); err != nil {
		_ = db.Close()
		return nil, err
	}
	go s.run()
	return s, nil
}

// Close stops the worker and closes the database. Tasks still queued are
// dropped.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.quit) })
	return s.db.Close()
}

// rebuildBloom seeds the filter from the persisted prefix index so
// restarts keep their fast-negative path.
func (s *Store) rebuildBloom() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPrefixes).ForEach(func(k, _ []byte) error {
			s.bloom.add(k)
			return nil
		})
	})
}

// post hands fn to the worker goroutine; dropped after Close.
func (s *Store) post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.quit:
	}
}

func (s *Store) run() {
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.quit:
			return
		}
	}
}

// chunkKey encodes (list, chunk number) as list + NUL + big-endian uint32
// so a cursor prefix scan walks one list's chunks in numeric order.
func chunkKey(listName string, number uint32) []byte {
	key := make([]byte, 0, len(listName)+5)
	key = append(key, listName...)
	key = append(key, 0)
	key = binary.BigEndian.AppendUint32(key, number)
	return key
}

// splitChunkKey is the inverse of chunkKey.
func splitChunkKey(key []byte) (listName string, number uint32, ok bool) {
	i := bytes.IndexByte(key, 0)
	if i < 0 || len(key) != i+5 {
		return "", 0, false
	}
	return string(key[:i]), binary.BigEndian.Uint32(key[i+1:]), true
}

// Chunk values carry a one byte hash length header ahead of the raw
// payload so deletes can re-decode the prefixes they must release.
func encodeChunkValue(hashLen int, payload []byte) []byte {
	v := make([]byte, 0, 1+len(payload))
	v = append(v, byte(hashLen))
	return append(v, payload...)
}

func decodeChunkValue(v []byte) (hashLen int, payload []byte, ok bool) {
	if len(v) < 1 {
		return 0, nil, false
	}
	return int(v[0]), v[1:], true
}

// UpdateStarted implements updater.Delegate.
func (s *Store) UpdateStarted() {
	s.logger.Debug(nil, "update cycle started")
}

// UpdateFinished records the completion time of a successful cycle.
func (s *Store) UpdateFinished(success bool) {
	if !success {
		return
	}
	now := s.clk.Now()
	s.post(func() {
		err := s.db.Update(func(tx *bbolt.Tx) error {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(now.Unix()))
			return tx.Bucket(bucketMeta).Put(metaUpdatedKey, buf)
		})
		if err != nil {
			s.logger.Warn(map[string]any{"error": err.Error()}, "failed to record update time")
		}
	})
}

// GetChunks reads the per-list chunk numbers and reports them as range
// strings. The callback runs on the worker goroutine.
func (s *Store) GetChunks(cb updater.GetChunksCallback) {
	s.post(func() {
		adds := make(map[string][]uint32)
		subs := make(map[string][]uint32)
		err := s.db.View(func(tx *bbolt.Tx) error {
			if err := collectChunkNumbers(tx.Bucket(bucketAdds), adds); err != nil {
				return err
			}
			return collectChunkNumbers(tx.Bucket(bucketSubs), subs)
		})
		if err != nil {
			s.logger.Error(map[string]any{"error": err.Error()}, "failed to read chunk state")
			cb(nil, true)
			return
		}

		names := make(map[string]struct{})
		for name := range adds {
			names[name] = struct{}{}
		}
		for name := range subs {
			names[name] = struct{}{}
		}
		ranges := make([]domain.ListChunkRanges, 0, len(names))
		for name := range names {
			ranges = append(ranges, domain.ListChunkRanges{
				Name: name,
				Adds: domain.FormatChunkRange(adds[name]),
				Subs: domain.FormatChunkRange(subs[name]),
			})
		}
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].Name < ranges[j].Name })
		cb(ranges, false)
	})
}

func collectChunkNumbers(b *bbolt.Bucket, into map[string][]uint32) error {
	return b.ForEach(func(k, _ []byte) error {
		listName, number, ok := splitChunkKey(k)
		if !ok {
			return fmt.Errorf("malformed chunk key %q", k)
		}
		into[listName] = append(into[listName], number)
		return nil
	})
}

// AddChunks persists a batch of chunks and indexes the prefixes of add
// chunks. done fires after the batch has been committed.
func (s *Store) AddChunks(listName string, chunks []domain.ChunkData, done updater.AddChunksCallback) {
	s.post(func() {
		var indexed [][]byte
		err := s.db.Update(func(tx *bbolt.Tx) error {
			for _, c := range chunks {
				bucket := bucketSubs
				if c.IsAdd {
					bucket = bucketAdds
				}
				if err := tx.Bucket(bucket).Put(chunkKey(listName, c.Number), encodeChunkValue(c.HashLen, c.Payload)); err != nil {
					return err
				}
				if !c.IsAdd {
					continue
				}
				prefixes, perr := addChunkPrefixes(c.Payload, c.HashLen)
				if perr != nil {
					// Keep the chunk, index what decoded. The server
					// advertised this chunk number; dropping it would make
					// the next update re-send it forever.
					s.logger.Warn(map[string]any{
						"list":  listName,
						"chunk": c.Number,
						"error": perr.Error(),
					}, "partially decoded chunk payload")
				}
				for _, p := range prefixes {
					if err := bumpPrefix(tx, p, 1); err != nil {
						return err
					}
				}
				indexed = append(indexed, prefixes...)
			}
			return nil
		})
		if err != nil {
			s.logger.Error(map[string]any{"list": listName, "error": err.Error()}, "failed to commit chunk batch")
			done()
			return
		}
		for _, p := range indexed {
			s.bloom.add(p)
		}
		s.cache.Purge()
		s.logger.Debug(map[string]any{"list": listName, "chunks": len(chunks)}, "chunk batch committed")
		done()
	})
}

// DeleteChunks drops chunks and releases their prefix references.
func (s *Store) DeleteChunks(deletes []domain.ChunkDelete) {
	s.post(func() {
		err := s.db.Update(func(tx *bbolt.Tx) error {
			for _, d := range deletes {
				bucket := bucketAdds
				if d.IsSub {
					bucket = bucketSubs
				}
				key := chunkKey(d.ListName, d.Number)
				value := tx.Bucket(bucket).Get(key)
				if value == nil {
					continue
				}
				hashLen, payload, ok := decodeChunkValue(value)
				if !d.IsSub && ok {
					prefixes, perr := addChunkPrefixes(payload, hashLen)
					if perr != nil {
						s.logger.Warn(map[string]any{
							"list":  d.ListName,
							"chunk": d.Number,
							"error": perr.Error(),
						}, "partially decoded chunk payload")
					}
					for _, p := range prefixes {
						if err := bumpPrefix(tx, p, -1); err != nil {
							return err
						}
					}
				}
				if err := tx.Bucket(bucket).Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			s.logger.Error(map[string]any{"error": err.Error()}, "failed to delete chunks")
			return
		}
		// The bloom filter cannot forget; stale positives fall through to
		// the prefix bucket which is authoritative.
		s.cache.Purge()
	})
}

// bumpPrefix adjusts a prefix refcount, removing the key at zero.
func bumpPrefix(tx *bbolt.Tx, prefix []byte, delta int) error {
	b := tx.Bucket(bucketPrefixes)
	var count int64
	if v := b.Get(prefix); len(v) == 8 {
		count = int64(binary.BigEndian.Uint64(v))
	}
	count += int64(delta)
	if count <= 0 {
		return b.Delete(prefix)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(count))
	return b.Put(prefix, buf)
}

// ResetDatabase drops every bucket and clears the bloom filter and cache.
func (s *Store) ResetDatabase() {
	s.post(func() {
		err := s.db.Update(func(tx *bbolt.Tx) error {
			for _, name := range allBuckets {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
				if _, err := tx.CreateBucket(name); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			s.logger.Error(map[string]any{"error": err.Error()}, "failed to reset database")
			return
		}
		s.bloom.clear()
		s.cache.Purge()
		s.logger.Info(nil, "database reset")
	})
}

// Contains reports whether host's hash prefix is present in the store.
// The pipeline is cache, bloom, then the authoritative prefix bucket.
// Policy: on internal errors, prefer not-blocked.
func (s *Store) Contains(host string) bool {
	cn, err := canonicalHost(host)
	if err != nil {
		s.logger.Debug(map[string]any{"host": host, "error": err.Error()}, "unresolvable host name")
		return false
	}
	if blocked, ok := s.cache.Get(cn); ok {
		return blocked
	}
	prefix := hostPrefix(cn)
	if !s.bloom.mightContain(prefix) {
		s.cache.Put(cn, false)
		return false
	}
	var present bool
	err = s.db.View(func(tx *bbolt.Tx) error {
		present = tx.Bucket(bucketPrefixes).Get(prefix) != nil
		return nil
	})
	if err != nil {
		s.logger.Error(map[string]any{"error": err.Error()}, "prefix lookup failed")
		return false
	}
	s.cache.Put(cn, present)
	return present
}

// Stats returns store and cache counters.
func (s *Store) Stats() Stats {
	st := Stats{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		st.AddChunks = tx.Bucket(bucketAdds).Stats().KeyN
		st.SubChunks = tx.Bucket(bucketSubs).Stats().KeyN
		st.Prefixes = tx.Bucket(bucketPrefixes).Stats().KeyN
		if v := tx.Bucket(bucketMeta).Get(metaUpdatedKey); len(v) == 8 {
			st.UpdatedUnix = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	st.CacheHits, st.CacheMisses, _ = s.cache.Stats()
	return st
}

// canonicalHost lowercases, strips a trailing dot, and converts unicode
// labels to their punycode form so hashing matches what list producers
// hash.
func canonicalHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return "", fmt.Errorf("empty host name")
	}
	return idna.Lookup.ToASCII(host)
}

// hostPrefix is the 4-byte SHA-256 prefix of the canonical host.
func hostPrefix(cn string) []byte {
	sum := sha256.Sum256([]byte(cn))
	return sum[:hostKeyLen]
}

var _ updater.Delegate = (*Store)(nil)
