package chunkdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/shavar/internal/shavar/common/clock"
	"github.com/haukened/shavar/internal/shavar/common/log"
	"github.com/haukened/shavar/internal/shavar/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{
		Path:      filepath.Join(t.TempDir(), "chunks.db"),
		CacheSize: 16,
		Logger:    log.NewNoopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// addHostChunk commits one add chunk whose only record is the host key of
// host, and waits for the commit.
func addHostChunk(t *testing.T, s *Store, listName string, number uint32, host string) {
	t.Helper()
	cn, err := canonicalHost(host)
	require.NoError(t, err)
	payload := append(hostPrefix(cn), 0)
	addChunks(t, s, listName, []domain.ChunkData{{
		ListName: listName,
		Number:   number,
		IsAdd:    true,
		HashLen:  4,
		Payload:  payload,
	}})
}

func addChunks(t *testing.T, s *Store, listName string, chunks []domain.ChunkData) {
	t.Helper()
	done := make(chan struct{})
	s.AddChunks(listName, chunks, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AddChunks to commit")
	}
}

func getChunks(t *testing.T, s *Store) []domain.ListChunkRanges {
	t.Helper()
	type result struct {
		ranges []domain.ListChunkRanges
		dbErr  bool
	}
	results := make(chan result, 1)
	s.GetChunks(func(ranges []domain.ListChunkRanges, databaseError bool) {
		results <- result{ranges, databaseError}
	})
	select {
	case res := <-results:
		require.False(t, res.dbErr)
		return res.ranges
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for GetChunks")
		return nil
	}
}

// sync waits until every previously posted write has been applied.
func syncStore(t *testing.T, s *Store) {
	t.Helper()
	done := make(chan struct{})
	s.post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the store worker")
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestStore_EmptyState(t *testing.T) {
	s := openTestStore(t)
	assert.Empty(t, getChunks(t, s))
	assert.False(t, s.Contains("example.com"))
}

func TestStore_AddChunksAndGetChunks(t *testing.T) {
	s := openTestStore(t)

	addChunks(t, s, domain.PhishingList, []domain.ChunkData{
		{ListName: domain.PhishingList, Number: 1, IsAdd: true, HashLen: 4, Payload: []byte("host\x00")},
		{ListName: domain.PhishingList, Number: 2, IsAdd: true, HashLen: 4, Payload: []byte("host\x00")},
		{ListName: domain.PhishingList, Number: 4, IsAdd: true, HashLen: 4, Payload: []byte("host\x00")},
		{ListName: domain.PhishingList, Number: 7, IsAdd: false, HashLen: 4, Payload: []byte("sub payload")},
	})
	addChunks(t, s, domain.MalwareList, []domain.ChunkData{
		{ListName: domain.MalwareList, Number: 10, IsAdd: true, HashLen: 4, Payload: []byte("host\x00")},
	})

	assert.Equal(t, []domain.ListChunkRanges{
		{Name: domain.MalwareList, Adds: "10"},
		{Name: domain.PhishingList, Adds: "1-2,4", Subs: "7"},
	}, getChunks(t, s))
}

func TestStore_Contains(t *testing.T) {
	s := openTestStore(t)
	addHostChunk(t, s, domain.PhishingList, 1, "evil.example.com")

	assert.True(t, s.Contains("evil.example.com"))
	assert.True(t, s.Contains("EVIL.Example.COM."), "lookup must be case and trailing-dot insensitive")
	assert.False(t, s.Contains("good.example.org"))
	assert.False(t, s.Contains(""))

	// Second hit comes from the cache.
	assert.True(t, s.Contains("evil.example.com"))
	hits, _, _ := s.cache.Stats()
	assert.NotZero(t, hits)
}

func TestStore_ContainsUnicodeHost(t *testing.T) {
	s := openTestStore(t)
	// The punycode form is what gets hashed, so either spelling matches.
	addHostChunk(t, s, domain.PhishingList, 1, "xn--bcher-kva.example")
	assert.True(t, s.Contains("bücher.example"))
}

func TestStore_DeleteChunks(t *testing.T) {
	s := openTestStore(t)
	addHostChunk(t, s, domain.PhishingList, 1, "evil.example.com")
	require.True(t, s.Contains("evil.example.com"))

	s.DeleteChunks([]domain.ChunkDelete{{ListName: domain.PhishingList, Number: 1}})
	syncStore(t, s)

	assert.False(t, s.Contains("evil.example.com"))
	assert.Empty(t, getChunks(t, s))
}

// Two chunks referencing the same prefix keep it resolvable until both are
// gone.
func TestStore_DeleteChunksRefcounting(t *testing.T) {
	s := openTestStore(t)
	addHostChunk(t, s, domain.PhishingList, 1, "evil.example.com")
	addHostChunk(t, s, domain.PhishingList, 2, "evil.example.com")

	s.DeleteChunks([]domain.ChunkDelete{{ListName: domain.PhishingList, Number: 1}})
	syncStore(t, s)
	assert.True(t, s.Contains("evil.example.com"))

	s.DeleteChunks([]domain.ChunkDelete{{ListName: domain.PhishingList, Number: 2}})
	syncStore(t, s)
	assert.False(t, s.Contains("evil.example.com"))
}

func TestStore_DeleteUnknownChunkIsNoop(t *testing.T) {
	s := openTestStore(t)
	s.DeleteChunks([]domain.ChunkDelete{{ListName: domain.PhishingList, Number: 99}})
	syncStore(t, s)
	assert.Empty(t, getChunks(t, s))
}

func TestStore_ResetDatabase(t *testing.T) {
	s := openTestStore(t)
	addHostChunk(t, s, domain.PhishingList, 1, "evil.example.com")
	require.True(t, s.Contains("evil.example.com"))

	s.ResetDatabase()
	syncStore(t, s)

	assert.False(t, s.Contains("evil.example.com"))
	assert.Empty(t, getChunks(t, s))
	st := s.Stats()
	assert.Zero(t, st.AddChunks)
	assert.Zero(t, st.Prefixes)
}

// Reopening the database keeps the chunk state and reseeds the bloom
// filter from the prefix index.
func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	s, err := Open(Options{Path: path, Logger: log.NewNoopLogger()})
	require.NoError(t, err)
	addHostChunk(t, s, domain.PhishingList, 1, "evil.example.com")
	require.NoError(t, s.Close())

	s, err = Open(Options{Path: path, Logger: log.NewNoopLogger()})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Contains("evil.example.com"))
	assert.Equal(t, []domain.ListChunkRanges{
		{Name: domain.PhishingList, Adds: "1"},
	}, getChunks(t, s))
}

func TestStore_UpdateFinishedRecordsTime(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := Open(Options{
		Path:   filepath.Join(t.TempDir(), "chunks.db"),
		Clock:  &clock.MockClock{CurrentTime: when},
		Logger: log.NewNoopLogger(),
	})
	require.NoError(t, err)
	defer s.Close()

	s.UpdateFinished(false)
	syncStore(t, s)
	assert.Zero(t, s.Stats().UpdatedUnix)

	s.UpdateFinished(true)
	syncStore(t, s)
	assert.Equal(t, when.Unix(), s.Stats().UpdatedUnix)
}

func TestStore_Stats(t *testing.T) {
	s := openTestStore(t)
	addChunks(t, s, domain.PhishingList, []domain.ChunkData{
		{ListName: domain.PhishingList, Number: 1, IsAdd: true, HashLen: 4, Payload: []byte("aaaa\x00")},
		{ListName: domain.PhishingList, Number: 2, IsAdd: false, HashLen: 4, Payload: []byte("whatever")},
	})

	st := s.Stats()
	assert.Equal(t, 1, st.AddChunks)
	assert.Equal(t, 1, st.SubChunks)
	assert.Equal(t, 1, st.Prefixes)
}

func TestChunkKeyRoundTrip(t *testing.T) {
	key := chunkKey("goog-phish-shavar", 42)
	listName, number, ok := splitChunkKey(key)
	require.True(t, ok)
	assert.Equal(t, "goog-phish-shavar", listName)
	assert.Equal(t, uint32(42), number)

	_, _, ok = splitChunkKey([]byte("no separator"))
	assert.False(t, ok)
}
