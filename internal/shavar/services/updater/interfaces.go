package updater

import (
	"context"

	"github.com/haukened/shavar/internal/shavar/domain"
)

// GetChunksCallback delivers the locally known chunk ranges per list.
// databaseError true means local storage could not be read; the ranges are
// meaningless in that case.
type GetChunksCallback func(ranges []domain.ListChunkRanges, databaseError bool)

// AddChunksCallback signals that a batch of chunks has been committed.
type AddChunksCallback func()

// Delegate is the contract with the component owning persistent chunk
// storage. The updater is not re-entrant: AddChunks implementations must
// invoke done asynchronously, exactly once. DeleteChunks and ResetDatabase
// are fire-and-forget and must not block the caller.
type Delegate interface {
	// UpdateStarted is called once at the start of each update cycle.
	UpdateStarted()
	// UpdateFinished is called exactly once per cycle with the outcome.
	UpdateFinished(success bool)
	// GetChunks asks for the local chunk state; cb may be invoked
	// synchronously or later from another goroutine.
	GetChunks(cb GetChunksCallback)
	// AddChunks takes ownership of chunks for listName.
	AddChunks(listName string, chunks []domain.ChunkData, done AddChunksCallback)
	// DeleteChunks drops the identified chunks.
	DeleteChunks(deletes []domain.ChunkDelete)
	// ResetDatabase discards the entire local database.
	ResetDatabase()
}

// Response is a completed HTTP exchange as the updater sees it.
type Response struct {
	StatusCode int
	Body       []byte
}

// Fetcher performs one HTTPS POST and returns the response. Transport
// failures are reported as an error (a *domain.FetchError when the kind is
// known); HTTP-level status codes are returned in Response, not as errors.
type Fetcher interface {
	Do(ctx context.Context, url string, body []byte) (Response, error)
}

// GetFullHashesCallback delivers resolved full hashes; empty when nothing
// matched, the request failed, or gethash is inside its backoff window.
type GetFullHashesCallback func(hashes []domain.FullHash)
