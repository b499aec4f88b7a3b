// Package wire parses the line-oriented protocol bodies the update server
// sends: the update response grammar, the byte-counted chunk payload
// grammar, and the gethash response grammar. Parsing is strictly
// parse-then-apply: a body either decodes fully or is rejected whole, so a
// bad line never leaves partial state behind.
package wire

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haukened/shavar/internal/shavar/domain"
)

// Redirect is one u: directive: fetch chunk data for ListName from URL.
// URL is the raw fragment from the wire; scheme normalization happens when
// the request is built.
type Redirect struct {
	ListName string
	URL      string
}

// UpdateResponse is the decoded form of one update response body.
type UpdateResponse struct {
	// NextDelay is the server-mandated minimum wait before the next update
	// (the n: directive), or zero when absent.
	NextDelay time.Duration
	// Reset reports an r:pleasereset directive: the whole local database
	// must be discarded. Independent of any other directives present.
	Reset bool
	// Rekey reports an e:pleaserekey directive.
	Rekey bool
	// Redirects lists chunk fetches to perform, in response order.
	Redirects []Redirect
	// Deletes lists individual chunk deletions expanded from ad:/sd:
	// range directives.
	Deletes []domain.ChunkDelete
}

// ParseUpdateResponse decodes an update response body. An empty body is
// valid and means "no changes". Any unrecognized or malformed line rejects
// the entire body.
func ParseUpdateResponse(body []byte) (UpdateResponse, error) {
	var resp UpdateResponse
	currentList := ""

	lines := strings.Split(string(body), "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		directive, rest, found := strings.Cut(line, ":")
		if !found {
			return UpdateResponse{}, fmt.Errorf("line %d: missing directive separator in %q", i+1, line)
		}
		switch directive {
		case "i":
			if rest == "" {
				return UpdateResponse{}, fmt.Errorf("line %d: empty list name", i+1)
			}
			currentList = rest
		case "u":
			if currentList == "" {
				return UpdateResponse{}, fmt.Errorf("line %d: redirect before any list context", i+1)
			}
			if rest == "" {
				return UpdateResponse{}, fmt.Errorf("line %d: empty redirect url", i+1)
			}
			resp.Redirects = append(resp.Redirects, Redirect{ListName: currentList, URL: rest})
		case "ad", "sd":
			if currentList == "" {
				return UpdateResponse{}, fmt.Errorf("line %d: chunk delete before any list context", i+1)
			}
			nums, err := domain.ParseChunkRange(rest)
			if err != nil {
				return UpdateResponse{}, fmt.Errorf("line %d: %w", i+1, err)
			}
			for _, n := range nums {
				resp.Deletes = append(resp.Deletes, domain.ChunkDelete{
					ListName: currentList,
					Number:   n,
					IsSub:    directive == "sd",
				})
			}
		case "n":
			secs, err := strconv.Atoi(rest)
			if err != nil || secs < 0 {
				return UpdateResponse{}, fmt.Errorf("line %d: invalid next-update delay %q", i+1, rest)
			}
			resp.NextDelay = time.Duration(secs) * time.Second
		case "r":
			if rest != "pleasereset" {
				return UpdateResponse{}, fmt.Errorf("line %d: unknown reset directive %q", i+1, rest)
			}
			resp.Reset = true
		case "e":
			if rest != "pleaserekey" {
				return UpdateResponse{}, fmt.Errorf("line %d: unknown key directive %q", i+1, rest)
			}
			resp.Rekey = true
		default:
			return UpdateResponse{}, fmt.Errorf("line %d: unrecognized directive %q", i+1, line)
		}
	}
	return resp, nil
}
