package domain

import "fmt"

// Well-known list names every client is expected to advertise, even when it
// holds no chunks for them yet.
const (
	PhishingList = "goog-phish-shavar"
	MalwareList  = "goog-malware-shavar"
)

// DefaultLists returns the lists an update request must always cover.
func DefaultLists() []string {
	return []string{PhishingList, MalwareList}
}

// ListChunkRanges describes which add and sub chunks the client already
// holds for one list. Adds and Subs are canonical range strings such as
// "1,4,6,8-20,99"; either may be empty. They are opaque at this layer and
// only ever serialized, never computed with.
type ListChunkRanges struct {
	Name string
	Adds string
	Subs string
}

// NewListChunkRanges constructs a ListChunkRanges with an empty state.
func NewListChunkRanges(name string) (ListChunkRanges, error) {
	if name == "" {
		return ListChunkRanges{}, fmt.Errorf("list name must not be empty")
	}
	return ListChunkRanges{Name: name}, nil
}

// FormatList renders the on-wire description of one list's local state.
// The server parses this literal grammar, so the output must be exact:
//
//	both empty:   "name;\n"
//	adds only:    "name;a:1,2\n"
//	subs only:    "name;s:3,4\n"
//	both present: "name;a:1,2:s:3,4\n"
func FormatList(r ListChunkRanges) string {
	s := r.Name + ";"
	if r.Adds != "" {
		s += "a:" + r.Adds
		if r.Subs != "" {
			s += ":"
		}
	}
	if r.Subs != "" {
		s += "s:" + r.Subs
	}
	return s + "\n"
}

// ChunkData is one decoded chunk from a redirect fetch. Payload is opaque
// host/prefix record bytes owned by whoever receives the value.
type ChunkData struct {
	ListName string
	Number   uint32
	IsAdd    bool
	HashLen  int
	Payload  []byte
}

// ChunkDelete instructs the store to drop a single numbered chunk.
type ChunkDelete struct {
	ListName string
	Number   uint32
	IsSub    bool
}

// FullHash is one full-length hash returned by a gethash request, tagged
// with the list and add chunk it came from.
type FullHash struct {
	ListName string
	AddChunk uint32
	Hash     []byte
}
