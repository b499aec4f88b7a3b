// Package request builds the URLs and bodies for outgoing protocol
// requests. Query parameters are emitted in a fixed order (client, appver,
// pver, key, additional_query) because servers and test harnesses match
// these URLs literally; url.Values would shuffle them.
package request

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/haukened/shavar/internal/shavar/domain"
)

// Options identifies the client to the server. AdditionalQuery is an
// opaque diagnostic token appended verbatim to every URL.
type Options struct {
	ClientName      string
	AppVersion      string
	ProtocolVersion string
	Key             string
	AdditionalQuery string
}

// Builder constructs protocol URLs for a fixed client identity.
type Builder struct {
	opts Options
}

// NewBuilder returns a Builder, or an error when a required identity field
// is missing.
func NewBuilder(opts Options) (*Builder, error) {
	if opts.ClientName == "" {
		return nil, fmt.Errorf("client name is required")
	}
	if opts.AppVersion == "" {
		return nil, fmt.Errorf("app version is required")
	}
	if opts.ProtocolVersion == "" {
		return nil, fmt.Errorf("protocol version is required")
	}
	return &Builder{opts: opts}, nil
}

// SetAdditionalQuery replaces the diagnostic query token.
func (b *Builder) SetAdditionalQuery(q string) {
	b.opts.AdditionalQuery = q
}

// UpdateURL returns the chunk update endpoint under prefix.
func (b *Builder) UpdateURL(prefix string) string {
	return b.composedURL(prefix, "downloads")
}

// GetHashURL returns the full-hash resolution endpoint under prefix.
func (b *Builder) GetHashURL(prefix string) string {
	return b.composedURL(prefix, "gethash")
}

// NextChunkURL normalizes a redirect fragment into a fetchable URL. A
// fragment without a scheme gets https; an explicit http or https scheme is
// preserved. The additional query token is appended to an existing query
// with '&', or starts one as a bare token.
func (b *Builder) NextChunkURL(fragment string) string {
	u := fragment
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	if b.opts.AdditionalQuery != "" {
		if strings.Contains(u, "?") {
			u += "&" + b.opts.AdditionalQuery
		} else {
			u += "?" + b.opts.AdditionalQuery
		}
	}
	return u
}

func (b *Builder) composedURL(prefix, method string) string {
	u := fmt.Sprintf("%s/%s?client=%s&appver=%s&pver=%s",
		prefix, method,
		url.QueryEscape(b.opts.ClientName),
		url.QueryEscape(b.opts.AppVersion),
		url.QueryEscape(b.opts.ProtocolVersion))
	if b.opts.Key != "" {
		u += "&key=" + url.QueryEscape(b.opts.Key)
	}
	if b.opts.AdditionalQuery != "" {
		u += "&" + b.opts.AdditionalQuery
	}
	return u
}

// UpdateBody renders the request body advertising the local chunk state.
// Lists the delegate reported come first in their given order; well-known
// lists it did not report are appended with empty ranges so the server
// still serves them.
func UpdateBody(ranges []domain.ListChunkRanges) string {
	var b strings.Builder
	seen := make(map[string]struct{}, len(ranges))
	for _, r := range ranges {
		b.WriteString(domain.FormatList(r))
		seen[r.Name] = struct{}{}
	}
	for _, name := range domain.DefaultLists() {
		if _, ok := seen[name]; !ok {
			b.WriteString(domain.FormatList(domain.ListChunkRanges{Name: name}))
		}
	}
	return b.String()
}

// GetHashBody renders a gethash request body for 4-byte prefixes:
// "<prefix_len>:<total_len>\n" followed by the concatenated prefixes.
func GetHashBody(prefixes [][]byte) (string, error) {
	const prefixLen = 4
	var data strings.Builder
	for _, p := range prefixes {
		if len(p) != prefixLen {
			return "", fmt.Errorf("prefix length %d, want %d", len(p), prefixLen)
		}
		data.Write(p)
	}
	if data.Len() == 0 {
		return "", fmt.Errorf("no prefixes to request")
	}
	return fmt.Sprintf("%d:%d\n%s", prefixLen, data.Len(), data.String()), nil
}
