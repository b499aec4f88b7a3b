package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/haukened/shavar/internal/shavar/domain"
)

// FullHashLen is the length of one full hash in a gethash response.
const FullHashLen = 32

// ParseGetHashResponse decodes a gethash response body. Each entry is
//
//	<list_name>:<add_chunk>:<hash_data_len>\n
//
// followed by exactly hash_data_len raw bytes holding one or more 32-byte
// full hashes. An empty body means no prefix matched.
func ParseGetHashResponse(body []byte) ([]domain.FullHash, error) {
	var hashes []domain.FullHash
	rest := body
	for len(rest) > 0 {
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			return nil, fmt.Errorf("gethash entry %d: unterminated header", len(hashes)+1)
		}
		header := string(rest[:nl])
		rest = rest[nl+1:]

		fields := strings.Split(header, ":")
		if len(fields) != 3 || fields[0] == "" {
			return nil, fmt.Errorf("gethash entry: malformed header %q", header)
		}
		addChunk, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("gethash entry: invalid add chunk %q", fields[1])
		}
		dataLen, err := strconv.Atoi(fields[2])
		if err != nil || dataLen <= 0 || dataLen%FullHashLen != 0 {
			return nil, fmt.Errorf("gethash entry: invalid hash data length %q", fields[2])
		}
		if dataLen > len(rest) {
			return nil, fmt.Errorf("gethash entry: hash data length %d exceeds remaining %d bytes",
				dataLen, len(rest))
		}

		for off := 0; off < dataLen; off += FullHashLen {
			h := make([]byte, FullHashLen)
			copy(h, rest[off:off+FullHashLen])
			hashes = append(hashes, domain.FullHash{
				ListName: fields[0],
				AddChunk: uint32(addChunk),
				Hash:     h,
			})
		}
		rest = rest[dataLen:]
	}
	return hashes, nil
}
