package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/haukened/shavar/internal/shavar/domain"
)

// ParseChunkPayload decodes a redirect fetch body into chunks for listName.
// Each chunk is a header line
//
//	a:<chunk_number>:<hash_len>:<payload_len>\n
//
// (s: for sub chunks) followed by exactly payload_len raw bytes. The
// payload may contain any byte values including newlines, so the declared
// count is authoritative; a count that overruns the remaining input is a
// parse error. An empty body decodes to no chunks.
func ParseChunkPayload(body []byte, listName string) ([]domain.ChunkData, error) {
	var chunks []domain.ChunkData
	rest := body
	for len(rest) > 0 {
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			return nil, fmt.Errorf("chunk %d: unterminated header", len(chunks)+1)
		}
		header := string(rest[:nl])
		rest = rest[nl+1:]

		isAdd, number, hashLen, payloadLen, err := parseChunkHeader(header)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", len(chunks)+1, err)
		}
		if payloadLen > len(rest) {
			return nil, fmt.Errorf("chunk %d: payload length %d exceeds remaining %d bytes",
				len(chunks)+1, payloadLen, len(rest))
		}

		payload := make([]byte, payloadLen)
		copy(payload, rest[:payloadLen])
		rest = rest[payloadLen:]

		chunks = append(chunks, domain.ChunkData{
			ListName: listName,
			Number:   number,
			IsAdd:    isAdd,
			HashLen:  hashLen,
			Payload:  payload,
		})
	}
	return chunks, nil
}

func parseChunkHeader(header string) (isAdd bool, number uint32, hashLen, payloadLen int, err error) {
	fields := strings.Split(header, ":")
	if len(fields) != 4 {
		return false, 0, 0, 0, fmt.Errorf("malformed header %q", header)
	}
	switch fields[0] {
	case "a":
		isAdd = true
	case "s":
		isAdd = false
	default:
		return false, 0, 0, 0, fmt.Errorf("unknown chunk type %q", fields[0])
	}
	n, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return false, 0, 0, 0, fmt.Errorf("invalid chunk number %q", fields[1])
	}
	hashLen, err = strconv.Atoi(fields[2])
	if err != nil || hashLen <= 0 {
		return false, 0, 0, 0, fmt.Errorf("invalid hash length %q", fields[2])
	}
	payloadLen, err = strconv.Atoi(fields[3])
	if err != nil || payloadLen < 0 {
		return false, 0, 0, 0, fmt.Errorf("invalid payload length %q", fields[3])
	}
	return isAdd, uint32(n), hashLen, payloadLen, nil
}
