package chunkdb

import "fmt"

// Add chunk payloads are a sequence of host records:
//
//	[4-byte host key][1-byte count][count * hashLen-byte prefixes]
//
// A zero count means the host key itself is the only prefix for that
// host. The host key is always 4 bytes regardless of hashLen.
const hostKeyLen = 4

// addChunkPrefixes extracts every indexable prefix from an add chunk
// payload. Host keys with a zero count contribute themselves; otherwise
// each listed prefix is returned. A truncated payload yields the prefixes
// decoded so far plus an error.
func addChunkPrefixes(payload []byte, hashLen int) ([][]byte, error) {
	if hashLen <= 0 {
		return nil, fmt.Errorf("invalid hash length %d", hashLen)
	}
	var prefixes [][]byte
	rest := payload
	for len(rest) > 0 {
		if len(rest) < hostKeyLen+1 {
			return prefixes, fmt.Errorf("truncated host record: %d bytes left", len(rest))
		}
		hostKey := rest[:hostKeyLen]
		count := int(rest[hostKeyLen])
		rest = rest[hostKeyLen+1:]

		if count == 0 {
			prefixes = append(prefixes, cloneBytes(hostKey))
			continue
		}
		need := count * hashLen
		if len(rest) < need {
			return prefixes, fmt.Errorf("truncated prefix list: need %d bytes, have %d", need, len(rest))
		}
		for i := 0; i < count; i++ {
			prefixes = append(prefixes, cloneBytes(rest[i*hashLen:(i+1)*hashLen]))
		}
		rest = rest[need:]
	}
	return prefixes, nil
}

// cloneBytes copies b so callers never alias payload or bolt-owned memory.
func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
