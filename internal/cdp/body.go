package cdp

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

// encodeBody renders a response body as HAR content text. Bodies that are
// not valid UTF-8 are base64 encoded. A body longer than maxBytes is cut and
// the returned note records the original size and digest.
func encodeBody(body []byte, maxBytes int) (text, encoding, note string) {
	kept, truncated, originalSize, digest := truncateBytes(body, maxBytes)
	if truncated {
		note = fmt.Sprintf("truncated from %d bytes, sha256 %s", originalSize, digest)
	}
	if utf8.Valid(kept) {
		return string(kept), "", note
	}
	return base64.StdEncoding.EncodeToString(kept), "base64", note
}

func truncateBytes(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}
