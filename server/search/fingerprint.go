package search

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/gear6io/gharp/server/query"
)

// Fingerprint is the cache key of a search: a SHA-256 over the term, mode,
// column, effective row cap and the sorted file set. File order never
// changes the key; a different cap always does.
func Fingerprint(term string, mode query.Mode, column string, files []string, limit int) string {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(term)
	b.WriteByte(0)
	b.WriteString(string(mode))
	b.WriteByte(0)
	b.WriteString(column)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(limit))
	for _, f := range sorted {
		b.WriteByte(0)
		b.WriteString(f)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
