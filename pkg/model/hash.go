package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// FrameworkFields lists document fields that must be excluded from content
// hashing so that the hash is stable across writeback (spec.md §3, §8:
// "source_document_hash(d) == source_document_hash(d') whenever d and d'
// differ only in _ai_metadata or _mongoclaw_version").
var FrameworkFields = map[string]struct{}{
	"_ai_metadata":       {},
	"_mongoclaw_version": {},
}

// ContentHash computes a content hash over all fields of doc except the
// framework fields, stable under key ordering. It is used both as the
// dispatch-time source_document_hash and by require_document_hash_match
// re-reads at writeback time.
func ContentHash(doc map[string]any) string {
	h := sha256.New()
	writeCanonical(h, filterFramework(doc))
	return hex.EncodeToString(h.Sum(nil))
}

func filterFramework(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if _, excluded := FrameworkFields[k]; excluded {
			continue
		}
		out[k] = v
	}
	return out
}

// writeCanonical writes a deterministic, key-sorted byte representation of v
// into h. Maps are sorted by key; slices are walked in order (order is
// semantically significant for arrays, unlike object key order).
func writeCanonical(h interface{ Write([]byte) (int, error) }, v any) {
	switch val := v.(type) {
	case nil:
		_, _ = h.Write([]byte("null"))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = h.Write([]byte("{"))
		for _, k := range keys {
			_, _ = h.Write([]byte(strconv.Quote(k)))
			_, _ = h.Write([]byte(":"))
			writeCanonical(h, val[k])
			_, _ = h.Write([]byte(","))
		}
		_, _ = h.Write([]byte("}"))
	case []any:
		_, _ = h.Write([]byte("["))
		for _, item := range val {
			writeCanonical(h, item)
			_, _ = h.Write([]byte(","))
		}
		_, _ = h.Write([]byte("]"))
	case string:
		_, _ = h.Write([]byte(strconv.Quote(val)))
	case bool:
		_, _ = h.Write([]byte(strconv.FormatBool(val)))
	case float64:
		_, _ = h.Write([]byte(strconv.FormatFloat(val, 'g', -1, 64)))
	case int:
		_, _ = h.Write([]byte(strconv.Itoa(val)))
	case int64:
		_, _ = h.Write([]byte(strconv.FormatInt(val, 10)))
	default:
		_, _ = h.Write([]byte(fmt.Sprintf("%v", val)))
	}
}
