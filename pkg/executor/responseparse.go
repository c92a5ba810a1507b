package executor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/codeready-toolchain/mongoclaw/pkg/model"
)

var (
	jsonBlockPattern  = regexp.MustCompile("(?is)```(?:json)?\\s*\\n?(.*?)\\n?```")
	trailingCommaRe   = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe     = regexp.MustCompile(`([{,])\s*(\w+)\s*:`)
)

// parseResponse extracts structured data from a raw AI completion, trying
// progressively looser strategies, grounded on
// ai/response_parser.py's ResponseParser._extract_json ladder: direct JSON,
// a fenced markdown code block, the first balanced {...} or [...]
// substring, and finally a lenient repair pass (trailing commas, unquoted
// keys, single quotes). When every strategy fails, strict mode returns
// model.ErrAIParse; otherwise the raw text is returned wrapped as
// {"content": raw, "_raw": true}.
func parseResponse(raw string, strict bool) (map[string]any, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return nil, fmt.Errorf("%w: empty response content", model.ErrAIParse)
	}

	if parsed, ok := tryUnmarshalObject(content); ok {
		return parsed, nil
	}

	if m := jsonBlockPattern.FindStringSubmatch(content); m != nil {
		if parsed, ok := tryUnmarshalObject(strings.TrimSpace(m[1])); ok {
			return parsed, nil
		}
	}

	if block, ok := firstBalanced(content, '{', '}'); ok {
		if parsed, ok := tryUnmarshalObject(block); ok {
			return parsed, nil
		}
	}

	if block, ok := firstBalanced(content, '[', ']'); ok {
		if parsed, ok := tryUnmarshalArray(block); ok {
			return parsed, nil
		}
	}

	if fixed, ok := repairJSON(content); ok {
		if parsed, ok := tryUnmarshalObject(fixed); ok {
			return parsed, nil
		}
		if parsed, ok := tryUnmarshalArray(fixed); ok {
			return parsed, nil
		}
	}

	if strict {
		return nil, fmt.Errorf("%w: could not extract JSON from response", model.ErrAIParse)
	}
	return map[string]any{"content": content, "_raw": true}, nil
}

func tryUnmarshalObject(s string) (map[string]any, bool) {
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// tryUnmarshalArray wraps a top-level JSON array under "items" so callers
// can treat every successful parse as a map, matching how writeback always
// expects a dict of fields to merge or nest.
func tryUnmarshalArray(s string) (map[string]any, bool) {
	var v []any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return map[string]any{"items": v}, true
}

// firstBalanced returns the substring spanning the first open..matching
// close bracket pair, honoring string literals so brackets inside quoted
// strings do not throw off the depth count.
func firstBalanced(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// repairJSON applies the same lenient fixups as _fix_json: strip trailing
// commas before a closing bracket, quote bare object keys, and normalize
// single quotes to double quotes, then re-slice to the outermost bracket
// pair found.
func repairJSON(s string) (string, bool) {
	fixed := trailingCommaRe.ReplaceAllString(s, "$1")
	fixed = unquotedKeyRe.ReplaceAllString(fixed, `$1 "$2":`)
	fixed = strings.ReplaceAll(fixed, "'", `"`)

	if start := strings.IndexByte(fixed, '{'); start >= 0 {
		if end := strings.LastIndexByte(fixed, '}'); end > start {
			return fixed[start : end+1], true
		}
	}
	if start := strings.IndexByte(fixed, '['); start >= 0 {
		if end := strings.LastIndexByte(fixed, ']'); end > start {
			return fixed[start : end+1], true
		}
	}
	return "", false
}
