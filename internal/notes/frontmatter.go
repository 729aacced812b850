package notes

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var frontMatterDelimiter = []byte("---")

// splitFrontMatter separates a leading front-matter block (key: value lines
// bounded by "---" delimiters) from the body. Returns nil metadata and the
// original content when no block is present. The body slice is cut at raw
// byte positions so CRLF line endings never shift it.
func splitFrontMatter(raw []byte) (map[string]string, []byte) {
	if !bytes.HasPrefix(raw, frontMatterDelimiter) {
		return nil, raw
	}
	line, rest := nextLine(raw)
	if !bytes.Equal(line, frontMatterDelimiter) {
		return nil, raw
	}
	var block bytes.Buffer
	for len(rest) > 0 {
		line, rest = nextLine(rest)
		if bytes.Equal(line, frontMatterDelimiter) {
			return parseFrontMatter(block.Bytes()), rest
		}
		block.Write(line)
		block.WriteByte('\n')
	}
	// no closing delimiter
	return nil, raw
}

// nextLine splits off the first line of b. The returned line excludes the
// terminator ("\n" or "\r\n"); rest starts just past it.
func nextLine(b []byte) (line, rest []byte) {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		line, rest = b[:i], b[i+1:]
	} else {
		line = b
	}
	return bytes.TrimSuffix(line, []byte("\r")), rest
}

// parseFrontMatter parses the block as YAML, falling back to plain
// "key: value" line splitting when the block is not well-formed YAML.
func parseFrontMatter(block []byte) map[string]string {
	var parsed map[string]interface{}
	if err := yaml.Unmarshal(block, &parsed); err == nil && parsed != nil {
		meta := make(map[string]string, len(parsed))
		for k, v := range parsed {
			meta[k] = stringify(v)
		}
		return meta
	}
	meta := make(map[string]string)
	for _, line := range strings.Split(string(block), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		meta[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return meta
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case []interface{}:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", t)
	}
}
