package indexer

import (
	"net/http"
	"path/filepath"
	"strings"
)

// Extractor produces plain-text content from a file's bytes. ok is false
// for binary or otherwise unsupported content, which the caller skips
// rather than treating as an error.
type Extractor interface {
	Extract(path string, content []byte) (text string, ok bool, err error)
}

// textExtensions are accepted without sniffing; anything else falls back
// to content inspection so a text file with an unfamiliar extension is
// still picked up.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".json": true,
	".yaml": true, ".yml": true, ".csv": true, ".log": true,
	".go": true, ".conf": true, ".ini": true, ".toml": true, ".xml": true,
}

// PlainTextExtractor is the default Extractor: known text extensions pass
// through verbatim, everything else is sniffed with
// http.DetectContentType and accepted only if it looks like text.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(path string, content []byte) (string, bool, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if textExtensions[ext] || looksLikeText(content) {
		return string(content), true, nil
	}
	return "", false, nil
}

func looksLikeText(content []byte) bool {
	if len(content) == 0 {
		return true
	}
	sniff := content
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}
	contentType := http.DetectContentType(sniff)
	return strings.HasPrefix(contentType, "text/") ||
		contentType == "application/json" ||
		contentType == "application/xml"
}
