// Package notes loads text notes from disk: it splits YAML front matter into
// metadata and converts the markdown body to plain prose for indexing.
package notes

import (
	"errors"
	"fmt"
	"os"
	"unicode/utf8"
)

// Note is a loaded document: plain text plus extracted front-matter metadata.
type Note struct {
	Path        string
	Text        string
	FrontMatter map[string]string
}

// ReadError indicates a file that could not be read or is not valid text.
// Callers decide whether to skip the file or abort the batch.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Load reads the note at path, strips front matter and markup, and returns
// plain text with collapsed whitespace. Returns a *ReadError if the file is
// unreadable or not valid UTF-8 text.
func Load(path string) (*Note, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	if !utf8.Valid(raw) {
		return nil, &ReadError{Path: path, Err: errors.New("content is not valid UTF-8 text")}
	}
	meta, body := splitFrontMatter(raw)
	return &Note{
		Path:        path,
		Text:        markdownToText(body),
		FrontMatter: meta,
	}, nil
}
