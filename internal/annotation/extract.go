// Package annotation reads structured comments from entity source files.
//
// The parsed syntax tree drops comments, so extraction always works on the
// original file text.
package annotation

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Annotation is one `# @guard name args` comment line.
type Annotation struct {
	Name string `json:"name"`
	Args string `json:"args,omitempty"`
	Line int    `json:"line"`
}

// Record holds every annotation found in one file, in source order.
type Record struct {
	Annotations []Annotation `json:"annotations"`
}

// Len returns the number of annotations.
func (r Record) Len() int {
	return len(r.Annotations)
}

// Extractor produces the annotation record for the file at an absolute path.
type Extractor interface {
	Extract(path string) (Record, error)
}

// CommentExtractor recognises whole-line comments of the form
// `# @guard <name> <args>`. Leading indentation is allowed; anything else on
// the line before the hash disqualifies it. Other `@` tags, such as YARD's
// @param and @return, are ignored.
type CommentExtractor struct{}

var annotationRe = regexp.MustCompile(`^\s*#\s*@guard\s+([A-Za-z_][A-Za-z0-9_]*)(?:\s+(.*?))?\s*$`)

// Extract implements Extractor.
func (CommentExtractor) Extract(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("read annotations: %w", err)
	}
	return Scan(data)
}

// Scan extracts annotations from source text.
func Scan(data []byte) (Record, error) {
	rec := Record{Annotations: []Annotation{}}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	inDoc := false
	for sc.Scan() {
		line++
		text := sc.Text()
		switch {
		case strings.HasPrefix(text, "=begin"):
			inDoc = true
			continue
		case inDoc:
			if strings.HasPrefix(text, "=end") {
				inDoc = false
			}
			continue
		case text == "__END__":
			return rec, nil
		}
		m := annotationRe.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		rec.Annotations = append(rec.Annotations, Annotation{Name: m[1], Args: m[2], Line: line})
	}
	if err := sc.Err(); err != nil {
		return Record{}, fmt.Errorf("scan annotations: %w", err)
	}
	return rec, nil
}
