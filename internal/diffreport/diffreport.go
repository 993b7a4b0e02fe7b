// Package diffreport renders the captured writes of a dry run as line diffs.
package diffreport

import (
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/starford/railguard/internal/storage"
)

// Context is the number of unchanged lines kept around each change.
const Context = 3

type op int

const (
	opEqual op = iota
	opDelete
	opInsert
)

type line struct {
	op   op
	text string
}

// Render returns a unified-style diff of one file, or "" when before and
// after are equal. A nil before renders as a new file.
func Render(path string, before, after []byte) string {
	if before != nil && string(before) == string(after) {
		return ""
	}

	lines := diffLines(string(before), string(after))

	var b strings.Builder
	if before == nil {
		b.WriteString("--- /dev/null\n")
	} else {
		fmt.Fprintf(&b, "--- a/%s\n", path)
	}
	fmt.Fprintf(&b, "+++ b/%s\n", path)

	keep := make([]bool, len(lines))
	for i, l := range lines {
		if l.op == opEqual {
			continue
		}
		for j := max(0, i-Context); j <= min(len(lines)-1, i+Context); j++ {
			keep[j] = true
		}
	}

	gap := false
	for i, l := range lines {
		if !keep[i] {
			gap = true
			continue
		}
		if gap {
			b.WriteString("@@\n")
			gap = false
		}
		switch l.op {
		case opEqual:
			b.WriteString(" ")
		case opDelete:
			b.WriteString("-")
		case opInsert:
			b.WriteString("+")
		}
		b.WriteString(l.text)
		b.WriteString("\n")
	}
	return b.String()
}

// Write renders every change to w, in order.
func Write(w io.Writer, changes []storage.Change) error {
	for _, c := range changes {
		out := Render(c.Path, c.Before, c.After)
		if out == "" {
			continue
		}
		if _, err := io.WriteString(w, out); err != nil {
			return err
		}
	}
	return nil
}

func diffLines(before, after string) []line {
	dmp := diffmatchpatch.New()
	a, b, index := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), index)

	var out []line
	for _, d := range diffs {
		kind := opEqual
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = opDelete
		case diffmatchpatch.DiffInsert:
			kind = opInsert
		}
		for _, text := range splitLines(d.Text) {
			out = append(out, line{op: kind, text: text})
		}
	}
	return out
}

// splitLines splits s into lines without their terminators. A trailing
// newline does not produce an empty final line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
