// Package storage defines the project-tree file-system abstraction.
package storage

import "time"

// Entry describes one file found by List.
type Entry struct {
	// Path is slash-separated and relative to the provider root.
	Path      string
	Checksum  string
	UpdatedAt time.Time
}

// Filter decides whether a file participates, given its base name.
type Filter func(name string) bool

// Provider is the interface for project file operations. All paths are
// relative to Root.
type Provider interface {
	// Root returns the absolute root directory.
	Root() string
	// List walks dir and returns every regular file accepted by keep. It
	// fails when dir is missing or is not a directory.
	List(dir string, keep Filter) ([]Entry, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write replaces the file at path with content.
	Write(path string, content []byte) error
}
