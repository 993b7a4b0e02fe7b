package storage

import (
	"errors"
	"io/fs"
	"sort"
	"sync"
)

// Change is one write captured by a Recorder.
type Change struct {
	Path   string
	Before []byte // nil when the file did not exist
	After  []byte
}

// Recorder is a Provider that serves reads from a base provider but keeps
// writes in memory. It backs dry runs.
type Recorder struct {
	base Provider

	mu      sync.Mutex
	pending map[string][]byte
	order   []string
}

var _ Provider = (*Recorder)(nil)

// NewRecorder wraps base.
func NewRecorder(base Provider) *Recorder {
	return &Recorder{base: base, pending: make(map[string][]byte)}
}

// Root implements Provider.
func (r *Recorder) Root() string {
	return r.base.Root()
}

// List implements Provider. Only files present in the base are listed.
func (r *Recorder) List(dir string, keep Filter) ([]Entry, error) {
	return r.base.List(dir, keep)
}

// Read implements Provider, preferring captured content.
func (r *Recorder) Read(path string) ([]byte, error) {
	r.mu.Lock()
	data, ok := r.pending[path]
	r.mu.Unlock()
	if ok {
		return append([]byte(nil), data...), nil
	}
	return r.base.Read(path)
}

// Write implements Provider.
func (r *Recorder) Write(path string, content []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.pending[path]; !seen {
		r.order = append(r.order, path)
	}
	r.pending[path] = append([]byte(nil), content...)
	return nil
}

// Changes returns every captured write, sorted by path, with the base
// content it would replace.
func (r *Recorder) Changes() ([]Change, error) {
	r.mu.Lock()
	paths := append([]string(nil), r.order...)
	r.mu.Unlock()
	sort.Strings(paths)

	out := make([]Change, 0, len(paths))
	for _, p := range paths {
		before, err := r.base.Read(p)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		r.mu.Lock()
		after := r.pending[p]
		r.mu.Unlock()
		out = append(out, Change{Path: p, Before: before, After: after})
	}
	return out, nil
}
