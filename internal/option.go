package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	root   string
	output string
	dryRun bool
	stdout io.Writer
	logOut io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithRoot sets the project root to process.
func WithRoot(root string) Option {
	return func(a *application) {
		a.root = root
	}
}

// WithOutput redirects all writes into a mirror of the project at dir.
func WithOutput(dir string) Option {
	return func(a *application) {
		a.output = dir
	}
}

// WithDryRun captures writes and prints them as a unified diff.
func WithDryRun(dryRun bool) Option {
	return func(a *application) {
		a.dryRun = dryRun
	}
}

// WithStdout sets where dry-run diffs are printed.
func WithStdout(w io.Writer) Option {
	return func(a *application) {
		a.stdout = w
	}
}

// WithLogOutput sets where structured logs are written.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}
