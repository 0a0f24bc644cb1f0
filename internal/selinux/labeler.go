package selinux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"ueventd/internal/config"
	"ueventd/internal/logging"
)

const (
	xattrName = "security.selinux"
	selinuxFS = "/sys/fs/selinux"
)

// Xattr reads and writes the label attribute of a path.
type Xattr interface {
	Get(path string) (string, error)
	Set(path, label string) error
}

type rule struct {
	pattern *regexp.Regexp
	context string
}

// Labeler maps paths to security contexts and applies them.
type Labeler struct {
	enabled bool
	rules   []rule
	xattr   Xattr
	logger  *slog.Logger
}

// Option customizes a Labeler.
type Option func(*Labeler)

// WithXattr replaces kernel extended attribute access. A custom Xattr also
// skips the selinuxfs probe.
func WithXattr(x Xattr) Option {
	return func(l *Labeler) {
		if x != nil {
			l.xattr = x
		}
	}
}

// New compiles the configured file contexts.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Labeler, error) {
	patterns, err := config.CompileContexts(cfg.SELinux.Contexts)
	if err != nil {
		return nil, err
	}
	l := &Labeler{
		enabled: cfg.SELinux.Enabled,
		logger:  logging.NewComponentLogger(logger, "selinux"),
	}
	for i, re := range patterns {
		l.rules = append(l.rules, rule{pattern: re, context: cfg.SELinux.Contexts[i].Context})
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.xattr == nil {
		l.xattr = kernelXattr{}
		if l.enabled {
			if _, err := os.Stat(selinuxFS); err != nil {
				l.logger.Info("selinuxfs not mounted; label restoration disabled", logging.String(logging.FieldPath, selinuxFS))
				l.enabled = false
			}
		}
	}
	if len(l.rules) == 0 {
		l.enabled = false
	}
	return l, nil
}

// Enabled reports whether labels are applied at all.
func (l *Labeler) Enabled() bool {
	return l != nil && l.enabled
}

// Lookup returns the context for path. Later rules override earlier ones.
func (l *Labeler) Lookup(path string) (string, bool) {
	if l == nil {
		return "", false
	}
	for i := len(l.rules) - 1; i >= 0; i-- {
		if l.rules[i].pattern.MatchString(path) {
			return l.rules[i].context, true
		}
	}
	return "", false
}

// Restore applies the configured context to path. It reports whether the
// label changed.
func (l *Labeler) Restore(path string) (bool, error) {
	if !l.Enabled() {
		return false, nil
	}
	want, ok := l.Lookup(path)
	if !ok {
		return false, nil
	}
	current, err := l.xattr.Get(path)
	if err == nil && current == want {
		return false, nil
	}
	if err := l.xattr.Set(path, want); err != nil {
		return false, fmt.Errorf("set label on %s: %w", path, err)
	}
	return true, nil
}

// Stats summarizes a recursive restore.
type Stats struct {
	Visited   int64
	Relabeled int64
	Failed    int64
}

// RestoreRecursive relabels every entry below roots. Roots are walked
// concurrently and each tree is walked in parallel, so no ordering is
// guaranteed. Per-path failures are logged and counted; the returned error is
// set when a root cannot be stat'ed or a walk stops early, which includes
// ctx cancellation. Missing roots are skipped.
func (l *Labeler) RestoreRecursive(ctx context.Context, roots ...string) (Stats, error) {
	var visited, relabeled, failed atomic.Int64
	if !l.Enabled() {
		return Stats{}, nil
	}

	// All roots are checked before any walk starts so a bad root never
	// leaves walks running past the return.
	present := make([]string, 0, len(roots))
	for _, root := range roots {
		if _, err := os.Lstat(root); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				l.logger.Debug("restorecon root missing", logging.String(logging.FieldPath, root))
				continue
			}
			return Stats{}, fmt.Errorf("stat %s: %w", root, err)
		}
		present = append(present, root)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, root := range present {
		g.Go(func() error {
			conf := fastwalk.Config{Follow: false}
			return fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if err != nil {
					failed.Add(1)
					l.logger.Debug("restorecon walk error", logging.String(logging.FieldPath, path), logging.Error(err))
					return nil
				}
				visited.Add(1)
				changed, err := l.Restore(path)
				if err != nil {
					failed.Add(1)
					l.logger.Debug("restorecon failed", logging.String(logging.FieldPath, path), logging.Error(err))
					return nil
				}
				if changed {
					relabeled.Add(1)
				}
				return nil
			})
		})
	}
	err := g.Wait()
	stats := Stats{Visited: visited.Load(), Relabeled: relabeled.Load(), Failed: failed.Load()}
	if err != nil {
		return stats, fmt.Errorf("restorecon: %w", err)
	}
	return stats, nil
}

type kernelXattr struct{}

func (kernelXattr) Get(path string) (string, error) {
	buf := make([]byte, 256)
	for {
		n, err := unix.Lgetxattr(path, xattrName, buf)
		if errors.Is(err, unix.ERANGE) {
			buf = make([]byte, len(buf)*2)
			continue
		}
		if err != nil {
			return "", err
		}
		return string(bytes.TrimRight(buf[:n], "\x00")), nil
	}
}

func (kernelXattr) Set(path, label string) error {
	return unix.Lsetxattr(path, xattrName, append([]byte(label), 0), 0)
}
