// Package filestore performs line-oriented file operations: streaming
// reads, appends and atomic rewrites. It knows nothing about what the lines
// mean.
package filestore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// ErrPartialAppend means a failed append could not be undone, so the line may
// be in the file.
var ErrPartialAppend = errors.New("append could not be rolled back")

// TempPattern is the CreateTemp pattern for rewrite scratch files; the
// target's base name is prepended.
const TempPattern = ".tmp-*"

// Manager runs file operations against an FS. It holds no file handles
// between calls and is not safe for concurrent use on the same path.
type Manager struct {
	fs     FS
	logger *slog.Logger
	tracer trace.Tracer
	ops    metric.Int64Counter
}

type Option func(*Manager)

// WithFS swaps the filesystem implementation.
func WithFS(fsys FS) Option {
	return func(m *Manager) { m.fs = fsys }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a manager over the real filesystem unless WithFS is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		fs:     OSFS{},
		logger: slog.Default(),
		tracer: otel.Tracer("consolemart/filestore"),
	}
	for _, opt := range opts {
		opt(m)
	}
	ops, err := otel.Meter("consolemart/filestore").Int64Counter("filestore.operations",
		metric.WithDescription("File operations by kind and outcome"))
	if err != nil {
		m.logger.Warn("filestore: metrics disabled", "error", err)
		ops = noop.Int64Counter{}
	}
	m.ops = ops
	return m
}

func (m *Manager) finish(ctx context.Context, span trace.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	m.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

// Scan calls fn for every non-empty line of path, without its terminator.
// A missing file is returned as an error wrapping fs.ErrNotExist. The file
// is closed before Scan returns, including when fn fails.
func (m *Manager) Scan(ctx context.Context, path string, fn func(line string) error) (err error) {
	ctx, span := m.tracer.Start(ctx, "filestore.scan",
		trace.WithAttributes(attribute.String("file.path", path)),
	)
	defer span.End()
	defer func() { m.finish(ctx, span, "scan", err) }()

	f, err := m.fs.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	lines := 0
	for {
		line, readErr := r.ReadString('\n')
		if body := strings.TrimRight(line, "\r\n"); body != "" {
			lines++
			if err := fn(body); err != nil {
				return fmt.Errorf("%s line %d: %w", path, lines, err)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read %s: %w", path, readErr)
		}
	}
	span.SetAttributes(attribute.Int("file.lines", lines))
	return nil
}

// Append writes line and a newline at the end of path, creating the file if
// needed. If the file does not already end in a newline one is inserted so
// the new row never merges into the previous one.
//
// If the write or the close fails the file is truncated back to its previous
// size. When that fails too the error wraps ErrPartialAppend.
func (m *Manager) Append(ctx context.Context, path, line string) (err error) {
	ctx, span := m.tracer.Start(ctx, "filestore.append",
		trace.WithAttributes(attribute.String("file.path", path)),
	)
	defer span.End()
	defer func() { m.finish(ctx, span, "append", err) }()

	f, err := m.fs.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	size, prefix, err := separatorFor(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("inspect %s: %w", path, err)
	}

	_, werr := io.WriteString(f, prefix+strings.TrimRight(line, "\r\n")+"\n")
	cerr := f.Close()
	switch {
	case werr != nil:
		err = fmt.Errorf("write %s: %w", path, werr)
	case cerr != nil:
		err = fmt.Errorf("close %s: %w", path, cerr)
	default:
		return nil
	}

	if terr := m.fs.Truncate(path, size); terr != nil {
		m.logger.Error("filestore: could not roll back append",
			"path", path, "size", size, "error", terr)
		return fmt.Errorf("%w: %w; truncate %s: %w", ErrPartialAppend, err, path, terr)
	}
	return err
}

// separatorFor returns the current size of f and the prefix that keeps the
// next line off the end of an unterminated last line.
func separatorFor(f File) (int64, string, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, "", err
	}
	size := info.Size()
	if size == 0 {
		return 0, "", nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return 0, "", err
	}
	if last[0] == '\n' {
		return size, "", nil
	}
	return size, "\n", nil
}

// Rewrite copies path into a sibling temporary file, substituting
// replace(line) for every line where match(line) is true, then renames the
// copy over the original. Lines are passed without their terminator;
// unmatched lines are copied byte for byte.
//
// On any failure the temporary file is removed and path is left as it was.
// It returns the number of replaced lines.
func (m *Manager) Rewrite(ctx context.Context, path string, match func(line string) bool, replace func(line string) string) (replaced int, err error) {
	ctx, span := m.tracer.Start(ctx, "filestore.rewrite",
		trace.WithAttributes(attribute.String("file.path", path)),
	)
	defer span.End()
	defer func() { m.finish(ctx, span, "rewrite", err) }()

	src, err := m.fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}

	tmp, err := m.fs.CreateTemp(filepath.Dir(path), filepath.Base(path)+TempPattern)
	if err != nil {
		return 0, fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	tmpOpen := true
	committed := false
	defer func() {
		if committed {
			return
		}
		if tmpOpen {
			_ = tmp.Close()
		}
		if rmErr := m.fs.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			m.logger.Warn("filestore: could not remove temp file", "path", tmpPath, "error", rmErr)
		}
	}()

	r := bufio.NewReader(src)
	w := bufio.NewWriter(tmp)
	for {
		line, readErr := r.ReadString('\n')
		if line != "" {
			out := line
			if body := strings.TrimRight(line, "\r\n"); match(body) {
				out = strings.TrimRight(replace(body), "\r\n") + "\n"
				replaced++
			}
			if _, err := w.WriteString(out); err != nil {
				return 0, fmt.Errorf("write %s: %w", tmpPath, err)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return 0, fmt.Errorf("read %s: %w", path, readErr)
		}
	}

	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	tmpOpen = false
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := m.fs.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("replace %s: %w", path, err)
	}
	committed = true

	span.SetAttributes(attribute.Int("rewrite.replaced", replaced))
	return replaced, nil
}
