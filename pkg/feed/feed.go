// Package feed reads the upstream listing of a repository from a feed
// directory. Each content type has its own JSON-lines file, optionally
// compressed, and the directory may carry a manifest.json describing the
// feed format.
package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-version"
	"github.com/mholt/archives"

	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/logger"
	"github.com/cperrin88/yumsync/pkg/model"
)

const (
	// ManifestFile is the optional feed description file.
	ManifestFile = "manifest.json"
	// SupportedFormats is the range of manifest format versions this reader understands.
	SupportedFormats = ">= 1.0, < 2.0"

	maxLineSize = 4 * 1024 * 1024
)

// extensions are tried in order when looking for a content type's file.
var extensions = []string{".jsonl", ".jsonl.gz", ".jsonl.xz", ".jsonl.zst", ".jsonl.bz2"}

// Manifest describes a feed directory.
type Manifest struct {
	FormatVersion string `json:"format_version"`
	Generator     string `json:"generator,omitempty"`
}

// Source is the feed directory of one repository.
type Source struct {
	Dir      string
	manifest *Manifest
}

// NewSource opens the feed directory at dir and checks its manifest, if any.
func NewSource(dir string) (*Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errors.ErrInvalidFeed, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", errors.ErrInvalidFeed, dir)
	}

	s := &Source{Dir: dir}
	m, err := readManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	s.manifest = m
	return s, nil
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read feed manifest %s", path)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %w", errors.ErrInvalidFeed, path, err)
	}
	if err := checkFormat(m.FormatVersion); err != nil {
		return nil, err
	}
	return &m, nil
}

func checkFormat(v string) error {
	got, err := version.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: %q", errors.ErrUnsupportedFeedFormat, v)
	}
	constraint := version.MustConstraints(version.NewConstraint(SupportedFormats))
	if !constraint.Check(got) {
		return fmt.Errorf("%w: %s does not satisfy %s", errors.ErrUnsupportedFeedFormat, got, SupportedFormats)
	}
	return nil
}

// Manifest returns the feed manifest, or nil when the directory has none.
func (s *Source) Manifest() *Manifest {
	return s.manifest
}

// Path returns the file holding ct, or an error wrapping
// errors.ErrCategoryUnavailable when there is none.
func (s *Source) Path(ct model.ContentType) (string, error) {
	for _, ext := range extensions {
		p := filepath.Join(s.Dir, string(ct)+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.CategoryUnavailable(string(ct))
}

// Open starts reading the units of ct. The caller must close the reader.
func (s *Source) Open(ctx context.Context, ct model.ContentType) (*Reader, error) {
	path, err := s.Path(ct)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open feed file %s", path)
	}

	r := &Reader{ct: ct, path: path, closers: []io.Closer{f}}
	format, stream, err := archives.Identify(ctx, filepath.Base(path), f)
	switch {
	case errors.Is(err, archives.NoMatch):
		r.src = stream
	case err != nil:
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %w", errors.ErrInvalidFeed, path, err)
	default:
		dec, ok := format.(archives.Decompressor)
		if !ok {
			_ = f.Close()
			return nil, fmt.Errorf("%w: %s is an archive, not a compressed stream", errors.ErrInvalidFeed, path)
		}
		rc, err := dec.OpenReader(stream)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%w: %s: %w", errors.ErrInvalidFeed, path, err)
		}
		r.src = rc
		r.closers = append([]io.Closer{rc}, r.closers...)
		logger.Debug("Decompressing feed file", logger.Fields{"path": path, "format": format.Extension()})
	}
	return r, nil
}

// Each opens ct, hands its packages to fn and closes the reader on every path.
func (s *Source) Each(ctx context.Context, ct model.ContentType, fn func(iter.Seq2[model.Package, error]) error) error {
	r, err := s.Open(ctx, ct)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	return fn(r.Packages())
}

// Identities returns the projected identities upstream lists for ct.
func (s *Source) Identities(ctx context.Context, ct model.ContentType, project model.Projection) (map[model.UnitKey]struct{}, error) {
	out := make(map[model.UnitKey]struct{})
	err := s.Each(ctx, ct, func(pkgs iter.Seq2[model.Package, error]) error {
		for p, err := range pkgs {
			if err != nil {
				return err
			}
			out[project(p.Key)] = struct{}{}
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reader is a single pass over one feed file.
type Reader struct {
	ct      model.ContentType
	path    string
	src     io.Reader
	closers []io.Closer
}

// Packages yields the units of the file in order. A line that does not
// decode, or that names another content type, ends the sequence with an
// error wrapping errors.ErrInvalidFeed. Blank lines are skipped.
func (r *Reader) Packages() iter.Seq2[model.Package, error] {
	return func(yield func(model.Package, error) bool) {
		scanner := bufio.NewScanner(r.src)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)

		line := 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}

			var p model.Package
			if err := json.Unmarshal(raw, &p); err != nil {
				yield(model.Package{}, fmt.Errorf("%w: %s:%d: %w", errors.ErrInvalidFeed, r.path, line, err))
				return
			}
			if p.Key.ContentType == "" {
				p.Key.ContentType = r.ct
			}
			if p.Key.ContentType != r.ct {
				yield(model.Package{}, fmt.Errorf("%w: %s:%d: unit of type %s in %s feed",
					errors.ErrInvalidFeed, r.path, line, p.Key.ContentType, r.ct))
				return
			}
			if !yield(p, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(model.Package{}, errors.Wrapf(err, "failed to read feed file %s", r.path))
		}
	}
}

// Close releases the file and any decompressor.
func (r *Reader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
