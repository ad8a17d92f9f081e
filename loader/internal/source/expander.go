package source

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/datacampus/dcx/loader/model"
	"github.com/datacampus/dcx/warehouse/logfield"
)

const macOSMetadataDir = "__MACOSX"

type archiveKind int

const (
	notArchive archiveKind = iota
	zipArchive
	tarArchive
	tarGzArchive
)

func kindOf(name string) archiveKind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return zipArchive
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return tarGzArchive
	case strings.HasSuffix(lower, ".tar"):
		return tarArchive
	}
	return notArchive
}

type Options struct {
	// Recursive walks directories instead of listing their immediate children.
	Recursive bool
	// Include keeps only files with one of these extensions, with or without the leading dot.
	Include []string
}

// Expander resolves a load source into the regular files it contains.
type Expander struct {
	log logger.Logger
}

func NewExpander(log logger.Logger) *Expander {
	return &Expander{log: log.Child("expander")}
}

// Expand returns the files of src sorted by name. The cleanup function removes
// any scratch directory and is safe to call on every exit path, including when
// an error is returned.
func (e *Expander) Expand(ctx context.Context, src string, opts Options) ([]model.SourceFile, func(), error) {
	cleanup := func() {}

	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, cleanup, fmt.Errorf("%w: %s", model.ErrSourceNotFound, src)
	}
	if err != nil {
		return nil, cleanup, fmt.Errorf("%w: %w", model.ErrSourceUnreadable, err)
	}

	var files []model.SourceFile
	switch {
	case info.IsDir():
		files, err = e.listDir(ctx, src, opts.Recursive)
	case !info.Mode().IsRegular():
		err = fmt.Errorf("%w: %s is not a regular file", model.ErrSourceUnreadable, src)
	case kindOf(src) != notArchive:
		var scratch string
		scratch, err = os.MkdirTemp("", "dcx-")
		if err != nil {
			return nil, cleanup, fmt.Errorf("%w: creating scratch directory: %w", model.ErrSourceUnreadable, err)
		}
		cleanup = func() {
			if err := os.RemoveAll(scratch); err != nil {
				e.log.Warnw("removing scratch directory", logfield.Error, err.Error())
			}
		}
		files, err = e.extract(ctx, src, scratch)
	default:
		files = []model.SourceFile{{Path: src, Name: filepath.Base(src)}}
	}
	if err != nil {
		return nil, cleanup, err
	}

	files = filterExtensions(files, opts.Include)
	if len(files) == 0 {
		return nil, cleanup, fmt.Errorf("%w: %s", model.ErrNoFiles, src)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})

	e.log.Debugw("expanded source",
		logfield.Source, src,
		logfield.FileCount, len(files),
	)
	return files, cleanup, nil
}

func (e *Expander) listDir(ctx context.Context, dir string, recursive bool) ([]model.SourceFile, error) {
	var files []model.SourceFile
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %w", model.ErrSourceUnreadable, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if !recursive || isHidden(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || isHidden(rel) {
			return nil
		}
		files = append(files, model.SourceFile{Path: p, Name: rel})
		return nil
	})
	return files, err
}

func (e *Expander) extract(ctx context.Context, archive, scratch string) ([]model.SourceFile, error) {
	switch kindOf(archive) {
	case zipArchive:
		return e.extractZip(ctx, archive, scratch)
	case tarArchive, tarGzArchive:
		return e.extractTar(ctx, archive, scratch)
	}
	return nil, fmt.Errorf("%w: unsupported archive %s", model.ErrSourceUnreadable, archive)
}

func (e *Expander) extractZip(ctx context.Context, archive, scratch string) ([]model.SourceFile, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("%w: opening zip: %w", model.ErrSourceUnreadable, err)
	}
	defer func() { _ = r.Close() }()

	var files []model.SourceFile
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() || !f.Mode().IsRegular() {
			continue
		}
		name, target, skip, err := entryTarget(scratch, f.Name)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		if err := writeEntry(target, func() (io.ReadCloser, error) { return f.Open() }); err != nil {
			return nil, fmt.Errorf("%w: extracting %s: %w", model.ErrSourceUnreadable, f.Name, err)
		}
		files = append(files, model.SourceFile{Path: target, Name: name})
	}
	return files, nil
}

func (e *Expander) extractTar(ctx context.Context, archive, scratch string) ([]model.SourceFile, error) {
	fh, err := os.Open(archive)
	if err != nil {
		return nil, fmt.Errorf("%w: opening tar: %w", model.ErrSourceUnreadable, err)
	}
	defer func() { _ = fh.Close() }()

	var r io.Reader = fh
	if kindOf(archive) == tarGzArchive {
		gz, err := gzip.NewReader(fh)
		if err != nil {
			return nil, fmt.Errorf("%w: opening gzip: %w", model.ErrSourceUnreadable, err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var files []model.SourceFile
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading tar: %w", model.ErrSourceUnreadable, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name, target, skip, err := entryTarget(scratch, hdr.Name)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		if err := writeEntry(target, func() (io.ReadCloser, error) { return io.NopCloser(tr), nil }); err != nil {
			return nil, fmt.Errorf("%w: extracting %s: %w", model.ErrSourceUnreadable, hdr.Name, err)
		}
		files = append(files, model.SourceFile{Path: target, Name: name})
	}
	return files, nil
}

// entryTarget maps an archive entry to its path under scratch. Hidden and
// macOS metadata entries are skipped, entries escaping scratch are rejected.
func entryTarget(scratch, entry string) (name, target string, skip bool, err error) {
	name = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(entry)), "/")
	if isHidden(name) || name == macOSMetadataDir || strings.HasPrefix(name, macOSMetadataDir+"/") {
		return "", "", true, nil
	}
	target = filepath.Join(scratch, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(scratch)+string(os.PathSeparator)) ||
		strings.Contains(filepath.ToSlash(entry), "../") {
		return "", "", false, fmt.Errorf("%w: illegal archive entry %s", model.ErrSourceUnreadable, entry)
	}
	return name, target, false, nil
}

func writeEntry(target string, open func() (io.ReadCloser, error)) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return err
	}
	src, err := open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

func isHidden(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func filterExtensions(files []model.SourceFile, include []string) []model.SourceFile {
	if len(include) == 0 {
		return files
	}
	allowed := make(map[string]struct{}, len(include))
	for _, ext := range include {
		allowed["."+strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	kept := files[:0]
	for _, f := range files {
		if _, ok := allowed[strings.ToLower(path.Ext(f.Name))]; ok {
			kept = append(kept, f)
		}
	}
	return kept
}
