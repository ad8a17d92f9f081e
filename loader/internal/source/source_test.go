package source

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/datacampus/dcx/loader/model"
)

type entry struct {
	name    string
	content string
}

func writeZip(t *testing.T, entries ...entry) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "data.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func writeTarGz(t *testing.T, entries ...entry) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "data.tgz")
	f, err := os.Create(p)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "nested/", Typeflag: tar.TypeDir, Mode: 0o755}))
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(e.content))}))
		_, err := tw.Write([]byte(e.content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return p
}

func names(files []model.SourceFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}

func TestExpander(t *testing.T) {
	ctx := context.Background()
	e := NewExpander(logger.NOP)

	t.Run("single file", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "a.csv")
		require.NoError(t, os.WriteFile(p, []byte("X\n1\n"), 0o600))

		files, cleanup, err := e.Expand(ctx, p, Options{})
		defer cleanup()
		require.NoError(t, err)
		require.Equal(t, []model.SourceFile{{Path: p, Name: "a.csv"}}, files)
	})

	t.Run("directory", func(t *testing.T) {
		dir := t.TempDir()
		for _, n := range []string{"b.txt", "a.txt", ".hidden.txt", "sub/c.txt", ".git/config"} {
			require.NoError(t, os.MkdirAll(filepath.Join(dir, filepath.Dir(n)), 0o700))
			require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o600))
		}

		files, cleanup, err := e.Expand(ctx, dir, Options{})
		defer cleanup()
		require.NoError(t, err)
		require.Equal(t, []string{"a.txt", "b.txt"}, names(files))

		files, _, err = e.Expand(ctx, dir, Options{Recursive: true})
		require.NoError(t, err)
		require.Equal(t, []string{"a.txt", "b.txt", "sub/c.txt"}, names(files))
	})

	t.Run("zip", func(t *testing.T) {
		archive := writeZip(t,
			entry{name: "z.txt", content: "z"},
			entry{name: "dir/a.txt", content: "alpha"},
			entry{name: "__MACOSX/dir/._a.txt", content: "junk"},
			entry{name: ".DS_Store", content: "junk"},
		)

		files, cleanup, err := e.Expand(ctx, archive, Options{})
		require.NoError(t, err)
		require.Equal(t, []string{"dir/a.txt", "z.txt"}, names(files))

		content, err := os.ReadFile(files[0].Path)
		require.NoError(t, err)
		require.Equal(t, "alpha", string(content))

		scratch := filepath.Dir(filepath.Dir(files[0].Path))
		require.DirExists(t, scratch)
		cleanup()
		require.NoDirExists(t, scratch)
	})

	t.Run("tar.gz", func(t *testing.T) {
		archive := writeTarGz(t,
			entry{name: "nested/b.tsv", content: "A\tB\n"},
			entry{name: "a.csv", content: "A,B\n"},
		)

		files, cleanup, err := e.Expand(ctx, archive, Options{})
		defer cleanup()
		require.NoError(t, err)
		require.Equal(t, []string{"a.csv", "nested/b.tsv"}, names(files))
	})

	t.Run("include filter", func(t *testing.T) {
		archive := writeZip(t,
			entry{name: "a.TXT", content: "a"},
			entry{name: "b.csv", content: "b"},
			entry{name: "c.log", content: "c"},
		)

		files, cleanup, err := e.Expand(ctx, archive, Options{Include: []string{"txt", ".csv"}})
		defer cleanup()
		require.NoError(t, err)
		require.Equal(t, []string{"a.TXT", "b.csv"}, names(files))
	})

	t.Run("errors", func(t *testing.T) {
		_, cleanup, err := e.Expand(ctx, filepath.Join(t.TempDir(), "missing.zip"), Options{})
		cleanup()
		require.ErrorIs(t, err, model.ErrSourceNotFound)

		_, cleanup, err = e.Expand(ctx, t.TempDir(), Options{})
		cleanup()
		require.ErrorIs(t, err, model.ErrNoFiles)

		archive := writeZip(t, entry{name: "a.txt", content: "a"})
		_, cleanup, err = e.Expand(ctx, archive, Options{Include: []string{"csv"}})
		cleanup()
		require.ErrorIs(t, err, model.ErrNoFiles)

		corrupt := filepath.Join(t.TempDir(), "corrupt.zip")
		require.NoError(t, os.WriteFile(corrupt, []byte("not a zip"), 0o600))
		_, cleanup, err = e.Expand(ctx, corrupt, Options{})
		cleanup()
		require.ErrorIs(t, err, model.ErrSourceUnreadable)

		slip := writeZip(t, entry{name: "../../evil.txt", content: "x"})
		_, cleanup, err = e.Expand(ctx, slip, Options{})
		cleanup()
		require.ErrorIs(t, err, model.ErrSourceUnreadable)
	})

	t.Run("cancelled", func(t *testing.T) {
		archive := writeZip(t, entry{name: "a.txt", content: "a"})
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, cleanup, err := e.Expand(cctx, archive, Options{})
		cleanup()
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestDetect(t *testing.T) {
	testCases := []struct {
		name     string
		explicit model.Format
		want     model.Format
	}{
		{name: "a.csv", want: model.CSVFormat},
		{name: "dir/B.TSV", explicit: model.AutoFormat, want: model.TSVFormat},
		{name: "a.txt", want: model.SingleColumnFormat},
		{name: "noext", want: model.SingleColumnFormat},
		{name: "a.csv.gz", want: model.SingleColumnFormat},
		{name: "a.txt", explicit: model.CSVFormat, want: model.CSVFormat},
		{name: "a.csv", explicit: model.SingleColumnFormat, want: model.SingleColumnFormat},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name+"/"+string(tc.explicit), func(t *testing.T) {
			require.Equal(t, tc.want, Detect(tc.name, tc.explicit))
		})
	}
}
