// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"

	"github.com/nishisan-dev/zarrstream/internal/zarrerr"
)

// metadataNames are the document names left untouched by the cold-tier
// gzip pass; only raw chunk data files are recompressed.
var metadataNames = map[string]bool{
	".zarray":      true,
	".zgroup":      true,
	".zattrs":      true,
	"zarr.json":    true,
	"acquire.json": true,
}

// postCloseGzip walks root and gzips every written v2 chunk file in
// place (PostCloseConfig.GzipChunks), leaving metadata documents alone.
// Filesystem-backed stores only: object-store sinks have no local files
// to recompress after the fact.
func postCloseGzip(root string, log *slog.Logger) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if metadataNames[name] || strings.HasSuffix(name, ".gz") {
			return nil
		}
		if gzErr := gzipFileInPlace(p); gzErr != nil {
			log.Error("post-close gzip failed", "path", p, "error", gzErr)
			return gzErr
		}
		return nil
	})
}

func gzipFileInPlace(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for gzip: %w: %w", path, err, zarrerr.ErrIO)
	}
	defer in.Close()

	dst := path + ".gz"
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w: %w", dst, err, zarrerr.ErrIO)
	}

	w := pgzip.NewWriter(out)
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		out.Close()
		return fmt.Errorf("gzipping %s: %w: %w", path, err, zarrerr.ErrIO)
	}
	if err := w.Close(); err != nil {
		out.Close()
		return fmt.Errorf("closing gzip writer for %s: %w: %w", path, err, zarrerr.ErrIO)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w: %w", dst, err, zarrerr.ErrIO)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing original %s after gzip: %w: %w", path, err, zarrerr.ErrIO)
	}
	return nil
}
