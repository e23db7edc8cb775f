// Package local materializes crawl results on the local filesystem.
package local

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// DefaultHeader names the single output column.
const DefaultHeader = "product_url"

// Config captures the parameters for the CSV table writer.
type Config struct {
	// Path is the destination file.
	Path string `mapstructure:"path" yaml:"path"`
	// Header is the single column name written on the first row.
	Header string `mapstructure:"header" yaml:"header"`
	// UseCRLF terminates rows with \r\n instead of \n.
	UseCRLF bool `mapstructure:"use_crlf" yaml:"use_crlf"`
}

// PlatformCRLF reports whether the host's native line ending is \r\n.
func PlatformCRLF() bool {
	return runtime.GOOS == "windows"
}

// TableWriter writes a sorted single-column CSV file.
type TableWriter struct {
	path    string
	header  string
	useCRLF bool
	hasher  crawler.Hasher
}

// NewTableWriter validates cfg. hasher may be nil, in which case artifacts
// carry no digest.
func NewTableWriter(cfg Config, hasher crawler.Hasher) (*TableWriter, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if info, err := os.Stat(cfg.Path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("output path %s is a directory", cfg.Path)
	}
	header := cfg.Header
	if strings.TrimSpace(header) == "" {
		header = DefaultHeader
	}
	return &TableWriter{
		path:    filepath.Clean(cfg.Path),
		header:  header,
		useCRLF: cfg.UseCRLF,
		hasher:  hasher,
	}, nil
}

// Path returns the destination file.
func (w *TableWriter) Path() string {
	return w.path
}

// Write sorts rows, renders them under the header, and replaces the
// destination atomically. An empty rows slice still produces a header-only
// file.
func (w *TableWriter) Write(ctx context.Context, rows []string) (crawler.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Artifact{}, fmt.Errorf("context canceled: %w", err)
	}
	data, err := w.render(rows)
	if err != nil {
		return crawler.Artifact{}, err
	}
	if err := w.replace(data); err != nil {
		return crawler.Artifact{}, err
	}

	artifact := crawler.Artifact{Path: w.path, Rows: len(rows)}
	if w.hasher != nil {
		digest, err := w.hasher.Hash(data)
		if err != nil {
			return crawler.Artifact{}, fmt.Errorf("hash artifact: %w", err)
		}
		artifact.Digest = digest
	}
	return artifact, nil
}

func (w *TableWriter) render(rows []string) ([]byte, error) {
	sorted := append([]string(nil), rows...)
	sort.Strings(sorted)

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.UseCRLF = w.useCRLF
	eol := "\n"
	if w.useCRLF {
		eol = "\r\n"
	}
	record := make([]string, 1)
	for _, field := range append([]string{w.header}, sorted...) {
		// encoding/csv also quotes leading spaces and a lone `\.`; only
		// separators, quotes and line breaks are escaped here.
		if !needsQuoting(field) {
			buf.WriteString(field)
			buf.WriteString(eol)
			continue
		}
		record[0] = field
		if err := cw.Write(record); err != nil {
			return nil, fmt.Errorf("write row %q: %w", field, err)
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return nil, fmt.Errorf("flush csv: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func needsQuoting(field string) bool {
	return strings.ContainsAny(field, ",\"\r\n")
}

// replace writes data to a temp file beside the destination and renames it
// into place, so the destination is never left partially written.
func (w *TableWriter) replace(data []byte) (err error) {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err = os.Chmod(tmpName, 0o640); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, w.path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpName, w.path, err)
	}
	return nil
}
