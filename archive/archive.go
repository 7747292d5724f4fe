// Package archive bundles completed downloads into a single zip file.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// NameLayout is the time layout of archive names.
const NameLayout = "20060102_150405"

var ErrNothingToPackage = errors.New("no files to package")

// PackagingError means the archive could not be produced.
type PackagingError struct {
	Destination string
	Err         error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("failed to create archive %v: %v", e.Destination, e.Err)
}

func (e *PackagingError) Unwrap() error {
	return e.Err
}

// Name is the archive filename for a batch packaged at t.
func Name(t time.Time) string {
	return fmt.Sprintf("playlist_%s.zip", t.Format(NameLayout))
}

type Packager struct {
	log *zap.SugaredLogger
}

func NewPackager() *Packager {
	return &Packager{log: zap.S().Named("archive")}
}

// Bundle writes every existing file in paths into a flat, deflate-compressed zip at destination, in the order given.
// Entries are named by base name, with " (N)" added to repeated names. Missing files are skipped, but at least one
// must exist. On failure no archive is left behind.
func (p *Packager) Bundle(paths []string, destination string) (err error) {
	var present []string
	for _, path := range paths {
		if info, statErr := os.Stat(path); statErr != nil || !info.Mode().IsRegular() {
			p.log.Warnf("Skipping missing file %v", path)
			continue
		}
		present = append(present, path)
	}
	if len(present) == 0 {
		return &PackagingError{Destination: destination, Err: ErrNothingToPackage}
	}

	f, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return &PackagingError{Destination: destination, Err: err}
	}
	defer func() {
		if err != nil {
			_ = os.Remove(destination)
			err = &PackagingError{Destination: destination, Err: err}
		}
	}()

	w := zip.NewWriter(f)
	names := entryNames(present)
	for i, path := range present {
		if err = addFile(w, path, names[i]); err != nil {
			_ = w.Close()
			_ = f.Close()
			return err
		}
	}
	if err = w.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if info, statErr := os.Stat(destination); statErr == nil {
		p.log.Infof("Created archive %v with %d files (%.1f MB)", destination, len(present), float64(info.Size())/(1024*1024))
	}
	return nil
}

func addFile(w *zip.Writer, path string, name string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate
	out, err := w.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	return err
}

// entryNames gives each path its base name, adding " (2)", " (3)", ... before the extension of repeated names.
func entryNames(paths []string) []string {
	used := make(map[string]bool, len(paths))
	names := make([]string, len(paths))
	for i, path := range paths {
		name := filepath.Base(path)
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		used[name] = true
		names[i] = name
	}
	return names
}
