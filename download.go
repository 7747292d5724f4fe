package video_fetcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// PartSuffix marks a file that is still being written.
const PartSuffix = ".part"

// streamProgress counts bytes written through it and reports them as engine Events.
type streamProgress struct {
	onProgress      ProgressFunc
	expectedBytes   int64
	downloadedBytes int64
}

func (p *streamProgress) Write(b []byte) (n int, err error) {
	n = len(b)
	p.downloadedBytes += int64(n)
	p.report(EventDownloading)
	return n, nil
}

func (p *streamProgress) report(status string) {
	if p.onProgress == nil {
		return
	}
	e := Event{
		Status:          status,
		DownloadedBytes: p.downloadedBytes,
		TotalBytes:      p.expectedBytes,
	}
	if p.expectedBytes > 0 {
		e.PercentString = fmt.Sprintf("%5.1f%%", float64(p.downloadedBytes)/float64(p.expectedBytes)*100)
	} else {
		e.PercentString = "N/A"
	}
	p.onProgress(e)
}

// SaveStream will download the stream to path, reporting progress against expectedBytes (0 if unknown). The data is
// written to a ".part" file first and renamed into place on success, so a partial file never has the final name.
func SaveStream(ctx context.Context, path string, stream io.Reader, expectedBytes int64, onProgress ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	partPath := path + PartSuffix
	f, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("failed to open target file: %w", err)
	}
	progress := &streamProgress{onProgress: onProgress, expectedBytes: expectedBytes}
	// progress is the last writer, so failed writes are not counted
	_, err = io.Copy(io.MultiWriter(f, progress), NewReaderContext(ctx, stream))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(partPath)
		return fmt.Errorf("failed to save stream: %w", err)
	}
	if err := os.Rename(partPath, path); err != nil {
		_ = os.Remove(partPath)
		return fmt.Errorf("failed to move completed file into place: %w", err)
	}
	if expectedBytes <= 0 {
		progress.expectedBytes = progress.downloadedBytes
	}
	progress.report(EventFinished)
	return nil
}
