package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "fetchrelay/pkg/logx"
)

// Local is a downloaded artifact sitting in the temp directory.
type Local struct {
	Path string
	Name string
	Size int64
}

// Remove deletes the temp file; safe to call on the zero value.
func (l Local) Remove() {
	if l.Path != "" {
		_ = os.Remove(l.Path)
	}
}

// Downloader fetches provider links into the temp directory.
type Downloader struct {
	log     logx.Logger
	http    *http.Client
	tempDir string
}

func NewDownloader(tempDir string, log logx.Logger) *Downloader {
	if log.IsZero() {
		log = logx.Nop()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Downloader{
		log:     log,
		http:    &http.Client{Timeout: 10 * time.Minute},
		tempDir: tempDir,
	}
}

// Fetch downloads url to a uniquely named temp file. The caller owns the
// returned file and must Remove() it on every exit path.
func (d *Downloader) Fetch(ctx context.Context, url string) (Local, error) {
	if err := os.MkdirAll(d.tempDir, 0o755); err != nil {
		return Local{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Local{}, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return Local{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Local{}, fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	name := FileName(resp.Header.Get("Content-Disposition"), url)

	f, err := os.CreateTemp(d.tempDir, "artifact-*")
	if err != nil {
		return Local{}, err
	}
	n, err := io.Copy(f, resp.Body)
	cerr := f.Close()
	if err != nil {
		_ = os.Remove(f.Name())
		return Local{}, fmt.Errorf("download %s: %w", url, err)
	}
	if cerr != nil {
		_ = os.Remove(f.Name())
		return Local{}, cerr
	}

	d.log.Debug("artifact downloaded",
		logx.String("name", name),
		logx.Int64("size", n),
		logx.String("path", f.Name()))
	return Local{Path: f.Name(), Name: name, Size: n}, nil
}

// SweepOlderThan removes temp artifacts older than maxAge. Used by the
// maintenance cron to catch files orphaned by a crash.
func (d *Downloader) SweepOlderThan(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(d.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "artifact-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(d.tempDir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
