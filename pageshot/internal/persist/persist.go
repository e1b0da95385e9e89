// Package persist writes finished captures to disk.
package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/shotkit/pageshot/shot"
)

// Saver stores an encoded image and returns where it went.
type Saver interface {
	Save(ctx context.Context, data []byte, format shot.Format) (string, error)
}

// FileName returns screen_shoot_YYYY-MM-DD_HH-MM-SS.<ext> for t in local
// time.
func FileName(t time.Time, format shot.Format) string {
	return "screen_shoot_" + t.Local().Format("2006-01-02_15-04-05") + "." + format.Ext()
}

// Dir saves files into a directory, never overwriting an existing file:
// a clash gets a " (n)" suffix before the extension.
type Dir struct {
	Path string
	// Now defaults to time.Now.
	Now func() time.Time
}

// maxSuffix bounds the " (n)" probe.
const maxSuffix = 1000

func (d *Dir) Save(ctx context.Context, data []byte, format shot.Format) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return "", fmt.Errorf("persist: mkdir: %w", err)
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	name := FileName(now(), format)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxSuffix; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(d.Path, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("persist: create: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("persist: write: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("persist: close: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("persist: no free name for %s", name)
}
