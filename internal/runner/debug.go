package runner

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
)

// dumpFrame saves the last screenshot of rc to the debug directory.
// It returns an empty path when there is nothing to save.
func (r *Runner) dumpFrame(rc *RunContext) (string, error) {
	if r.cfg.DebugDir == "" || rc.last == nil {
		return "", nil
	}
	if err := os.MkdirAll(r.cfg.DebugDir, 0o755); err != nil {
		return "", fmt.Errorf("create debug dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s.png", safeName(rc.Task.Name), rc.ID.String()[:8])
	path := filepath.Join(r.cfg.DebugDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create debug frame: %w", err)
	}
	if err := png.Encode(f, rc.last.Image); err != nil {
		f.Close()
		return "", fmt.Errorf("encode debug frame: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write debug frame: %w", err)
	}
	return path, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
