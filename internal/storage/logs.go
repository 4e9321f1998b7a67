package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"buildagent/pkg/utils"
)

// ManifestName is the checksum file written next to the step logs.
const ManifestName = "checksums.txt"

// LogStorage saves step logs into a build's log directory.
type LogStorage struct {
	BaseDir string

	// Now is used for log file timestamps. Defaults to time.Now.
	Now func() time.Time

	saved map[string]string // file name -> sha256
}

func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir}
}

// SaveLog writes the output of one step and returns the file path.
func (ls *LogStorage) SaveLog(stage, step, output string) (string, error) {
	if err := os.MkdirAll(ls.BaseDir, 0o755); err != nil {
		return "", fmt.Errorf("creating log dir: %w", err)
	}

	now := time.Now
	if ls.Now != nil {
		now = ls.Now
	}
	base := fmt.Sprintf("%s_%s_%s", sanitize(stage), sanitize(step), now().Format("20060102_150405"))
	name := base + ".log"
	for i := 1; ls.exists(name); i++ {
		name = fmt.Sprintf("%s_%d.log", base, i)
	}

	path := filepath.Join(ls.BaseDir, name)
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return "", fmt.Errorf("writing log %s: %w", name, err)
	}

	if ls.saved == nil {
		ls.saved = make(map[string]string)
	}
	ls.saved[name] = utils.HashString(output)
	return path, nil
}

// WriteManifest writes the checksums of every log saved so far, one
// "<sha256>  <file>" line per log, sorted by file name.
func (ls *LogStorage) WriteManifest() (string, error) {
	names := make([]string, 0, len(ls.saved))
	for name := range ls.saved {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s  %s\n", ls.saved[name], name)
	}

	path := filepath.Join(ls.BaseDir, ManifestName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return path, nil
}

func (ls *LogStorage) exists(name string) bool {
	_, err := os.Stat(filepath.Join(ls.BaseDir, name))
	return err == nil
}

// sanitize keeps file names portable.
func sanitize(name string) string {
	var clean strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			clean.WriteRune(r)
		}
	}
	if clean.Len() == 0 {
		return "step"
	}
	return clean.String()
}

// VerifyManifest re-hashes every log listed in the manifest of dir and
// reports the first mismatch.
func VerifyManifest(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		want, name, ok := strings.Cut(line, "  ")
		if !ok {
			return fmt.Errorf("malformed manifest line %q", line)
		}
		got, err := utils.HashFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("hashing %s: %w", name, err)
		}
		if got != want {
			return fmt.Errorf("checksum mismatch for %s", name)
		}
	}
	return nil
}
