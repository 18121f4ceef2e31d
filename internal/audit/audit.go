// Package audit signs emitted records and appends the signatures to a
// per-day, per-provider, per-kind log file.
package audit

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// Sign returns the hex HMAC-SHA256 of data keyed by version.
func Sign(version string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(version))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// PathFor returns <dir>/<YYYY-MM-DD>/<provider>-<kind>.log for day (UTC).
func PathFor(dir string, day time.Time, provider, kind string) string {
	return filepath.Join(dir, day.UTC().Format(dayLayout), provider+"-"+kind+".log")
}

// Log appends signatures to a single file. Every Append opens, writes, and
// closes the file, so a returned nil means the line reached the OS.
type Log struct {
	Path string
}

// Open returns a Log for path. The file is created on the first Append.
func Open(path string) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("audit log path is required")
	}
	return &Log{Path: path}, nil
}

// Append writes signature and a newline to the end of the log.
func (l *Log) Append(signature string) error {
	if dir := filepath.Dir(l.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
	}

	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	if _, err := f.WriteString(signature + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append audit log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	return nil
}

// Set is a collection of signatures read back from a log.
type Set map[string]struct{}

// Has reports whether sig is in the set. A nil Set has no members.
func (s Set) Has(sig string) bool {
	_, ok := s[sig]
	return ok
}

// Add inserts sig.
func (s Set) Add(sig string) {
	s[sig] = struct{}{}
}

// Load reads every signature in the log at path. A missing file yields an
// empty set.
func Load(path string) (Set, error) {
	set := make(Set)

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		set.Add(line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	return set, nil
}
