// Package evidence locates the artifacts of an upload session and turns them
// into (source id, text) pairs for retrieval.
package evidence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoSession is returned when an output directory holds no session.
var ErrNoSession = errors.New("evidence: no session_* directory found")

const sessionPrefix = "session_"

// Session is one upload session directory.
type Session struct {
	ID      string    `json:"id"`
	Dir     string    `json:"dir"`
	ModTime time.Time `json:"mod_time"`
}

// ListSessions returns the session directories under outputDir, newest first.
func ListSessions(outputDir string) ([]Session, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading output dir: %w", err)
	}

	var sessions []Session
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), sessionPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, Session{
			ID:      e.Name(),
			Dir:     filepath.Join(outputDir, e.Name()),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].ModTime.Equal(sessions[j].ModTime) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].ModTime.After(sessions[j].ModTime)
	})
	return sessions, nil
}

// LatestSession returns the most recently modified session under outputDir.
func LatestSession(outputDir string) (Session, error) {
	sessions, err := ListSessions(outputDir)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, fmt.Errorf("%w under %s", ErrNoSession, outputDir)
	}
	return sessions[0], nil
}

// OpenSession returns the named session under outputDir.
func OpenSession(outputDir, id string) (Session, error) {
	if !strings.HasPrefix(id, sessionPrefix) || !filepath.IsLocal(id) || strings.ContainsRune(id, filepath.Separator) {
		return Session{}, fmt.Errorf("%w: invalid session id %q", ErrNoSession, id)
	}
	dir := filepath.Join(outputDir, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Session{}, fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	return Session{ID: id, Dir: dir, ModTime: info.ModTime()}, nil
}

// resolve joins name onto the session directory, refusing names that would
// escape it.
func (s Session) resolve(name string) (string, bool) {
	name = filepath.FromSlash(strings.TrimSpace(name))
	if name == "" || !filepath.IsLocal(name) {
		return "", false
	}
	return filepath.Join(s.Dir, name), true
}
