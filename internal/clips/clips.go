// Package clips persists recorded audio as WAV files with bounded retention.
package clips

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gowav "github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/rbright/songid/internal/audio"
	"github.com/rbright/songid/internal/wav"
)

const (
	// DefaultMaxFiles is how many clips survive pruning.
	DefaultMaxFiles = 10
	dirName         = "recorded_audio"
	filePrefix      = "recording-"
	fileExt         = ".wav"
)

// Clip describes one stored recording.
type Clip struct {
	Name     string
	Path     string
	Size     int64
	Duration time.Duration
	ModTime  time.Time
}

// Store writes clips into Dir and keeps at most MaxFiles of them.
type Store struct {
	Dir      string
	MaxFiles int

	logger *slog.Logger
	now    func() time.Time
}

// NewStore returns a store rooted at dir, or the default state directory when dir is empty.
func NewStore(dir string, maxFiles int, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		defaultDir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = defaultDir
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{Dir: dir, MaxFiles: maxFiles, logger: logger, now: time.Now}, nil
}

// DefaultDir returns $XDG_STATE_HOME/songid/recorded_audio with a ~/.local/state fallback.
func DefaultDir() (string, error) {
	stateDir, err := resolveStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(stateDir, "songid", dirName), nil
}

// resolveStateDir returns XDG_STATE_HOME fallback path for persisted artifacts.
func resolveStateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return xdg, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for state: %w", err)
	}
	return filepath.Join(home, ".local", "state"), nil
}

// Save encodes pcm as WAV, writes it, and prunes old clips. It returns the new path.
func (s *Store) Save(pcm []byte, format audio.Format) (string, error) {
	if len(pcm) == 0 {
		return "", errors.New("refusing to save an empty clip")
	}
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return "", fmt.Errorf("create clip dir: %w", err)
	}

	seconds := int(format.Duration(len(pcm)).Seconds())
	name := fmt.Sprintf("%s%d-%ds-%s%s", filePrefix, s.now().UnixMilli(), seconds, uuid.NewString()[:8], fileExt)
	path := filepath.Join(s.Dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("open clip file %q: %w", path, err)
	}
	if _, err := wav.WriteTo(file, pcm, format); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write clip %q: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close clip %q: %w", path, err)
	}

	s.logger.Debug("clip saved", "path", path, "bytes", len(pcm))

	if _, err := s.Prune(); err != nil {
		s.logger.Warn("clip pruning failed", "error", err.Error())
	}
	return path, nil
}

// Prune deletes the oldest clips beyond MaxFiles and returns how many were removed.
func (s *Store) Prune() (int, error) {
	entries, err := s.entries()
	if err != nil {
		return 0, err
	}
	if len(entries) <= s.MaxFiles {
		return 0, nil
	}

	var (
		removed int
		errs    []error
	)
	for _, entry := range entries[:len(entries)-s.MaxFiles] {
		if err := os.Remove(entry.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("pruned old clips", "removed", removed, "kept", s.MaxFiles)
	}
	return removed, errors.Join(errs...)
}

// List returns stored clips oldest first, with durations read from each file.
func (s *Store) List() ([]Clip, error) {
	entries, err := s.entries()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		duration, err := clipDuration(entries[i].Path)
		if err != nil {
			s.logger.Debug("read clip duration failed", "path", entries[i].Path, "error", err.Error())
			continue
		}
		entries[i].Duration = duration
	}
	return entries, nil
}

// entries returns clip files sorted oldest first. A missing dir is empty.
func (s *Store) entries() ([]Clip, error) {
	dirEntries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read clip dir: %w", err)
	}

	clips := make([]Clip, 0, len(dirEntries))
	for _, entry := range dirEntries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		clips = append(clips, Clip{
			Name:    name,
			Path:    filepath.Join(s.Dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(clips, func(i, j int) bool {
		if !clips[i].ModTime.Equal(clips[j].ModTime) {
			return clips[i].ModTime.Before(clips[j].ModTime)
		}
		return clips[i].Name < clips[j].Name
	})
	return clips, nil
}

func clipDuration(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	decoder := gowav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file %q", path)
	}
	if err := decoder.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("seek pcm in %q: %w", path, err)
	}
	if decoder.AvgBytesPerSec == 0 {
		return 0, fmt.Errorf("wav file %q declares zero byte rate", path)
	}
	return time.Duration(decoder.PCMLen() * int64(time.Second) / int64(decoder.AvgBytesPerSec)), nil
}

// FormatSize renders a byte count as B, KB, or MB.
func FormatSize(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	}
}
