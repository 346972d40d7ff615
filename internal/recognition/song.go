// Package recognition identifies songs from WAV clips via a fingerprinting backend.
package recognition

import (
	"fmt"
	"strings"
)

// Song is one recognized track. Values are never mutated after construction.
type Song struct {
	Title       string       `json:"title"`
	Artists     []string     `json:"artists"`
	Album       string       `json:"album,omitempty"`
	DurationMS  int64        `json:"duration_ms"`
	Genres      []string     `json:"genres,omitempty"`
	ReleaseDate string       `json:"release_date,omitempty"`
	ExternalIDs *ExternalIDs `json:"external_ids,omitempty"`
}

// ExternalIDs carries service-specific identifiers for a track.
type ExternalIDs struct {
	Spotify string `json:"spotify,omitempty"`
	YouTube string `json:"youtube,omitempty"`
	ISRC    string `json:"isrc,omitempty"`
}

// ArtistsString joins artist names for display.
func (s Song) ArtistsString() string {
	return strings.Join(s.Artists, ", ")
}

// GenresString joins genres for display, or "" when the service reported none.
func (s Song) GenresString() string {
	return strings.Join(s.Genres, ", ")
}

// FormattedDuration renders the duration as m:ss, or h:mm:ss past one hour.
func (s Song) FormattedDuration() string {
	total := s.DurationMS / 1000
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total / 60) % 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// Display is the one-line form used for clipboard output and CLI results.
func (s Song) Display() string {
	artists := s.ArtistsString()
	if artists == "" {
		return s.Title
	}
	return s.Title + " — " + artists
}
