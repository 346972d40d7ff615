package recognition

import (
	"encoding/json"
	"fmt"
	"strings"
)

type identifyResponse struct {
	Status   *identifyStatus `json:"status"`
	Metadata *struct {
		Music []musicEntry `json:"music"`
	} `json:"metadata"`
}

type identifyStatus struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type namedEntry struct {
	Name string `json:"name"`
}

type musicEntry struct {
	Title       string       `json:"title"`
	Artists     []namedEntry `json:"artists"`
	Album       *namedEntry  `json:"album"`
	DurationMS  int64        `json:"duration_ms"`
	Genres      []namedEntry `json:"genres"`
	ReleaseDate string       `json:"release_date"`
	ExternalIDs *struct {
		ISRC    string `json:"isrc"`
		Spotify string `json:"spotify"`
		YouTube string `json:"youtube"`
	} `json:"external_ids"`
	ExternalMetadata *struct {
		Spotify *struct {
			Track *struct {
				ID string `json:"id"`
			} `json:"track"`
		} `json:"spotify"`
		YouTube *struct {
			VID string `json:"vid"`
		} `json:"youtube"`
	} `json:"external_metadata"`
}

// parseIdentifyResponse decodes an identify body and maps it to the first match.
func parseIdentifyResponse(body []byte) (Song, error) {
	var resp identifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Song{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.Status == nil {
		return Song{}, fmt.Errorf("%w: missing status", ErrMalformedResponse)
	}
	if resp.Status.Code != statusSuccess {
		return Song{}, statusError(resp.Status.Code, resp.Status.Msg)
	}
	if resp.Metadata == nil || len(resp.Metadata.Music) == 0 {
		return Song{}, fmt.Errorf("%w: success status without music metadata", ErrMalformedResponse)
	}
	return resp.Metadata.Music[0].toSong()
}

func (m musicEntry) toSong() (Song, error) {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		return Song{}, fmt.Errorf("%w: music entry without title", ErrMalformedResponse)
	}

	song := Song{
		Title:       title,
		Artists:     names(m.Artists),
		DurationMS:  m.DurationMS,
		Genres:      names(m.Genres),
		ReleaseDate: strings.TrimSpace(m.ReleaseDate),
	}
	if m.Album != nil {
		song.Album = strings.TrimSpace(m.Album.Name)
	}

	var ids ExternalIDs
	if m.ExternalIDs != nil {
		ids.ISRC = m.ExternalIDs.ISRC
		ids.Spotify = m.ExternalIDs.Spotify
		ids.YouTube = m.ExternalIDs.YouTube
	}
	if meta := m.ExternalMetadata; meta != nil {
		if ids.Spotify == "" && meta.Spotify != nil && meta.Spotify.Track != nil {
			ids.Spotify = meta.Spotify.Track.ID
		}
		if ids.YouTube == "" && meta.YouTube != nil {
			ids.YouTube = meta.YouTube.VID
		}
	}
	if ids != (ExternalIDs{}) {
		song.ExternalIDs = &ids
	}
	return song, nil
}

func names(entries []namedEntry) []string {
	if len(entries) == 0 {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if name := strings.TrimSpace(e.Name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
