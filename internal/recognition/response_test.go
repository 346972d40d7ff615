package recognition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const successBody = `{
  "status": {"msg": "Success", "code": 0, "version": "1.0"},
  "metadata": {
    "music": [
      {
        "title": "Song A",
        "artists": [{"name": "Artist X"}],
        "duration_ms": 180000,
        "genres": [{"name": "Pop"}],
        "release_date": "2020-01-01",
        "external_ids": {"isrc": "USRC17607839"},
        "external_metadata": {
          "spotify": {"track": {"id": "sp-1"}},
          "youtube": {"vid": "yt-1"}
        }
      },
      {"title": "Second Guess", "artists": [{"name": "Other"}]}
    ]
  }
}`

func TestParseIdentifyResponseSuccess(t *testing.T) {
	song, err := parseIdentifyResponse([]byte(successBody))
	require.NoError(t, err)
	require.Equal(t, Song{
		Title:       "Song A",
		Artists:     []string{"Artist X"},
		DurationMS:  180000,
		Genres:      []string{"Pop"},
		ReleaseDate: "2020-01-01",
		ExternalIDs: &ExternalIDs{Spotify: "sp-1", YouTube: "yt-1", ISRC: "USRC17607839"},
	}, song)
	require.Empty(t, song.Album)
}

func TestParseIdentifyResponseStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		target   error
		code     int
		contains string
	}{
		{name: "no result", body: `{"status":{"code":1001,"msg":"No result"}}`, target: ErrNoMatch},
		{name: "fingerprint", body: `{"status":{"code":2004,"msg":"Can't generate fingerprint"}}`, target: ErrNetwork, code: 2004, contains: "fingerprint"},
		{name: "invalid params", body: `{"status":{"code":3000,"msg":"missing sample"}}`, target: ErrNetwork, code: 3000, contains: "missing sample"},
		{name: "invalid key", body: `{"status":{"code":3001,"msg":"Invalid access key"}}`, target: ErrNetwork, code: 3001, contains: "access key"},
		{name: "quota", body: `{"status":{"code":3003,"msg":"Limit exceeded"}}`, target: ErrNetwork, code: 3003, contains: "quota"},
		{name: "other", body: `{"status":{"code":3015,"msg":"QpS limit"}}`, target: ErrNetwork, code: 3015, contains: "QpS limit"},
		{name: "garbage", body: `<html>`, target: ErrMalformedResponse},
		{name: "no status", body: `{}`, target: ErrMalformedResponse},
		{name: "no music", body: `{"status":{"code":0},"metadata":{"music":[]}}`, target: ErrMalformedResponse},
		{name: "untitled", body: `{"status":{"code":0},"metadata":{"music":[{"title":"  "}]}}`, target: ErrMalformedResponse},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseIdentifyResponse([]byte(tc.body))
			require.ErrorIs(t, err, tc.target)
			if tc.code != 0 {
				var svcErr *ServiceError
				require.True(t, errors.As(err, &svcErr))
				require.Equal(t, tc.code, svcErr.Code)
				require.Contains(t, svcErr.Error(), tc.contains)
			}
		})
	}
}

func TestParseIdentifyResponsePrefersExternalIDs(t *testing.T) {
	body := `{"status":{"code":0},"metadata":{"music":[{"title":"T","album":{"name":" LP "},
	  "external_ids":{"spotify":"direct"},
	  "external_metadata":{"spotify":{"track":{"id":"nested"}}}}]}}`

	song, err := parseIdentifyResponse([]byte(body))
	require.NoError(t, err)
	require.Equal(t, "LP", song.Album)
	require.Equal(t, "direct", song.ExternalIDs.Spotify)
	require.Nil(t, song.Artists)
}
