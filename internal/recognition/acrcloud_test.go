package recognition

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignMatchesKnownVector(t *testing.T) {
	// HMAC-SHA1("secret", "POST\n/v1/identify\nkey\naudio\n1\n1700000000"), base64.
	sig := Sign("key", "secret", "1700000000")
	require.Equal(t, "tWbqxXkbyadGeaHIJS/OzfF+KdU=", sig)
	require.NotEqual(t, sig, Sign("key", "secret", "1700000001"))
}

func TestNewACRCloudClientRequiresCredentials(t *testing.T) {
	_, err := NewACRCloudClient(ACRCloudConfig{AccessKey: "key"}, nil)
	require.ErrorIs(t, err, ErrNotConfigured)

	client, err := NewACRCloudClient(ACRCloudConfig{AccessKey: "key", AccessSecret: "secret"}, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultHosts(), client.cfg.Hosts)
}

func TestACRCloudIdentifySendsSignedMultipart(t *testing.T) {
	sample := []byte("RIFF....WAVEfmt fake-wav-bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/identify", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		require.Equal(t, "my-access-key", r.FormValue("access_key"))
		require.Equal(t, "audio", r.FormValue("data_type"))
		require.Equal(t, "1", r.FormValue("signature_version"))
		require.Equal(t, "1700000000", r.FormValue("timestamp"))
		require.Equal(t, "30", r.FormValue("sample_bytes"))
		require.Equal(t, Sign("my-access-key", "my-secret", "1700000000"), r.FormValue("signature"))
		require.Empty(t, r.FormValue("access_secret"))

		file, header, err := r.FormFile("sample")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "audio/wav", header.Header.Get("Content-Type"))
		got, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, sample, got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(successBody))
	}))
	defer server.Close()

	client := newTestACRClient(t, server.URL)
	song, err := client.Identify(context.Background(), sample)
	require.NoError(t, err)
	require.Equal(t, "Song A", song.Title)
	require.Equal(t, []string{"Artist X"}, song.Artists)
}

func TestACRCloudIdentifyHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		contains string
	}{
		{status: http.StatusUnauthorized, contains: "authentication failed"},
		{status: http.StatusTooManyRequests, contains: "too many requests"},
		{status: http.StatusBadRequest, contains: "bad sample"},
		{status: http.StatusNotFound, contains: "unavailable"},
		{status: http.StatusBadGateway, contains: "502"},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("bad sample"))
			}))
			defer server.Close()

			_, err := newTestACRClient(t, server.URL).Identify(context.Background(), []byte{1, 2})
			require.ErrorIs(t, err, ErrNetwork)
			var svcErr *ServiceError
			require.True(t, errors.As(err, &svcErr))
			require.Equal(t, tc.status, svcErr.Code)
			require.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestACRCloudIdentifyNoMatchDoesNotFailOver(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"status":{"code":1001,"msg":"No result"}}`))
	}))
	defer server.Close()

	client := newTestACRClient(t, server.URL, server.URL)
	_, err := client.Identify(context.Background(), []byte{1, 2})
	require.ErrorIs(t, err, ErrNoMatch)
	require.Equal(t, int32(1), hits.Load())
}

func TestACRCloudIdentifyFailsOverOnTransportErrors(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(successBody))
	}))
	defer server.Close()

	song, err := newTestACRClient(t, deadURL, server.URL).Identify(context.Background(), []byte{1, 2})
	require.NoError(t, err)
	require.Equal(t, "Song A", song.Title)

	_, err = newTestACRClient(t, deadURL).Identify(context.Background(), []byte{1, 2})
	require.ErrorIs(t, err, ErrNetwork)
	require.Contains(t, err.Error(), "all hosts failed")
}

func TestACRCloudIdentifyRejectsEmptySample(t *testing.T) {
	_, err := newTestACRClient(t, "http://127.0.0.1:1").Identify(context.Background(), nil)
	require.ErrorIs(t, err, ErrNetwork)
}

func TestACRCloudIdentifyHonorsCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestACRClient(t, server.URL, server.URL).Identify(ctx, []byte{1, 2})
	require.ErrorIs(t, err, ErrNetwork)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMaskKey(t *testing.T) {
	require.Equal(t, "abcd****", MaskKey("abcdefgh"))
	require.Equal(t, "***", MaskKey("abc"))
}

func TestEndpointURL(t *testing.T) {
	require.Equal(t, "https://identify-eu-west-1.acrcloud.com/v1/identify", endpointURL("identify-eu-west-1.acrcloud.com"))
	require.Equal(t, "http://127.0.0.1:8080/v1/identify", endpointURL("http://127.0.0.1:8080/"))
}

func newTestACRClient(t *testing.T, hosts ...string) *ACRCloudClient {
	t.Helper()
	client, err := NewACRCloudClient(ACRCloudConfig{
		Hosts:          hosts,
		AccessKey:      "my-access-key",
		AccessSecret:   "my-secret",
		Timeout:        2 * time.Second,
		MaxSampleBytes: 1,
	}, nil)
	require.NoError(t, err)
	client.now = func() time.Time { return time.Unix(1700000000, 0) }
	return client
}

func TestProbeHostReportsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/identify", r.URL.Path)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	t.Cleanup(server.Close)

	code, err := ProbeHost(context.Background(), server.URL, time.Second)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestProbeHostTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := ProbeHost(context.Background(), url, 200*time.Millisecond)
	require.ErrorIs(t, err, ErrNetwork)
}
