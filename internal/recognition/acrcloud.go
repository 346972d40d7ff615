package recognition

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rbright/songid/internal/version"
)

const (
	identifyPath     = "/v1/identify"
	dataTypeAudio    = "audio"
	signatureVersion = "1"
)

// DefaultHosts lists the regional identify endpoints tried in order.
func DefaultHosts() []string {
	return []string{
		"identify-us-west-2.acrcloud.com",
		"identify-eu-west-1.acrcloud.com",
		"identify-ap-southeast-1.acrcloud.com",
		"identify-cn-north-1.acrcloud.cn",
	}
}

// ACRCloudConfig configures the ACRCloud identify client.
type ACRCloudConfig struct {
	Hosts          []string
	AccessKey      string
	AccessSecret   string
	Timeout        time.Duration
	MaxSampleBytes int
}

// ACRCloudClient calls the ACRCloud identify API with signed multipart uploads.
type ACRCloudClient struct {
	cfg    ACRCloudConfig
	http   *resty.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewACRCloudClient validates credentials and builds the HTTP client.
func NewACRCloudClient(cfg ACRCloudConfig, logger *slog.Logger) (*ACRCloudClient, error) {
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.AccessSecret = strings.TrimSpace(cfg.AccessSecret)
	if cfg.AccessKey == "" || cfg.AccessSecret == "" {
		return nil, fmt.Errorf("%w: access key and secret are required", ErrNotConfigured)
	}
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = DefaultHosts()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", version.UserAgent())

	return &ACRCloudClient{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Identify uploads wav to each configured host in turn until one answers.
// Only transport failures move on to the next host.
func (c *ACRCloudClient) Identify(ctx context.Context, wav []byte) (Song, error) {
	if len(wav) == 0 {
		return Song{}, fmt.Errorf("%w: audio sample is empty", ErrNetwork)
	}
	if c.cfg.MaxSampleBytes > 0 && len(wav) > c.cfg.MaxSampleBytes {
		c.logger.Warn("audio sample exceeds recommended size",
			"bytes", len(wav),
			"max_bytes", c.cfg.MaxSampleBytes,
		)
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	signature := Sign(c.cfg.AccessKey, c.cfg.AccessSecret, timestamp)

	var errs []error
	for _, host := range c.cfg.Hosts {
		start := time.Now()
		song, err := c.identifyAt(ctx, host, wav, timestamp, signature)
		logger := c.logger.With(
			"host", host,
			"access_key", MaskKey(c.cfg.AccessKey),
			"sample_bytes", len(wav),
			"latency_ms", time.Since(start).Milliseconds(),
		)
		if err == nil {
			logger.Info("identify succeeded", "title", song.Title)
			return song, nil
		}

		var transport *transportError
		if !errors.As(err, &transport) {
			logger.Info("identify finished without match", "error", err.Error())
			return Song{}, err
		}

		logger.Warn("identify host unreachable", "error", err.Error())
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return Song{}, fmt.Errorf("%w: all hosts failed: %w", ErrNetwork, errors.Join(errs...))
}

func (c *ACRCloudClient) identifyAt(ctx context.Context, host string, wav []byte, timestamp string, signature string) (Song, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"access_key":        c.cfg.AccessKey,
			"data_type":         dataTypeAudio,
			"signature_version": signatureVersion,
			"signature":         signature,
			"sample_bytes":      strconv.Itoa(len(wav)),
			"timestamp":         timestamp,
		}).
		SetMultipartField("sample", "sample.wav", "audio/wav", bytes.NewReader(wav)).
		Post(endpointURL(host))
	if err != nil {
		return Song{}, &transportError{host: host, err: err}
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusOK:
		return parseIdentifyResponse(resp.Body())
	case code == http.StatusUnauthorized:
		return Song{}, &ServiceError{Code: code, Message: "authentication failed; check access key and secret"}
	case code == http.StatusTooManyRequests:
		return Song{}, &ServiceError{Code: code, Message: "too many requests; try again later"}
	case code == http.StatusBadRequest:
		return Song{}, &ServiceError{Code: code, Message: "invalid request: " + strings.TrimSpace(string(resp.Body()))}
	case code == http.StatusNotFound:
		return Song{}, &ServiceError{Code: code, Message: "recognition service unavailable"}
	default:
		return Song{}, &ServiceError{Code: code, Message: resp.Status()}
	}
}

// ProbeHost reports whether host answers HTTP at the identify path within timeout.
// Any HTTP status counts as reachable; only transport failures are errors.
func ProbeHost(ctx context.Context, host string, timeout time.Duration) (int, error) {
	resp, err := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", version.UserAgent()).
		R().
		SetContext(ctx).
		Get(endpointURL(host))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrNetwork, host, err)
	}
	return resp.StatusCode(), nil
}

// Sign computes the base64 HMAC-SHA1 request signature.
func Sign(accessKey string, accessSecret string, timestamp string) string {
	stringToSign := strings.Join([]string{
		http.MethodPost,
		identifyPath,
		accessKey,
		dataTypeAudio,
		signatureVersion,
		timestamp,
	}, "\n")

	mac := hmac.New(sha1.New, []byte(accessSecret))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// MaskKey keeps only the first four characters of a credential for logs.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}

// endpointURL accepts bare hosts or full base URLs.
func endpointURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if strings.Contains(host, "://") {
		return host + identifyPath
	}
	return "https://" + host + identifyPath
}

type transportError struct {
	host string
	err  error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("%s: %v", e.host, e.err)
}

func (e *transportError) Unwrap() error {
	return e.err
}
