package utils

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/parnurzeal/gorequest"
	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/types"
)

// HTTPError describes a failed request. It matches types.ErrNotFound for 404,
// types.ErrRateLimited for 429 and types.ErrFetch for everything else.
type HTTPError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP error. url: %s, err: %s", e.URL, e.Err)
	}
	return fmt.Sprintf("HTTP error. status code: %d, url: %s", e.StatusCode, e.URL)
}

func (e *HTTPError) Unwrap() error { return e.Err }

func (e *HTTPError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == types.ErrNotFound
	case http.StatusTooManyRequests:
		return target == types.ErrRateLimited
	}
	return target == types.ErrFetch
}

func (e *HTTPError) retryable() bool {
	// 429 is surfaced to the caller, which owns pacing.
	return e.StatusCode == 0 || e.StatusCode >= 500
}

type fetchOptions struct {
	headers map[string]string
	retry   int
	timeout time.Duration
}

// FetchOption customizes a single Fetch call.
type FetchOption func(*fetchOptions)

func WithHeader(key, value string) FetchOption {
	return func(o *fetchOptions) {
		if value == "" {
			return
		}
		o.headers[key] = value
	}
}

func WithRetry(retry int) FetchOption {
	return func(o *fetchOptions) {
		o.retry = retry
	}
}

func WithTimeout(timeout time.Duration) FetchOption {
	return func(o *fetchOptions) {
		o.timeout = timeout
	}
}

// FetchURL returns HTTP response body with retry
func FetchURL(url, apikey string, retry int) ([]byte, error) {
	return Fetch(url, WithHeader("api-key", apikey), WithRetry(retry))
}

// Fetch returns the (decompressed) response body of a GET request.
// 4xx responses are not retried.
func Fetch(url string, opts ...FetchOption) (res []byte, err error) {
	o := &fetchOptions{
		headers: map[string]string{},
		timeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	for i := 0; i <= o.retry; i++ {
		if i > 0 {
			wait := math.Pow(float64(i), 2) + float64(randInt()%10)
			slog.Warn("Retrying request", slog.String("url", url), slog.Float64("wait_seconds", wait))
			time.Sleep(time.Duration(wait) * time.Second)
		}
		res, err = fetch(url, o)
		if err == nil {
			return res, nil
		}
		var herr *HTTPError
		if xerrors.As(err, &herr) && !herr.retryable() {
			break
		}
	}
	return nil, xerrors.Errorf("failed to fetch URL: %w", err)
}

func randInt() int {
	seed, _ := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	return int(seed.Int64())
}

func fetch(url string, o *fetchOptions) ([]byte, error) {
	req := gorequest.New().Timeout(o.timeout).Get(url)
	for k, v := range o.headers {
		req.Set(k, v)
	}
	resp, body, errs := req.Type("text").EndBytes()
	if len(errs) > 0 {
		return nil, &HTTPError{URL: url, Err: errs[0]}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}
	return ReadBody(resp.Header.Get("Content-Encoding"), body)
}

// ReadBody undoes gzip transfer compression. Bodies that are not gzip are returned as is.
func ReadBody(contentEncoding string, body []byte) ([]byte, error) {
	isGzip := strings.EqualFold(contentEncoding, "gzip") ||
		(len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b)
	if !isGzip {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Errorf("failed to open gzip body: %w", err)
	}
	defer zr.Close()

	b, err := io.ReadAll(zr)
	if err != nil {
		return nil, xerrors.Errorf("failed to decompress body: %w", err)
	}
	return b, nil
}

func LookupEnv(key, defaultValue string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultValue
}
