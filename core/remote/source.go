// Package remote reads archives served over HTTP without downloading them.
//
// A Source issues one range request per positioned read, so listing an
// archive costs a size request plus the header read, and reading a file costs
// one request for its bytes.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	asarcore "github.com/meigma/asar/core"
)

// ErrRangeUnsupported is returned when the server ignores Range headers.
var ErrRangeUnsupported = errors.New("remote: range requests not supported")

// Source implements asarcore.ByteSource over HTTP range requests.
type Source struct {
	url          string
	client       *http.Client
	headers      http.Header
	size         int64
	etag         string
	lastModified string
	sourceID     string
	pinned       bool
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *http.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeader adds a header to every request, e.g. Authorization.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(http.Header)
		}
		s.headers.Add(key, value)
	}
}

// WithSourceID overrides the identifier used to key extraction caches.
func WithSourceID(id string) Option {
	return func(s *Source) {
		s.sourceID = id
	}
}

// WithPinnedContent makes reads conditional on the validators seen at open
// time. A read after the remote object changes fails instead of mixing
// bytes from two versions of the archive.
func WithPinnedContent() Option {
	return func(s *Source) {
		s.pinned = true
	}
}

// IsURL reports whether name should be opened with this package.
func IsURL(name string) bool {
	return strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://")
}

// NewSource asks url for its size and validators. ctx bounds that request
// only; use ReadAtContext, or a client with a timeout, to bound reads.
func NewSource(ctx context.Context, url string, opts ...Option) (*Source, error) {
	s := &Source{
		url:    url,
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = http.DefaultClient
	}

	if err := s.fetchSize(ctx); err != nil {
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	if s.sourceID == "" {
		s.sourceID = s.defaultSourceID()
	}
	return s, nil
}

// Open returns an archive read from url. Closing the archive releases
// nothing remote; connections return to the client's pool after each read.
func Open(ctx context.Context, url string, sourceOpts []Option, archiveOpts ...asarcore.Option) (*asarcore.Archive, error) {
	src, err := NewSource(ctx, url, sourceOpts...)
	if err != nil {
		return nil, err
	}
	opts := append([]asarcore.Option{asarcore.WithPath(url)}, archiveOpts...)
	return asarcore.New(src, opts...)
}

// Size returns the total size of the remote object.
func (s *Source) Size() int64 {
	return s.size
}

// SourceID returns a stable identifier for the remote content.
func (s *Source) SourceID() string {
	return s.sourceID
}

// ReadAt implements io.ReaderAt with a single range request. Reads that
// extend past the end return the available bytes and io.EOF.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	return s.ReadAtContext(context.Background(), p, off)
}

// ReadAtContext is ReadAt bounded by ctx.
func (s *Source) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	want := len(p)
	end := off + int64(want) - 1
	if end >= s.size {
		end = s.size - 1
		want = int(end - off + 1)
	}

	resp, err := s.get(ctx, fmt.Sprintf("bytes=%d-%d", off, end), s.pinned)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusPartialContent {
		// Error bodies, and a 200 carrying the whole object, are not read.
		resp.Body.Close()
	} else {
		defer drain(resp.Body)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case http.StatusOK:
		return 0, ErrRangeUnsupported
	case http.StatusPreconditionFailed:
		return 0, fmt.Errorf("read %s: remote content changed", s.url)
	default:
		return 0, fmt.Errorf("read %s: %s", s.url, resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, err
	}
	if want < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// fetchSize learns the object size from a one-byte range request. HEAD is not
// used because some servers report the compressed length there.
func (s *Source) fetchSize(ctx context.Context) error {
	resp, err := s.get(ctx, "bytes=0-0", false)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return ErrRangeUnsupported
		}
		return errors.New(resp.Status)
	}
	defer drain(resp.Body)

	size, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	s.size = size
	s.etag = resp.Header.Get("ETag")
	s.lastModified = resp.Header.Get("Last-Modified")
	return nil
}

func (s *Source) get(ctx context.Context, byteRange string, conditional bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	// Ranges must address the stored bytes, not a transfer encoding.
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Range", byteRange)
	if conditional {
		if s.etag != "" {
			req.Header.Set("If-Match", s.etag)
		} else if s.lastModified != "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	return s.client.Do(req)
}

func (s *Source) defaultSourceID() string {
	switch {
	case s.etag != "":
		return fmt.Sprintf("url:%s|etag:%s", s.url, s.etag)
	case s.lastModified != "":
		return fmt.Sprintf("url:%s|mod:%s|size:%d", s.url, s.lastModified, s.size)
	default:
		return fmt.Sprintf("url:%s|size:%d", s.url, s.size)
	}
}

// drain consumes and closes a body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body) //nolint:errcheck // best-effort drain for connection reuse
	_ = body.Close()
}

// parseContentRange returns the total length from "bytes a-b/total".
func parseContentRange(value string) (int64, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}

var _ asarcore.ByteSource = (*Source)(nil)
