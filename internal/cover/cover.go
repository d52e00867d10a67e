// Package cover implements the fetch -> validate -> transcode -> store
// pipeline for book cover images (spec.md §4.E): download a provider URL,
// sniff and decode its format, resize to three bounds, re-encode to a
// modern codec, and upload to a blob store under deterministic keys.
package cover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/jukasdrj/alexandria/internal/logging"
)

const (
	minBodyBytes = 100
	maxBodyBytes = 10 << 20 // 10 MB

	// smallImageThreshold is the source-size cutoff below which the
	// original bytes are kept instead of re-encoding (spec.md §4.E step 5):
	// WebP's container overhead can inflate already-tiny images.
	smallImageThreshold = 5 << 10 // 5 KB
)

// Size is one of the three resize targets (spec.md §4.E step 4).
type Size string

const (
	SizeLarge  Size = "large"
	SizeMedium Size = "medium"
	SizeSmall  Size = "small"
)

// bounds gives the max width/height per Size; aspect ratio is preserved and
// images are never upscaled past their source dimensions.
var bounds = map[Size][2]int{
	SizeLarge:  {512, 768},
	SizeMedium: {256, 384},
	SizeSmall:  {128, 192},
}

// sizeOrder is the deterministic iteration order for Process's output.
var sizeOrder = []Size{SizeLarge, SizeMedium, SizeSmall}

// Status is the outcome of Process.
type Status string

const (
	StatusOK            Status = "ok"
	StatusError         Status = "error"
	StatusRetryableAuth Status = "retryable_auth" // 401/403 from a paid-source URL; caller should mint a fresh URL and retry once.
)

// Metrics records the per-phase timing and byte counts spec.md §4.E step 7
// requires on every call, success or failure.
type Metrics struct {
	DownloadMS         int64
	ProcessMS          int64
	UploadMS           int64
	TotalMS            int64
	OriginalBytes      int
	CompressedBytes    int
}

// Result is process_cover's return shape.
type Result struct {
	Status  Status
	URLs    map[Size]string
	Metrics Metrics
	Error   string
}

// Blob is the minimal upload surface Process needs. cmd/alexandriad wires
// the filesystem-backed internal/blobstore.FS; no object-storage SDK
// appears anywhere in the retrieved pack (see Codec stdlib justification in
// DESIGN.md for the same reasoning applied to encoding).
type Blob interface {
	// Put uploads body under key and returns a URL the caller can persist.
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Codec resizes and encodes an image. The default implementation
// (NewDefaultCodec) is stdlib-only: see DESIGN.md for why no ecosystem
// image codec was available to wire here.
type Codec interface {
	// Resize scales img down to fit within maxW x maxH, preserving aspect
	// ratio, and never upscaling. img is returned unchanged if it already
	// fits.
	Resize(img image.Image, maxW, maxH int) image.Image
	// Encode serializes img as WebP (or an equivalent modern codec).
	Encode(img image.Image) ([]byte, string, error) // bytes, content-type, error
}

// allowHost reports whether host is a recognized free or paid cover source.
// Matches are suffix-based so subdomains of an allow-listed host also pass.
type allowHost func(host string) bool

// Processor implements spec.md §4.E.
type Processor struct {
	client    *http.Client
	blob      Blob
	codec     Codec
	allowed   allowHost
	pathPrefix string // default "isbn"
}

// Option configures a Processor.
type Option func(*Processor)

// WithHTTPClient overrides the default download client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Processor) { p.client = c }
}

// WithAllowedHosts restricts download hosts to an explicit allow-list,
// matching suffixes (e.g. "covers.openlibrary.org" also allows
// "images.covers.openlibrary.org").
func WithAllowedHosts(hosts ...string) Option {
	return func(p *Processor) {
		p.allowed = func(host string) bool {
			host = strings.ToLower(host)
			for _, h := range hosts {
				h = strings.ToLower(h)
				if host == h || strings.HasSuffix(host, "."+h) {
					return true
				}
			}
			return false
		}
	}
}

// New builds a Processor. client and blob are required; codec defaults to
// NewDefaultCodec(), and the allow-list defaults to allow-all (callers
// should supply WithAllowedHosts in production).
func New(client *http.Client, blob Blob, opts ...Option) *Processor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	p := &Processor{
		client:     client,
		blob:       blob,
		codec:      NewDefaultCodec(),
		allowed:    func(string) bool { return true },
		pathPrefix: "isbn",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithCodec overrides the resize/encode implementation.
func WithCodec(c Codec) Option {
	return func(p *Processor) { p.codec = c }
}

var (
	errBadHost   = errors.New("cover: host not on allow-list")
	errTooSmall  = errors.New("cover: download below minimum size")
	errTooLarge  = errors.New("cover: download exceeds maximum size")
	errBadFormat = errors.New("cover: unrecognized image format")
)

// isPaidSourceURL is a crude heuristic the queue consumer also needs: a
// signed paid-source URL almost always carries a query string (token,
// expiry, signature). Free catalogs serve covers from bare paths.
func isPaidSourceURL(rawURL string) bool {
	return strings.Contains(rawURL, "?")
}

// IsPaidSourceURL exposes isPaidSourceURL so the queue consumer can decide
// whether a 401/403 warrants minting a fresh URL from the paid adapter, per
// spec.md §4.E failure semantics.
func IsPaidSourceURL(rawURL string) bool { return isPaidSourceURL(rawURL) }

// BlobKey reconstructs the deterministic upload key for a given ISBN/size,
// assuming the common WebP path (the small-image passthrough case may use
// a different extension; BlobKey is used only for the queue consumer's
// best-effort "already cached" check, where a miss simply falls through to
// reprocessing).
func BlobKey(normalizedISBN string, size Size) string {
	return fmt.Sprintf("isbn/%s/%s.webp", normalizedISBN, size)
}

// Process implements the full pipeline contract: process_cover(isbn,
// provider_url) -> {status, metrics, error?} (spec.md §4.E).
func (p *Processor) Process(ctx context.Context, normalizedISBN, providerURL string) Result {
	totalStart := time.Now()
	var m Metrics

	raw, downloadMS, status, err := p.download(ctx, providerURL)
	m.DownloadMS = downloadMS
	if err != nil {
		m.TotalMS = time.Since(totalStart).Milliseconds()
		logging.Log(ctx).Debug("cover: download failed", "isbn", normalizedISBN, "err", err)
		return Result{Status: status, Metrics: m, Error: err.Error()}
	}
	m.OriginalBytes = len(raw)

	processStart := time.Now()
	encoded, err := p.process(raw)
	m.ProcessMS = time.Since(processStart).Milliseconds()
	if err != nil {
		m.TotalMS = time.Since(totalStart).Milliseconds()
		return Result{Status: StatusError, Metrics: m, Error: err.Error()}
	}

	uploadStart := time.Now()
	urls := make(map[Size]string, len(sizeOrder))
	for _, size := range sizeOrder {
		enc := encoded[size]
		key := fmt.Sprintf("%s/%s/%s%s", p.pathPrefix, normalizedISBN, size, enc.ext)
		url, err := p.blob.Put(ctx, key, enc.bytes, enc.contentType)
		if err != nil {
			m.UploadMS = time.Since(uploadStart).Milliseconds()
			m.TotalMS = time.Since(totalStart).Milliseconds()
			return Result{Status: StatusError, Metrics: m, Error: fmt.Errorf("cover: upload %s: %w", size, err).Error()}
		}
		urls[size] = url
		m.CompressedBytes += len(enc.bytes)
	}
	m.UploadMS = time.Since(uploadStart).Milliseconds()
	m.TotalMS = time.Since(totalStart).Milliseconds()

	logging.Log(ctx).Debug("cover: processed", "isbn", normalizedISBN,
		"original_bytes", m.OriginalBytes, "compressed_bytes", m.CompressedBytes, "total_ms", m.TotalMS)
	return Result{Status: StatusOK, URLs: urls, Metrics: m}
}

type encodedImage struct {
	bytes       []byte
	ext         string
	contentType string
}

// download fetches providerURL, enforcing the allow-list and size bound
// (spec.md §4.E steps 1-2). Some cover hosts gzip-compress their responses
// behind a misconfigured proxy without stripping Content-Encoding from a
// cached copy; klauspost/compress's gzip reader handles that case faster
// than stdlib's so the bounded read below never stalls on it.
func (p *Processor) download(ctx context.Context, providerURL string) ([]byte, int64, Status, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, providerURL, nil)
	if err != nil {
		return nil, time.Since(start).Milliseconds(), StatusError, err
	}
	if !p.allowed(req.URL.Hostname()) {
		return nil, time.Since(start).Milliseconds(), StatusError, fmt.Errorf("%w: %s", errBadHost, req.URL.Hostname())
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, time.Since(start).Milliseconds(), StatusError, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, time.Since(start).Milliseconds(), StatusRetryableAuth,
			fmt.Errorf("cover: upstream auth failure (status %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, time.Since(start).Milliseconds(), StatusError,
			fmt.Errorf("cover: upstream status %d", resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, time.Since(start).Milliseconds(), StatusError, err
		}
		defer gz.Close()
		body = gz
	}

	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes+1))
	if err != nil {
		return nil, time.Since(start).Milliseconds(), StatusError, err
	}
	if len(raw) < minBodyBytes {
		return nil, time.Since(start).Milliseconds(), StatusError, errTooSmall
	}
	if len(raw) > maxBodyBytes {
		return nil, time.Since(start).Milliseconds(), StatusError, errTooLarge
	}

	return raw, time.Since(start).Milliseconds(), StatusOK, nil
}

// process decodes raw and produces the three resized+encoded variants
// (spec.md §4.E steps 3-5).
func (p *Processor) process(raw []byte) (map[Size]encodedImage, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadFormat, err)
	}
	if format != "jpeg" && format != "png" {
		return nil, errBadFormat
	}

	out := make(map[Size]encodedImage, len(sizeOrder))
	for _, size := range sizeOrder {
		b := bounds[size]
		resized := p.codec.Resize(img, b[0], b[1])

		if len(raw) < smallImageThreshold {
			ext := ".jpg"
			contentType := "image/jpeg"
			if format == "png" {
				ext = ".png"
				contentType = "image/png"
			}
			out[size] = encodedImage{bytes: raw, ext: ext, contentType: contentType}
			continue
		}

		encoded, contentType, err := p.codec.Encode(resized)
		if err != nil {
			return nil, fmt.Errorf("cover: encode %s: %w", size, err)
		}
		out[size] = encodedImage{bytes: encoded, ext: ".webp", contentType: contentType}
	}
	return out, nil
}
