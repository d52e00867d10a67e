package cover

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlob struct {
	puts map[string][]byte
}

func newFakeBlob() *fakeBlob { return &fakeBlob{puts: map[string][]byte{}} }

func (b *fakeBlob) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	b.puts[key] = body
	return "https://blobs.example/" + key, nil
}

func solidJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestDownloadRejectsHostNotOnAllowList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1000))
	}))
	defer srv.Close()

	p := New(srv.Client(), newFakeBlob(), WithAllowedHosts("covers.example.com"))
	result := p.Process(context.Background(), "9780385544153", srv.URL+"/cover.jpg")

	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.Error, "allow-list")
}

func TestDownloadRejectsUndersizedAndOversizedBodies(t *testing.T) {
	tooSmall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer tooSmall.Close()

	p := New(tooSmall.Client(), newFakeBlob())
	result := p.Process(context.Background(), "isbn", tooSmall.URL)
	assert.Equal(t, StatusError, result.Status)

	tooLarge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, maxBodyBytes+1))
	}))
	defer tooLarge.Close()

	p = New(tooLarge.Client(), newFakeBlob())
	result = p.Process(context.Background(), "isbn", tooLarge.URL)
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.Error, "exceeds maximum size")
}

func TestProcessReturns401AsRetryableAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := New(srv.Client(), newFakeBlob())
	result := p.Process(context.Background(), "isbn", srv.URL+"?token=expired")
	assert.Equal(t, StatusRetryableAuth, result.Status)
}

func TestIsPaidSourceURLDetectsQueryString(t *testing.T) {
	assert.True(t, IsPaidSourceURL("https://paid.example/cover.jpg?sig=abc&exp=123"))
	assert.False(t, IsPaidSourceURL("https://covers.openlibrary.org/b/id/1-L.jpg"))
}

func TestProcessEndToEndUploadsThreeSizes(t *testing.T) {
	body := solidJPEG(t, 1000, 1500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}))
	defer srv.Close()

	blob := newFakeBlob()
	p := New(srv.Client(), blob)
	result := p.Process(context.Background(), "9780385544153", srv.URL)

	require.Equal(t, StatusOK, result.Status)
	require.Len(t, result.URLs, 3)
	assert.Contains(t, result.URLs[SizeLarge], "isbn/9780385544153/large")
	assert.Contains(t, result.URLs[SizeMedium], "isbn/9780385544153/medium")
	assert.Contains(t, result.URLs[SizeSmall], "isbn/9780385544153/small")
	assert.Greater(t, result.Metrics.OriginalBytes, 0)
	assert.Greater(t, result.Metrics.TotalMS, int64(-1))
}

func TestResizeNeverUpscales(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	resized := NewDefaultCodec().Resize(img, 512, 768)
	assert.Equal(t, 50, resized.Bounds().Dx())
	assert.Equal(t, 50, resized.Bounds().Dy())
}

func TestResizePreservesAspectRatio(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1000, 500))
	resized := NewDefaultCodec().Resize(img, 512, 768)
	assert.Equal(t, 512, resized.Bounds().Dx())
	assert.Equal(t, 256, resized.Bounds().Dy())
}

func TestSmallSourceImagesSkipReencoding(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	raw := buf.Bytes()
	require.Less(t, len(raw), smallImageThreshold)

	p := New(nil, newFakeBlob())
	encoded, err := p.process(raw)
	require.NoError(t, err)
	for _, size := range sizeOrder {
		assert.Equal(t, raw, encoded[size].bytes)
		assert.Equal(t, ".png", encoded[size].ext)
	}
}
