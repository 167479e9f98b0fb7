// Package imaging prepares user attachments and screenshots for transport:
// data-URL decoding, downscaling and JPEG re-encoding.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

const (
	// MediaTypeJPEG is the media type of every re-encoded image.
	MediaTypeJPEG = "image/jpeg"
	// MaxDecodedBytes bounds a decoded attachment.
	MaxDecodedBytes = 20 << 20
)

// ErrEmptyImage is returned for blank input.
var ErrEmptyImage = errors.New("image data is empty")

// Options controls re-encoding.
type Options struct {
	MaxDimension int
	Quality      int
}

// DecodeDataURL accepts "data:<type>;base64,<payload>" or bare base64 and
// returns the raw bytes with the declared media type, if any.
func DecodeDataURL(value string) ([]byte, string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, "", ErrEmptyImage
	}

	mediaType := ""
	payload := value
	if strings.HasPrefix(value, "data:") {
		header, rest, ok := strings.Cut(value, ",")
		if !ok {
			return nil, "", errors.New("malformed data URL: missing payload")
		}
		meta := strings.TrimPrefix(header, "data:")
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", errors.New("malformed data URL: only base64 payloads are supported")
		}
		mediaType = strings.TrimSuffix(meta, ";base64")
		payload = rest
	}

	if base64.StdEncoding.DecodedLen(len(payload)) > MaxDecodedBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", MaxDecodedBytes)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, "", fmt.Errorf("decode base64 image: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	return data, mediaType, nil
}

// Shrink scales img down so its longest side is at most maxDimension.
// Images already small enough are returned unchanged.
func Shrink(img image.Image, maxDimension int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxDimension <= 0 || (width <= maxDimension && height <= maxDimension) {
		return img
	}

	var newWidth, newHeight int
	if width >= height {
		newWidth = maxDimension
		newHeight = max(1, height*maxDimension/width)
	} else {
		newHeight = maxDimension
		newWidth = max(1, width*maxDimension/height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// Reencode decodes any supported format, shrinks it and encodes it as JPEG.
func Reencode(data []byte, opts Options) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	img = Shrink(img, opts.MaxDimension)

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// PrepareDataURL decodes and re-encodes one attachment.
func PrepareDataURL(value string, opts Options) ([]byte, error) {
	data, _, err := DecodeDataURL(value)
	if err != nil {
		return nil, err
	}
	return Reencode(data, opts)
}

// flatten composites transparent images onto white so JPEG output does not
// turn transparent pixels black.
func flatten(img image.Image) image.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)
	return dst
}

// TempFiles tracks files written for one turn so teardown can remove them.
type TempFiles struct {
	dir    string
	prefix string
	paths  []string
}

// NewTempFiles writes into dir, or os.TempDir when dir is empty.
func NewTempFiles(dir, prefix string) *TempFiles {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	return &TempFiles{dir: dir, prefix: prefix}
}

// Write stores data as <prefix>-<pid>-<index>.jpg and records the path.
func (t *TempFiles) Write(data []byte) (string, error) {
	name := fmt.Sprintf("%s-%d-%d.jpg", t.prefix, os.Getpid(), len(t.paths))
	path := filepath.Join(t.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write temp image %s: %w", path, err)
	}
	t.paths = append(t.paths, path)
	return path, nil
}

// Paths returns the recorded paths.
func (t *TempFiles) Paths() []string {
	out := make([]string, len(t.paths))
	copy(out, t.paths)
	return out
}

// Remove deletes every recorded file. Failures are logged, never returned.
func (t *TempFiles) Remove(logger *log.Logger) {
	if t == nil {
		return
	}
	for _, path := range t.paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) && logger != nil {
			logger.Warn("failed to remove temp image", "path", path, "error", err)
		}
	}
	t.paths = nil
}
