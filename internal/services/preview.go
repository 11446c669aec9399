package services

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// PreviewContentType is the encoding of every preview and uploaded blob
const PreviewContentType = "image/png"

// Upload limits for picked files
const (
	MaxUploadBytes = 20 << 20
	MaxPixels      = 40_000_000
)

// Preview source kinds
const (
	SourceCamera = "camera"
	SourceFile   = "file"
)

// Preview is an encoded still held in memory until it is submitted
type Preview struct {
	Data        []byte
	ContentType string
	Source      string
	FileName    string
	Width       int
	Height      int
}

// DataURL returns the preview as an inline data URL
func (p *Preview) DataURL() string {
	return "data:" + p.ContentType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// rasterize draws img onto an off-screen RGBA surface and encodes it as PNG
func rasterize(img image.Image, source, fileName string) (*Preview, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidImage)
	}
	if err := checkDimensions(bounds.Dx(), bounds.Dy()); err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), img, bounds.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}

	return &Preview{
		Data:        buf.Bytes(),
		ContentType: PreviewContentType,
		Source:      source,
		FileName:    fileName,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}

// decodeUpload decodes a picked file and applies its EXIF orientation
func decodeUpload(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidImage)
	}
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidImage, MaxUploadBytes)
	}

	// Header only; a tiny file can declare a huge bitmap
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return orient(img, exifOrientation(data)), nil
}

func checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	if int64(width)*int64(height) > MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, width, height, MaxPixels)
	}
	return nil
}

// exifOrientation returns the EXIF orientation tag, 1 when absent
func exifOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// orient applies one of the eight EXIF orientations so the image displays upright
func orient(img image.Image, orientation int) image.Image {
	if orientation < 2 || orientation > 8 {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	dstW, dstH := w, h
	if orientation >= 5 {
		dstW, dstH = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch orientation {
			case 2: // mirror horizontal
				dx, dy = w-1-x, y
			case 3: // rotate 180
				dx, dy = w-1-x, h-1-y
			case 4: // mirror vertical
				dx, dy = x, h-1-y
			case 5: // transpose
				dx, dy = y, x
			case 6: // rotate 90 clockwise
				dx, dy = h-1-y, x
			case 7: // transverse
				dx, dy = h-1-y, w-1-x
			case 8: // rotate 90 counter-clockwise
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
