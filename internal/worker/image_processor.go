package worker

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/PaulBabatuyi/filebox/internal/models"
)

// DecodeError reports input bytes that are not a decodable image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode image: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports an unsupported or failing output format.
type EncodeError struct {
	Format string
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode image as %q: %v", e.Format, e.Err)
}
func (e *EncodeError) Unwrap() error { return e.Err }

var resampleFilters = map[models.Resample]imaging.ResampleFilter{
	models.ResampleLanczos:  imaging.Lanczos,
	models.ResampleBilinear: imaging.Linear,
	models.ResampleBicubic:  imaging.CatmullRom,
	models.ResampleNearest:  imaging.NearestNeighbor,
}

// ResampleFilter maps a resample name to its imaging filter, defaulting to Lanczos.
func ResampleFilter(r models.Resample) imaging.ResampleFilter {
	if f, ok := resampleFilters[r]; ok {
		return f
	}
	return imaging.Lanczos
}

var errUnsupportedFormat = errors.New("unsupported output format")

// OutputFormat maps a configured format name to an imaging encoder format.
// WEBP is encoded separately and is not an imaging format.
func OutputFormat(name string) (imaging.Format, error) {
	switch strings.ToUpper(name) {
	case "JPEG", "JPG":
		return imaging.JPEG, nil
	case "PNG":
		return imaging.PNG, nil
	case "GIF":
		return imaging.GIF, nil
	case "TIFF", "TIF":
		return imaging.TIFF, nil
	case "BMP":
		return imaging.BMP, nil
	default:
		return 0, errUnsupportedFormat
	}
}

// encoderFor returns the encoder writing img as the named format.
func encoderFor(name string) (func(w io.Writer, img image.Image) error, error) {
	if strings.ToUpper(name) == "WEBP" {
		// Lossless VP8L, so repeated runs produce identical bytes.
		return func(w io.Writer, img image.Image) error {
			return nativewebp.Encode(w, img, nil)
		}, nil
	}
	format, err := OutputFormat(name)
	if err != nil {
		return nil, err
	}
	return func(w io.Writer, img image.Image) error {
		return imaging.Encode(w, img, format, imaging.JPEGQuality(90))
	}, nil
}

// ContentType returns the MIME type written alongside an encoded variant.
func ContentType(format string) string {
	switch strings.ToUpper(format) {
	case "JPEG", "JPG":
		return "image/jpeg"
	case "PNG":
		return "image/png"
	case "GIF":
		return "image/gif"
	case "TIFF", "TIF":
		return "image/tiff"
	case "BMP":
		return "image/bmp"
	case "WEBP":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// DecodeImage decodes raw bytes once so several variants can share the source.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return img, nil
}

// ScaledSize returns the output dimensions for a target width.
// Width 0 keeps the source size; otherwise height follows the aspect ratio.
func ScaledSize(srcW, srcH, targetWidth int) (int, int) {
	if targetWidth == 0 || srcW == 0 {
		return srcW, srcH
	}
	h := int(math.Round(float64(srcH) * float64(targetWidth) / float64(srcW)))
	if h < 1 {
		h = 1
	}
	return targetWidth, h
}

// Transcode decodes imageBytes and re-encodes them at targetWidth.
func Transcode(imageBytes []byte, targetWidth int, resample models.Resample, outputFormat string) ([]byte, error) {
	img, err := DecodeImage(imageBytes)
	if err != nil {
		return nil, err
	}
	return TranscodeImage(img, targetWidth, resample, outputFormat)
}

// TranscodeImage resizes and encodes an already decoded image. The source
// image is never modified.
func TranscodeImage(img image.Image, targetWidth int, resample models.Resample, outputFormat string) ([]byte, error) {
	encode, err := encoderFor(outputFormat)
	if err != nil {
		return nil, &EncodeError{Format: outputFormat, Err: err}
	}

	bounds := img.Bounds()
	width, height := ScaledSize(bounds.Dx(), bounds.Dy(), targetWidth)

	out := img
	if width != bounds.Dx() || height != bounds.Dy() {
		out = imaging.Resize(img, width, height, ResampleFilter(resample))
	}

	var buf bytes.Buffer
	if err := encode(&buf, out); err != nil {
		return nil, &EncodeError{Format: outputFormat, Err: err}
	}
	return buf.Bytes(), nil
}
