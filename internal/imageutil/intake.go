// Package imageutil validates and prepares uploaded garment photos.
//
// Uploads are sniffed rather than trusted: the declared MIME type of a data
// URL is replaced by what the bytes actually are. JPEG, PNG, GIF and WebP
// are decoded far enough to read their dimensions; HEIC/HEIF is accepted as
// is since the remote model reads it natively. Oversized JPEG and PNG
// uploads are downscaled so the longest side fits MaxDimension.
package imageutil

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/fpang/garment-studio/internal/garment"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxUploadBytes is the largest accepted upload.
	MaxUploadBytes = 20 << 20

	// MaxDimension bounds the longest side of an image sent for editing.
	MaxDimension = 2048

	jpegQuality = 90
)

// Supported image MIME types.
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEGIF  = "image/gif"
	MIMEWebP = "image/webp"
	MIMEHEIC = "image/heic"
	MIMEHEIF = "image/heif"
)

var extensions = map[string]string{
	MIMEJPEG: ".jpg",
	MIMEPNG:  ".png",
	MIMEGIF:  ".gif",
	MIMEWebP: ".webp",
	MIMEHEIC: ".heic",
	MIMEHEIF: ".heif",
}

// Extension returns the file extension for an image MIME type, or ".bin"
// for anything unrecognised.
func Extension(mimeType string) string {
	if ext, ok := extensions[mimeType]; ok {
		return ext
	}
	return ".bin"
}

// Provenance is the capture metadata found in an upload's EXIF block.
type Provenance struct {
	CameraMake  string    `json:"cameraMake,omitempty"`
	CameraModel string    `json:"cameraModel,omitempty"`
	DateTaken   time.Time `json:"dateTaken,omitempty"`
	HasDate     bool      `json:"hasDate"`
}

// Intake is a validated upload.
type Intake struct {
	Image      *garment.Image
	Width      int
	Height     int
	Downscaled bool
	Provenance Provenance
}

// DetectMIME identifies the image format from its leading bytes. It returns
// an empty string for data that is not a supported image.
func DetectMIME(data []byte) string {
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		switch string(data[8:12]) {
		case "heic", "heix", "heim", "heis":
			return MIMEHEIC
		case "mif1", "msf1", "heif":
			return MIMEHEIF
		}
	}
	switch ct := http.DetectContentType(data); ct {
	case MIMEJPEG, MIMEPNG, MIMEGIF, MIMEWebP:
		return ct
	}
	return ""
}

// Prepare validates raw upload bytes and returns the image to edit.
func Prepare(data []byte) (*Intake, error) {
	if len(data) == 0 {
		return nil, garment.Errorf(garment.KindValidation, "upload", "image is empty")
	}
	if len(data) > MaxUploadBytes {
		return nil, garment.Errorf(garment.KindValidation, "upload",
			"image is %d bytes, limit is %d", len(data), MaxUploadBytes)
	}

	mimeType := DetectMIME(data)
	if mimeType == "" {
		return nil, garment.Errorf(garment.KindValidation, "upload", "unsupported image format")
	}

	in := &Intake{
		Image:      &garment.Image{MIMEType: mimeType, Data: data},
		Provenance: extractProvenance(data),
	}

	if mimeType == MIMEHEIC || mimeType == MIMEHEIF {
		log.Debug().Str("mimeType", mimeType).Int("bytes", len(data)).Msg("HEIF upload accepted without decoding")
		return in, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, garment.Wrap(garment.KindValidation, "upload", "image could not be decoded", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, garment.Errorf(garment.KindValidation, "upload", "image has no pixels")
	}
	in.Width, in.Height = cfg.Width, cfg.Height

	if (mimeType == MIMEJPEG || mimeType == MIMEPNG) && (cfg.Width > MaxDimension || cfg.Height > MaxDimension) {
		scaled, w, h, err := downscale(data, mimeType, MaxDimension)
		if err != nil {
			return nil, garment.Wrap(garment.KindValidation, "upload", "image could not be resized", err)
		}
		in.Image = &garment.Image{MIMEType: mimeType, Data: scaled}
		in.Width, in.Height = w, h
		in.Downscaled = true
	}

	log.Debug().
		Str("mimeType", mimeType).
		Int("width", in.Width).
		Int("height", in.Height).
		Bool("downscaled", in.Downscaled).
		Int("bytes", len(in.Image.Data)).
		Msg("Upload prepared")
	return in, nil
}

// PrepareDataURL decodes a data URL and prepares its bytes. The declared
// MIME type is ignored in favour of the sniffed one.
func PrepareDataURL(s string) (*Intake, error) {
	img, err := garment.ParseDataURL(s)
	if err != nil {
		return nil, garment.Wrap(garment.KindValidation, "upload", "invalid image", err)
	}
	return Prepare(img.Data)
}

// downscale resizes a JPEG or PNG so its longest side is maxDimension.
func downscale(data []byte, mimeType string, maxDimension int) ([]byte, int, int, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode: %w", err)
	}
	bounds := src.Bounds()
	w, h := scaledDimensions(bounds.Dx(), bounds.Dy(), maxDimension)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	switch mimeType {
	case MIMEPNG:
		err = png.Encode(&buf, dst)
	default:
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encode %s: %w", mimeType, err)
	}

	log.Debug().
		Int("origWidth", bounds.Dx()).
		Int("origHeight", bounds.Dy()).
		Int("newWidth", w).
		Int("newHeight", h).
		Int("outputSize", buf.Len()).
		Msg("Upload downscaled")
	return buf.Bytes(), w, h, nil
}

// scaledDimensions keeps the aspect ratio while fitting maxDimension.
func scaledDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}
	if width > height {
		return maxDimension, max(1, int(float64(height)*float64(maxDimension)/float64(width)))
	}
	return max(1, int(float64(width)*float64(maxDimension)/float64(height))), maxDimension
}

// extractProvenance reads camera and date fields. Missing or unreadable
// EXIF yields an empty Provenance.
func extractProvenance(data []byte) Provenance {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata in upload")
		return Provenance{}
	}

	p := Provenance{
		CameraMake:  strings.TrimSpace(exifData.Make),
		CameraModel: strings.TrimSpace(exifData.Model),
	}
	// Priority: DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		p.DateTaken, p.HasDate = exifData.DateTimeOriginal(), true
	case !exifData.CreateDate().IsZero():
		p.DateTaken, p.HasDate = exifData.CreateDate(), true
	case !exifData.ModifyDate().IsZero():
		p.DateTaken, p.HasDate = exifData.ModifyDate(), true
	}
	return p
}
