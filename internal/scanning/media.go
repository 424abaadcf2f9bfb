package scanning

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	_ "image/jpeg"
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

var (
	errEmptyMedia       = errors.New("image is empty")
	errUnsupportedMedia = errors.New("unsupported image format. Supported formats: JPEG, PNG, WebP, GIF, HEIC, HEIF, PDF")
)

// Media is an encoded image together with its MIME type
type Media struct {
	MIMEType string
	Data     []byte
}

// Base64 returns the standard base64 encoding of the image bytes
func (m Media) Base64() string {
	return base64.StdEncoding.EncodeToString(m.Data)
}

// DataURI returns the image as a data: URI
func (m Media) DataURI() string {
	return "data:" + m.MIMEType + ";base64," + m.Base64()
}

// EncodeMedia turns raw image bytes into Media that every model accepts.
// PNG, JPEG and WebP pass through unchanged; HEIC/HEIF, GIF and PDF (first
// page) are converted to PNG.
func EncodeMedia(data []byte, contentType string) (Media, error) {
	const op = "encoding media"
	if len(data) == 0 {
		return Media{}, EncodingError(op, errEmptyMedia)
	}

	mimeType := normalizeMIME(contentType)
	sniffed := http.DetectContentType(data)

	switch {
	case mimeType == "application/pdf" || sniffed == "application/pdf":
		pngData, err := pdfToImage(data)
		if err != nil {
			return Media{}, EncodingError(op, fmt.Errorf("converting PDF to image: %w", err))
		}
		return Media{MIMEType: "image/png", Data: pngData}, nil

	case isHEICFormat(data) || isHEICMimeType(mimeType):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return Media{}, EncodingError(op, fmt.Errorf("decoding HEIC/HEIF image: %w", err))
		}
		pngData, err := encodePNG(img)
		if err != nil {
			return Media{}, EncodingError(op, err)
		}
		return Media{MIMEType: "image/png", Data: pngData}, nil

	case sniffed == "image/png" || sniffed == "image/jpeg":
		// Catch truncated or corrupt files before they reach the model
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return Media{}, EncodingError(op, fmt.Errorf("decoding image: %w", err))
		}
		return Media{MIMEType: sniffed, Data: data}, nil

	case sniffed == "image/webp":
		return Media{MIMEType: sniffed, Data: data}, nil

	case sniffed == "image/gif":
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return Media{}, EncodingError(op, fmt.Errorf("decoding image: %w", err))
		}
		pngData, err := encodePNG(img)
		if err != nil {
			return Media{}, EncodingError(op, err)
		}
		return Media{MIMEType: "image/png", Data: pngData}, nil
	}

	return Media{}, EncodingError(op, fmt.Errorf("%w (detected %s)", errUnsupportedMedia, sniffed))
}

// DecodeMediaRef decodes a data: URI back into Media.
// Remote URLs cannot be decoded; use IsRemoteRef to check first.
func DecodeMediaRef(ref string) (Media, error) {
	const op = "decoding media reference"
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Media{}, EncodingError(op, errEmptyMedia)
	}
	if !strings.HasPrefix(ref, "data:") {
		return Media{}, EncodingError(op, fmt.Errorf("not a data URI"))
	}

	// data:<mime>;base64,<payload>
	idx := strings.IndexByte(ref, ',')
	if idx < 0 {
		return Media{}, EncodingError(op, fmt.Errorf("data URI has no payload"))
	}
	meta := ref[len("data:"):idx]
	mimeType, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return Media{}, EncodingError(op, fmt.Errorf("data URI is not base64 encoded"))
	}

	data, err := base64.StdEncoding.DecodeString(ref[idx+1:])
	if err != nil {
		// Fall back to URL-safe alphabet
		var urlErr error
		data, urlErr = base64.URLEncoding.DecodeString(ref[idx+1:])
		if urlErr != nil {
			return Media{}, EncodingError(op, fmt.Errorf("decoding base64: %w", err))
		}
	}
	if len(data) == 0 {
		return Media{}, EncodingError(op, errEmptyMedia)
	}

	mimeType = normalizeMIME(mimeType)
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return Media{MIMEType: mimeType, Data: data}, nil
}

// IsRemoteRef reports whether ref is an http(s) URL
func IsRemoteRef(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func normalizeMIME(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// pdfToImage renders the first page of a PDF to PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return encodePNG(img)
}

// isHEICFormat checks for an ftyp box with a HEIC/HEIF brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
