package ocr

import "net/http"

var supportedMIME = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpeg",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
}

// SniffMIME detects the content type from the image bytes themselves,
// ignoring whatever extension or header the upload claimed.
func SniffMIME(data []byte) string {
	return http.DetectContentType(data)
}

// IsSupportedImage reports whether the payload is a raster image the
// engines can handle.
func IsSupportedImage(data []byte) bool {
	_, ok := supportedMIME[SniffMIME(data)]
	return ok
}

// ImageFormat returns the short format name ("png", "jpeg", ...) the
// Gemini SDK expects, or "" when unsupported.
func ImageFormat(mime string) string {
	return supportedMIME[mime]
}
