package models

// ImageFormat is the detected encoded format of a local asset
type ImageFormat string

const (
	FormatJPEG    ImageFormat = "JPEG"
	FormatJPG     ImageFormat = "JPG"
	FormatPNG     ImageFormat = "PNG"
	FormatGIF     ImageFormat = "GIF"
	FormatWebP    ImageFormat = "WEBP"
	FormatBMP     ImageFormat = "BMP"
	FormatTIFF    ImageFormat = "TIFF"
	FormatUnknown ImageFormat = "UNKNOWN"
)

// IsCanonical reports whether the format is accepted by the remote
// service without conversion.
func (f ImageFormat) IsCanonical() bool {
	switch f {
	case FormatJPEG, FormatJPG, FormatPNG:
		return true
	default:
		return false
	}
}

// LocalAsset is a binary file materialized on local storage from an
// image reference. Created on fetch, replaced on re-encode, and removed
// after one resolution pass.
type LocalAsset struct {
	Reference string      // Original image reference (URL)
	Path      string      // Current location on disk
	Format    ImageFormat // Detected encoded format
	Size      int64       // Size in bytes after normalization
	Hash      string      // SHA256 of the downloaded bytes
}
