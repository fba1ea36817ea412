// Package assets fetches remote image references, stages them on local
// disk, and normalizes non-canonical encodings to JPEG before they are
// handed to the vision service.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	// Decoders for format detection and conversion. JPEG and PNG are
	// canonical; the rest are one-way converted to JPEG.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/describo/internal/common"
	"github.com/ternarybob/describo/internal/models"
)

// Normalizer downloads and normalizes image assets into a staging
// directory. The staging area is shared across references within a run,
// so callers resolve sequentially and remove each asset before the next.
type Normalizer struct {
	config common.AssetsConfig
	logger arbor.ILogger
	client *http.Client
}

// NewNormalizer creates a normalizer and ensures the staging directory exists
func NewNormalizer(config common.AssetsConfig, logger arbor.ILogger) (*Normalizer, error) {
	if err := os.MkdirAll(config.StagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	return &Normalizer{
		config: config,
		logger: logger,
		client: &http.Client{
			Timeout: config.DownloadTimeout.Std(),
		},
	}, nil
}

// StageName derives the staging filename for a configured reference from
// the document key and the reference's logical index.
func StageName(key, index string) string {
	return fmt.Sprintf("%s_%s", key, index)
}

// StageNameForReference derives a collision-resistant staging filename
// for a pattern-matched reference from a digest of the reference string.
func StageNameForReference(reference string) string {
	sum := sha256.Sum256([]byte(reference))
	return "ref_" + hex.EncodeToString(sum[:8])
}

// FetchAndNormalize downloads the reference, persists it under name with
// a .png suffix regardless of true content, detects the real encoding,
// and re-encodes to JPEG when the format is outside the canonical set.
// Every failure is per-asset: the caller logs, skips the reference, and
// continues the run.
func (n *Normalizer) FetchAndNormalize(ctx context.Context, reference, name string) (*models.LocalAsset, error) {
	data, err := n.download(ctx, reference)
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(data)

	// Initial suffix is always .png; the true format decides what
	// happens next.
	stagePath := filepath.Join(n.config.StagingDir, name+".png")
	if err := os.WriteFile(stagePath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to stage asset %s: %w", reference, err)
	}

	asset := &models.LocalAsset{
		Reference: reference,
		Path:      stagePath,
		Size:      int64(len(data)),
		Hash:      hex.EncodeToString(hash[:]),
	}

	format, err := detectFormat(stagePath)
	if err != nil {
		os.Remove(stagePath)
		return nil, fmt.Errorf("cannot determine image format of %s: %w", reference, err)
	}
	asset.Format = format

	if format.IsCanonical() {
		n.logger.Debug().
			Str("reference", reference).
			Str("format", string(format)).
			Msg("Asset already in canonical format")
		return asset, nil
	}

	if err := n.convertToJPEG(asset); err != nil {
		os.Remove(stagePath)
		return nil, err
	}

	return asset, nil
}

// Cleanup removes the staged file. Safe to call on a nil asset or after
// the file is already gone.
func (n *Normalizer) Cleanup(asset *models.LocalAsset) {
	if asset == nil || asset.Path == "" {
		return
	}
	if err := os.Remove(asset.Path); err != nil && !os.IsNotExist(err) {
		n.logger.Warn().Err(err).Str("path", asset.Path).Msg("Failed to remove staged asset")
	}
}

// download fetches the reference with a size cap and returns the raw bytes
func (n *Normalizer) download(ctx context.Context, reference string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reference, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid reference %s: %w", reference, err)
	}
	req.Header.Set("User-Agent", n.config.UserAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", reference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download of %s returned HTTP %d", reference, resp.StatusCode)
	}

	limitReader := io.LimitReader(resp.Body, n.config.MaxDownloadSize+1)
	data, err := io.ReadAll(limitReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", reference, err)
	}
	if int64(len(data)) > n.config.MaxDownloadSize {
		return nil, fmt.Errorf("asset %s exceeds maximum download size", reference)
	}

	return data, nil
}

// convertToJPEG decodes the staged file, forces a 3-channel color model,
// re-encodes as JPEG under a .jpg suffix, and deletes the original. The
// conversion is one-way; the source encoding is discarded.
func (n *Normalizer) convertToJPEG(asset *models.LocalAsset) error {
	f, err := os.Open(asset.Path)
	if err != nil {
		return fmt.Errorf("failed to open staged asset: %w", err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("cannot convert %s, unsupported or corrupted image: %w", asset.Reference, err)
	}

	rgb := image.NewRGBA(img.Bounds())
	draw.Draw(rgb, rgb.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(rgb, rgb.Bounds(), img, img.Bounds().Min, draw.Over)

	base := strings.TrimSuffix(asset.Path, filepath.Ext(asset.Path))
	targetPath := base + ".jpg"

	out, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("failed to create converted asset: %w", err)
	}
	if err := jpeg.Encode(out, rgb, nil); err != nil {
		out.Close()
		os.Remove(targetPath)
		return fmt.Errorf("failed to encode JPEG for %s: %w", asset.Reference, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finalize converted asset: %w", err)
	}

	if err := os.Remove(asset.Path); err != nil {
		n.logger.Warn().Err(err).Str("path", asset.Path).Msg("Failed to delete original after conversion")
	}

	info, err := os.Stat(targetPath)
	if err != nil {
		return fmt.Errorf("failed to stat converted asset: %w", err)
	}

	n.logger.Info().
		Str("reference", asset.Reference).
		Str("from", string(asset.Format)).
		Str("path", targetPath).
		Msg("Converted asset to JPEG")

	asset.Path = targetPath
	asset.Format = models.FormatJPEG
	asset.Size = info.Size()
	return nil
}

// detectFormat reads the true encoded format tag of the persisted file
func detectFormat(path string) (models.ImageFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.FormatUnknown, err
	}
	defer f.Close()

	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return models.FormatUnknown, err
	}

	switch format {
	case "jpeg":
		return models.FormatJPEG, nil
	case "png":
		return models.FormatPNG, nil
	case "gif":
		return models.FormatGIF, nil
	case "webp":
		return models.FormatWebP, nil
	case "bmp":
		return models.FormatBMP, nil
	case "tiff":
		return models.FormatTIFF, nil
	default:
		return models.FormatUnknown, nil
	}
}
