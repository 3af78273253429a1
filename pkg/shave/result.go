package shave

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image/color"
	"image/png"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/glaslos/ssdeep"
	"github.com/golang/freetype/truetype"
	"github.com/root4loot/goutils/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Result contains the result of a screenshot capture.
type Result struct {
	TargetURL string
	Selector  string
	Image     Image
	Error     error
}

// Image is the encoded screenshot as returned by the browser (PNG).
type Image []byte

// Hash returns the hex SHA-256 of the image, a key for exact duplicates.
func (result Result) Hash() string {
	sum := sha256.Sum256(result.Image)
	return hex.EncodeToString(sum[:])
}

// Filename derives a file name from the target URL, e.g.
// https_example.com_docs.png. Default ports are dropped.
func (result Result) Filename() (string, error) {
	u, err := url.Parse(result.TargetURL)
	if err != nil {
		return "", err
	}

	host := u.Host
	if (u.Scheme == "http" && u.Port() == "80") || (u.Scheme == "https" && u.Port() == "443") {
		host = u.Hostname()
	}

	name := u.Scheme + "_" + host + u.Path
	name = strings.TrimSuffix(name, "/")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, ":", "-")
	return strings.ToLower(name) + ".png", nil
}

// SaveImageToFolder saves the image below folder and returns its path.
func (result Result) SaveImageToFolder(folder string) (string, error) {
	if len(result.Image) == 0 {
		return "", fmt.Errorf("no image data for %s", result.TargetURL)
	}

	if err := os.MkdirAll(folder, os.ModePerm); err != nil {
		return "", err
	}

	name, err := result.Filename()
	if err != nil {
		return "", err
	}

	path := filepath.Join(folder, name)
	if err := result.WriteFile(path); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFile writes the image to path, replacing any existing file.
func (result Result) WriteFile(path string) error {
	if err := os.WriteFile(path, result.Image, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot data to `%s`: %w", path, err)
	}
	return nil
}

// IsSimilarToAny reports whether the image is at least threshold percent
// similar to any of results, by ssdeep fuzzy hash.
func (result Result) IsSimilarToAny(results []Result, threshold int) (bool, error) {
	if threshold < 1 || threshold > 100 {
		return false, fmt.Errorf("invalid similarity threshold %d: must be between 1 and 100", threshold)
	}

	hash1, err := ssdeep.FuzzyBytes(result.Image)
	if err != nil {
		return false, fmt.Errorf("fuzzy hash of %s: %w", result.TargetURL, err)
	}

	for _, r := range results {
		hash2, err := ssdeep.FuzzyBytes(r.Image)
		if err != nil {
			continue
		}
		score, err := ssdeep.Distance(hash1, hash2)
		if err != nil {
			continue
		}

		if score >= threshold {
			log.Debugf("%s is similar to %s with a score of %d", result.TargetURL, r.TargetURL, score)
			return true, nil
		}
	}
	return false, nil
}

// AddTextToImage adds the origin of rawURL in a strip below the image.
func (imgB Image) AddTextToImage(rawURL string) (Image, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	host := parsedURL.Host
	if (parsedURL.Scheme == "http" && parsedURL.Port() == "80") || (parsedURL.Scheme == "https" && parsedURL.Port() == "443") {
		host = parsedURL.Hostname()
	}
	printURL := parsedURL.Scheme + "://" + host

	img, err := png.Decode(bytes.NewReader(imgB))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	face, err := loadFont()
	if err != nil {
		return nil, err
	}

	const padding = 20
	const borderSize = 1

	w := img.Bounds().Dx()
	h := img.Bounds().Dy() + padding*2 + borderSize
	dc := gg.NewContext(w, h)

	dc.DrawImage(img, 0, 0)

	yLine := float64(img.Bounds().Dy())
	dc.SetColor(color.Black)
	dc.DrawLine(0, yLine, float64(w), yLine)
	dc.SetLineWidth(float64(borderSize))
	dc.Stroke()
	dc.SetColor(color.White)
	dc.DrawRectangle(0, yLine+borderSize, float64(w), float64(padding*2))
	dc.Fill()
	dc.SetColor(color.Black)
	dc.SetFontFace(face)
	dc.DrawStringAnchored(printURL, float64(w)/2, yLine+borderSize+float64(padding), 0.5, 0.35)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), nil
}

var (
	fontOnce sync.Once
	fontTTF  *truetype.Font
	fontErr  error
)

func loadFont() (font.Face, error) {
	fontOnce.Do(func() {
		fontTTF, fontErr = truetype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fmt.Errorf("failed to parse font: %w", fontErr)
	}

	// A face caches glyphs and is not safe for concurrent use.
	return truetype.NewFace(fontTTF, &truetype.Options{Size: 14}), nil
}
