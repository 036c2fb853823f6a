package stamp

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// PDFRenderer draws overlays with pdfcpu stamps (watermarks rendered on top
// of page content).
type PDFRenderer struct {
	conf *model.Configuration

	mu        sync.Mutex
	installed map[string]bool
}

var disableConfigDir sync.Once

// NewPDFRenderer installs fonts into fontDir, which must be writable.
func NewPDFRenderer(fontDir string) (*PDFRenderer, error) {
	disableConfigDir.Do(api.DisableConfigDir)
	if err := os.MkdirAll(fontDir, 0o750); err != nil {
		return nil, fmt.Errorf("create font dir: %w", err)
	}
	font.UserFontDir = fontDir

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFRenderer{conf: conf, installed: make(map[string]bool)}, nil
}

func (r *PDFRenderer) PageCount(_ context.Context, src []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(src), r.conf)
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	return n, nil
}

func (r *PDFRenderer) Render(_ context.Context, src []byte, overlay Overlay) ([]byte, error) {
	if err := r.ensureFont(overlay.Font); err != nil {
		return nil, err
	}

	var stamps []*model.Watermark
	for _, t := range overlay.Texts {
		wm, err := api.TextWatermark(t.Text, textDescription(overlay.Font.Name, t), true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("build text stamp: %w", err)
		}
		stamps = append(stamps, wm)
	}
	if img := overlay.Image; img != nil {
		wm, err := api.ImageWatermarkForReader(bytes.NewReader(img.Data), imageDescription(*img), true, false, types.POINTS)
		if err != nil {
			return nil, fmt.Errorf("build image stamp: %w", err)
		}
		stamps = append(stamps, wm)
	}

	var out bytes.Buffer
	if err := api.AddWatermarksSliceMap(bytes.NewReader(src), &out, map[int][]*model.Watermark{1: stamps}, r.conf); err != nil {
		return nil, fmt.Errorf("apply stamps: %w", err)
	}
	return out.Bytes(), nil
}

// PrepareFont installs f and checks that the font registers under f.Name,
// the PostScript name stamps refer to.
func (r *PDFRenderer) PrepareFont(f Font) error {
	return r.ensureFont(f)
}

// ensureFont installs a font into pdfcpu's user font dir once per name.
func (r *PDFRenderer) ensureFont(f Font) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installed[f.Name] {
		return nil
	}

	if err := font.InstallFontFromBytes(font.UserFontDir, f.Name, f.Data); err != nil {
		return fmt.Errorf("%w: install font %s: %v", ErrAssetMissing, f.Name, err)
	}
	if err := font.LoadUserFonts(); err != nil {
		return fmt.Errorf("%w: load fonts: %v", ErrAssetMissing, err)
	}
	if !font.IsUserFont(f.Name) {
		return fmt.Errorf("%w: font file does not provide %s (installed: %s)",
			ErrAssetMissing, f.Name, strings.Join(font.UserFontNames(), ", "))
	}
	r.installed[f.Name] = true
	return nil
}

func textDescription(fontName string, t TextBlock) string {
	parts := []string{
		"fontname:" + fontName,
		fmt.Sprintf("points:%d", t.Size),
		"position:bl",
		fmt.Sprintf("offset:%g %g", t.X, t.BottomY()),
		"scalefactor:1 abs",
		"rotation:0",
		"fillcolor:#000000",
		"opacity:1",
		"align:l",
	}
	return strings.Join(parts, ", ")
}

func imageDescription(img Image) string {
	parts := []string{
		"position:bl",
		fmt.Sprintf("offset:%g %g", img.X, img.Y),
		fmt.Sprintf("scalefactor:%g abs", img.Scale),
		"rotation:0",
		"opacity:1",
	}
	return strings.Join(parts, ", ")
}
