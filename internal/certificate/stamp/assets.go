package stamp

import (
	"errors"
	"fmt"
	"io/fs"
)

// Font is a TrueType font the renderer embeds by name.
type Font struct {
	Name string
	Data []byte
}

// AssetPaths locates stamp assets inside the asset filesystem.
type AssetPaths struct {
	Font      string
	FontName  string
	Checkmark string
}

// Assets reads stamp assets on demand so a redeployed asset directory is
// picked up without a restart.
type Assets struct {
	fsys  fs.FS
	paths AssetPaths
}

func NewAssets(fsys fs.FS, paths AssetPaths) *Assets {
	return &Assets{fsys: fsys, paths: paths}
}

// Font returns the required text font or an error wrapping ErrAssetMissing.
func (a *Assets) Font() (Font, error) {
	if a == nil || a.fsys == nil || a.paths.Font == "" {
		return Font{}, fmt.Errorf("%w: font not configured", ErrAssetMissing)
	}
	data, err := fs.ReadFile(a.fsys, a.paths.Font)
	if err != nil {
		return Font{}, fmt.Errorf("%w: font %s: %v", ErrAssetMissing, a.paths.Font, err)
	}
	if len(data) == 0 {
		return Font{}, fmt.Errorf("%w: font %s is empty", ErrAssetMissing, a.paths.Font)
	}
	return Font{Name: a.paths.FontName, Data: data}, nil
}

// Checkmark returns the optional glyph image. Callers treat any error as a
// soft failure.
func (a *Assets) Checkmark() ([]byte, error) {
	if a == nil || a.fsys == nil || a.paths.Checkmark == "" {
		return nil, errors.New("checkmark not configured")
	}
	data, err := fs.ReadFile(a.fsys, a.paths.Checkmark)
	if err != nil {
		return nil, fmt.Errorf("read checkmark %s: %w", a.paths.Checkmark, err)
	}
	return data, nil
}
