package tiles

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"

	"github.com/paulmach/orb/maptile"
	_ "golang.org/x/image/webp"
)

// ErrTileNotFound marks a tile the source does not have. The compositor
// leaves such tiles transparent.
var ErrTileNotFound = errors.New("tiles: tile not found")

// Source supplies decoded XYZ tiles.
type Source interface {
	Tile(ctx context.Context, t maptile.Tile) (image.Image, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, t maptile.Tile) (image.Image, error)

// Tile implements Source.
func (f SourceFunc) Tile(ctx context.Context, t maptile.Tile) (image.Image, error) {
	return f(ctx, t)
}

// DirSource reads tiles laid out as Root/{z}/{x}/{y}.{Ext}.
type DirSource struct {
	Root string

	// Ext is the file extension without the dot: png, webp or jpg.
	Ext string
}

// Path returns the file that holds t.
func (s DirSource) Path(t maptile.Tile) string {
	ext := s.Ext
	if ext == "" {
		ext = "png"
	}
	return filepath.Join(s.Root,
		strconv.FormatUint(uint64(t.Z), 10),
		strconv.FormatUint(uint64(t.X), 10),
		strconv.FormatUint(uint64(t.Y), 10)+"."+ext)
}

// Tile implements Source.
func (s DirSource) Tile(ctx context.Context, t maptile.Tile) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(t)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrTileNotFound)
		}
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode tile %s: %w", path, err)
	}
	return img, nil
}
