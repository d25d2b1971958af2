package source

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/san-kum/servoloop/internal/servo"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeBMP(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, bmp.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))))
}

func TestImageDir_OrderAndFormats(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "002.png"), 40, 30)
	writeBMP(t, filepath.Join(dir, "001.bmp"), 20, 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	src, err := NewImageDir(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())

	ctx := context.Background()
	f0, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f0.Index)
	assert.Equal(t, 20, f0.Width)

	f1, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f1.Index)
	assert.Equal(t, 40, f1.Width)
	assert.Equal(t, 30, f1.Height)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, servo.ErrEndOfStream)
}

func TestImageDir_Downscale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.png")
	writePNG(t, path, 400, 200)

	src, err := NewImageDir(path, 100)
	require.NoError(t, err)

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, f.Width)
	assert.Equal(t, 50, f.Height)
	assert.Equal(t, 100, f.Image.Bounds().Dx())
}

func TestImageDir_Empty(t *testing.T) {
	_, err := NewImageDir(t.TempDir(), 0)
	assert.Error(t, err)

	_, err = NewImageDir(filepath.Join(t.TempDir(), "missing"), 0)
	assert.Error(t, err)
}
