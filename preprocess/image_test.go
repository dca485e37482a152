// MODUL: image_test
// ZWECK: Tests fuer Dekodieren, Skalieren und NCHW-Aufbereitung
// INPUT: Synthetische Bilder als PNG-Bytes
// OUTPUT: Testresultate
// NEBENEFFEKTE: Temporaere Dateien
// ABHAENGIGKEITEN: testing, testify, image/png
// HINWEISE: Einfarbige Bilder, damit Skalierung die Werte nicht veraendert

package preprocess

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "red.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t, solid(40, 20, color.RGBA{255, 0, 0, 255})), 0o644))

	img, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())

	_, err = Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte{0, 0, 0, 0})
	assert.Error(t, err)
}

func TestResize(t *testing.T) {
	img, err := Resize(solid(100, 50, color.White), 8, 4)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 4), img.Bounds())

	_, err = Resize(solid(2, 2, color.White), 0, 4)
	assert.Error(t, err)
}

func TestResizeCompositesAlpha(t *testing.T) {
	img, err := Resize(solid(4, 4, color.RGBA{}), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(0, 0))
}

func TestTensorRGB(t *testing.T) {
	img := solid(16, 16, color.RGBA{255, 0, 51, 255})

	out, err := Tensor(img, []int{2, 3, 4, 4}, NoNormMean, NoNormStd)
	require.NoError(t, err)
	require.Len(t, out, 2*3*4*4)

	for i := 0; i < 2; i++ {
		base := i * 48
		assert.InDelta(t, 1.0, out[base], 1e-6, "R")
		assert.InDelta(t, 0.0, out[base+16], 1e-6, "G")
		assert.InDelta(t, 0.2, out[base+32], 1e-6, "B")
	}
}

func TestTensorNormalizes(t *testing.T) {
	img := solid(4, 4, color.White)
	out, err := Tensor(img, []int{1, 3, 2, 2}, ImageNetMean, ImageNetStd)
	require.NoError(t, err)
	assert.InDelta(t, (1-0.485)/0.229, out[0], 1e-5)
	assert.InDelta(t, (1-0.406)/0.225, out[8], 1e-5)
}

func TestTensorGray(t *testing.T) {
	out, err := Tensor(solid(4, 4, color.White), []int{1, 1, 3, 3}, NoNormMean, NoNormStd)
	require.NoError(t, err)
	require.Len(t, out, 9)
	for _, v := range out {
		assert.InDelta(t, 1.0, v, 1e-5)
	}
}

func TestTensorBadShape(t *testing.T) {
	for _, shape := range [][]int{{3, 4, 4}, {1, 2, 4, 4}, {0, 3, 4, 4}} {
		_, err := Tensor(solid(4, 4, color.White), shape, NoNormMean, NoNormStd)
		assert.ErrorIs(t, err, ErrShape, "shape %v", shape)
	}
}
