// MODUL: preprocess
// ZWECK: Bilder fuer einen NCHW-Eingabe-Blob vorbereiten
// INPUT: Dateipfad oder Bytes, Zielform [N, C, H, W], mean/std
// OUTPUT: float32-Werte im NCHW Layout
// NEBENEFFEKTE: Dateisystem-Lesezugriff bei Load
// ABHAENGIGKEITEN: golang.org/x/image (draw, bmp, tiff, webp), image/jpeg, image/png
// HINWEISE: Alpha wird auf Weiss komponiert, C=1 ergibt Graustufen (BT.601)

package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrShape wird zurueckgegeben, wenn die Zielform kein NCHW-Bild beschreibt
var ErrShape = errors.New("image input needs shape [N, C, H, W] with C = 1 or 3")

// Standard-Normalisierungswerte
var (
	// ImageNet (ResNet, SqueezeNet, ...)
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}

	// nur Skalierung auf [0,1]
	NoNormMean = [3]float32{0, 0, 0}
	NoNormStd  = [3]float32{1, 1, 1}
)

// Load dekodiert eine Bilddatei
func Load(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode dekodiert Bild-Bytes in einem der registrierten Formate
func Decode(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("decode image: empty %s image", format)
	}
	return img, nil
}

// Resize skaliert img auf width x height und komponiert Transparenz auf Weiss
func Resize(img image.Image, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", width, height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst, nil
}

// CHW schreibt img normalisiert als [C, H, W] in out. Bei C = 1 wird nur
// mean[0] und std[0] verwendet.
func CHW(out []float32, img *image.RGBA, channels int, mean, std [3]float32) {
	b := img.Bounds()
	plane := b.Dx() * b.Dy()

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px := img.RGBAAt(x, y)
			r, g, bl := float32(px.R)/255, float32(px.G)/255, float32(px.B)/255

			if channels == 1 {
				out[i] = (0.299*r + 0.587*g + 0.114*bl - mean[0]) / std[0]
			} else {
				out[i] = (r - mean[0]) / std[0]
				out[plane+i] = (g - mean[1]) / std[1]
				out[2*plane+i] = (bl - mean[2]) / std[2]
			}
			i++
		}
	}
}

// Tensor bereitet img fuer die Form [N, C, H, W] vor; alle N Bilder des
// Batches sind identisch
func Tensor(img image.Image, shape []int, mean, std [3]float32) ([]float32, error) {
	if len(shape) != 4 || (shape[1] != 1 && shape[1] != 3) || shape[0] <= 0 {
		return nil, fmt.Errorf("%w, got %v", ErrShape, shape)
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]

	resized, err := Resize(img, w, h)
	if err != nil {
		return nil, err
	}

	per := c * h * w
	out := make([]float32, n*per)
	CHW(out[:per], resized, c, mean, std)
	for i := 1; i < n; i++ {
		copy(out[i*per:(i+1)*per], out[:per])
	}
	return out, nil
}
