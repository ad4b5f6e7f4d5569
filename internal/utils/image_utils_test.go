package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, col color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, col)
		}
	}
	return img
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIsSupportedImage(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"a.jpg", true},
		{"b.JPEG", true},
		{"c.png", true},
		{"d.bmp", true},
		{"e.tiff", true},
		{"f.webp", true},
		{"g.gif", false},
		{"h.pdf", false},
	}
	for _, c := range cases {
		t.Run(c.path, func(t *testing.T) {
			assert.Equal(t, c.ok, IsSupportedImage(c.path))
		})
	}
	assert.True(t, IsPDF("scan.PDF"))
}

func TestDecodeImage(t *testing.T) {
	img, format, err := DecodeImage(encode(t, solidImage(10, 5, color.White)))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 10, img.Bounds().Dx())

	_, _, err = DecodeImage(nil)
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "decode", ipe.Operation)

	_, _, err = DecodeImage([]byte("not an image"))
	require.Error(t, err)
}

func TestBoxToRect_Clamps(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 50)
	r := BoxToRect(invoice.Box{X1: -5, Y1: 10.2, X2: 120, Y2: 20.7}, bounds)
	assert.Equal(t, image.Rect(0, 10, 100, 21), r)

	// Swapped corners are normalized.
	r = BoxToRect(invoice.Box{X1: 30, Y1: 40, X2: 10, Y2: 20}, bounds)
	assert.Equal(t, image.Rect(10, 20, 30, 40), r)
}

func TestCropCellPNG(t *testing.T) {
	img := solidImage(100, 50, color.White)
	data, err := CropCellPNG(img, invoice.Box{X1: 10, Y1: 10, X2: 40, Y2: 30})
	require.NoError(t, err)

	crop, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 30, crop.Bounds().Dx())
	assert.Equal(t, 20, crop.Bounds().Dy())

	data, err = CropCellPNG(img, invoice.Box{X1: 200, Y1: 200, X2: 300, Y2: 300})
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestEncodePNG_ResultsSurvivePoolReuse(t *testing.T) {
	first, err := EncodePNG(solidImage(20, 10, color.White))
	require.NoError(t, err)
	snapshot := append([]byte(nil), first...)

	_, err = EncodePNG(solidImage(30, 30, color.Black))
	require.NoError(t, err)

	assert.Equal(t, snapshot, first)
	img, err := png.Decode(bytes.NewReader(first))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
}

func TestFitImage(t *testing.T) {
	c := ImageConstraints{MaxSide: 100, MinSide: 8}

	small := solidImage(50, 20, color.White)
	out, err := FitImage(small, c)
	require.NoError(t, err)
	assert.Same(t, small, out)

	big := solidImage(400, 200, color.White)
	out, err = FitImage(big, c)
	require.NoError(t, err)
	assert.Equal(t, 100, out.Bounds().Dx())
	assert.Equal(t, 50, out.Bounds().Dy())

	_, err = FitImage(solidImage(4, 4, color.White), c)
	require.Error(t, err)
	_, err = FitImage(nil, c)
	require.Error(t, err)
}

func TestPrepareUpload(t *testing.T) {
	c := ImageConstraints{MaxSide: 64, MinSide: 1}
	small := encode(t, solidImage(32, 32, color.White))
	out, mime, err := PrepareUpload(small, c)
	require.NoError(t, err)
	assert.Equal(t, small, out)
	assert.Equal(t, "image/png", mime)

	out, mime, err = PrepareUpload(encode(t, solidImage(256, 128, color.White)), c)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestDiscoverFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	for _, p := range []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "b.pdf"),
		filepath.Join(dir, "notes.txt"),
		filepath.Join(sub, "c.jpg"),
	} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}

	files, err := DiscoverFiles([]string{dir}, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.pdf")}, files)

	files, err = DiscoverFiles([]string{dir}, true)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	_, err = DiscoverFiles([]string{filepath.Join(dir, "missing")}, false)
	require.Error(t, err)
}

func TestReadImageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.png")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	data, err := ReadImageFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)

	_, err = ReadImageFile(filepath.Join(dir, "x.gif"))
	require.Error(t, err)
	_, err = ReadImageFile("")
	require.Error(t, err)
}
