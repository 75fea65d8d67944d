// Package preprocess turns images into the [1, 3, H, W] float buffer the
// classifier models take.
//
// Every input representation is decoded into an *image.NRGBA, crop-resized to
// exactly H×W and copied plane by plane (red, green, blue) as raw 0-255
// intensities. No mean subtraction or scaling happens here; the bundled
// models carry their own normalization.
package preprocess

import (
	"bytes"
	"errors"
	"image"
	"io"

	// Formats beyond imaging's defaults.
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/mdobak/go-xerrors"
	"github.com/nfnt/resize"
)

const Channels = 3

var (
	ErrDecode     = errors.New("failed to decode image")
	ErrEmptyInput = errors.New("empty image input")
	ErrNilImage   = errors.New("nil image")
)

// Interpolation used when scaling before the crop.
var Interpolation = resize.Lanczos3

// FromBytes decodes an encoded image held in memory.
func FromBytes(data []byte) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, xerrors.New(ErrEmptyInput)
	}
	return FromReader(bytes.NewReader(data))
}

// FromReader decodes an encoded image from r.
func FromReader(r io.Reader) (*image.NRGBA, error) {
	if r == nil {
		return nil, xerrors.New(ErrEmptyInput)
	}
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, xerrors.Newf("%w: %v", ErrDecode, err)
	}
	return imaging.Clone(img), nil
}

// FromFile decodes the image stored at path.
func FromFile(path string) (*image.NRGBA, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, xerrors.Newf("%w: %s: %v", ErrDecode, path, err)
	}
	return imaging.Clone(img), nil
}

// FromImage converts an already decoded image to NRGBA.
func FromImage(img image.Image) (*image.NRGBA, error) {
	if img == nil {
		return nil, xerrors.New(ErrNilImage)
	}
	return imaging.Clone(img), nil
}

// Fill crops the largest centered box with the aspect ratio of
// width×height out of img and scales it to exactly width×height. The
// intermediate image is never larger than the source.
func Fill(img image.Image, width, height int) *image.NRGBA {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	if srcW == width && srcH == height {
		return imaging.Clone(img)
	}

	cropW, cropH := srcW, srcH
	if srcW*height > srcH*width {
		cropW = clamp((srcH*width+height/2)/height, 1, srcW)
	} else {
		cropH = clamp((srcW*height+width/2)/width, 1, srcH)
	}
	box := imaging.CropCenter(img, cropW, cropH)
	if cropW == width && cropH == height {
		return box
	}
	return imaging.Clone(resize.Resize(uint(width), uint(height), box, Interpolation))
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// Tensor copies img into a planar RGB buffer of length 3*W*H.
func Tensor(img *image.NRGBA) []float32 {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	plane := width * height
	data := make([]float32, Channels*plane)

	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			i := y*width + x
			px := row[x*4 : x*4+3]
			data[i] = float32(px[0])
			data[plane+i] = float32(px[1])
			data[2*plane+i] = float32(px[2])
		}
	}
	return data
}

// Buffer is a prepared model input.
type Buffer struct {
	Data  []float32
	Shape []int64
}

func (b Buffer) Height() int { return int(b.Shape[2]) }
func (b Buffer) Width() int  { return int(b.Shape[3]) }

// Prepare crop-resizes img to height×width and lays it out as [1, 3, H, W].
func Prepare(img image.Image, height, width int) (Buffer, error) {
	if img == nil {
		return Buffer{}, xerrors.New(ErrNilImage)
	}
	if height <= 0 || width <= 0 {
		return Buffer{}, xerrors.Newf("invalid target size %dx%d", width, height)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return Buffer{}, xerrors.New(ErrEmptyInput)
	}
	filled := Fill(img, width, height)
	return Buffer{
		Data:  Tensor(filled),
		Shape: []int64{1, Channels, int64(height), int64(width)},
	}, nil
}
