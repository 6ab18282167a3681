package vision

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/your-org/judge/internal/models"
)

// per-model normalization: pixel = (pixel - mean) / std
var (
	detMean  = [3]float32{127.5, 127.5, 127.5}
	detStd   = [3]float32{128, 128, 128}
	embMean  = [3]float32{127.5, 127.5, 127.5}
	embStd   = [3]float32{127.5, 127.5, 127.5}
	attrMean = [3]float32{0, 0, 0}
	attrStd  = [3]float32{1, 1, 1}
	yoloMean = [3]float32{0, 0, 0}
	yoloStd  = [3]float32{255, 255, 255}
)

// toCHW resizes img to w x h and lays it out as planar RGB floats.
func toCHW(img image.Image, w, h int, mean, std [3]float32) []float32 {
	dst := resize(img, w, h)
	plane := w * h
	data := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4:]
			idx := y*w + x
			data[idx] = (float32(px[0]) - mean[0]) / std[0]
			data[plane+idx] = (float32(px[1]) - mean[1]) / std[1]
			data[2*plane+idx] = (float32(px[2]) - mean[2]) / std[2]
		}
	}
	return data
}

func resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// cropFace cuts the box out of img with 10% padding on each side. It
// returns nil when the box does not overlap the image.
func cropFace(img image.Image, box models.BBox) image.Image {
	bounds := img.Bounds()
	padW := box.Width() * 0.1
	padH := box.Height() * 0.1

	r := image.Rect(
		int(box[0]-padW), int(box[1]-padH),
		int(box[2]+padW), int(box[3]+padH),
	).Intersect(bounds)
	if r.Empty() {
		return nil
	}

	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}
