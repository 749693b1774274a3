package vision

import (
	"fmt"
	"image"
)

const (
	initialVariance = 15.0
	minVariance     = 4.0
	maxVariance     = 75.0
)

// BackgroundModel is a running per-pixel Gaussian estimate of the static
// scene. Each pixel keeps an exponential moving average of its brightness and
// of its variance. The learning rate is 1/n while the model is young and
// 1/History afterwards, so scenery that stops moving is absorbed into the
// background within roughly History frames.
type BackgroundModel struct {
	params   Params
	width    int
	height   int
	mean     []float32
	variance []float32
	frames   int
}

// NewBackgroundModel creates an empty model. The first applied frame seeds it.
func NewBackgroundModel(p Params) *BackgroundModel {
	return &BackgroundModel{params: p}
}

// Frames returns the number of frames the model has learned from.
func (m *BackgroundModel) Frames() int { return m.frames }

// Reset discards the learned background.
func (m *BackgroundModel) Reset() {
	m.mean = nil
	m.variance = nil
	m.frames = 0
}

// Apply classifies every pixel of frame against the model, writing
// MaskForeground, MaskShadow or MaskBackground into the returned mask, then
// updates the model with the frame.
func (m *BackgroundModel) Apply(frame *image.Gray) (*image.Gray, error) {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	if m.mean == nil {
		m.seed(frame)
		return image.NewGray(image.Rect(0, 0, w, h)), nil
	}
	if w != m.width || h != m.height {
		return nil, fmt.Errorf("frame size %dx%d does not match background %dx%d", w, h, m.width, m.height)
	}

	m.frames++
	n := m.frames
	if n > m.params.History {
		n = m.params.History
	}
	alpha := float32(1) / float32(n)
	tb := float32(m.params.VarianceThreshold)
	tau := float32(m.params.ShadowRatio)

	mask := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := frame.Pix[frame.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < w; x++ {
			i := y*w + x
			v := float32(row[x])
			mu := m.mean[i]
			vr := m.variance[i]
			d := v - mu
			d2 := d * d

			if d2 > tb*vr {
				mask.Pix[y*mask.Stride+x] = MaskForeground
				if d < 0 && mu > 0 {
					if ratio := v / mu; ratio >= tau {
						mask.Pix[y*mask.Stride+x] = MaskShadow
					}
				}
			}

			m.mean[i] = mu + alpha*d
			vr += alpha * (d2 - vr)
			if vr < minVariance {
				vr = minVariance
			} else if vr > maxVariance {
				vr = maxVariance
			}
			m.variance[i] = vr
		}
	}
	return mask, nil
}

func (m *BackgroundModel) seed(frame *image.Gray) {
	b := frame.Bounds()
	m.width, m.height = b.Dx(), b.Dy()
	m.mean = make([]float32, m.width*m.height)
	m.variance = make([]float32, m.width*m.height)
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			i := y*m.width + x
			m.mean[i] = float32(frame.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			m.variance[i] = initialVariance
		}
	}
	m.frames = 1
}

// Threshold binarises mask in place: values above t become MaskForeground,
// everything else MaskBackground.
func Threshold(mask *image.Gray, t uint8) {
	for i, v := range mask.Pix {
		if v > t {
			mask.Pix[i] = MaskForeground
		} else {
			mask.Pix[i] = MaskBackground
		}
	}
}
