package vision

import (
	"fmt"
	"image"
)

// Detection is the outcome of running one frame through the pipeline.
type Detection struct {
	Count    int
	Blobs    []Contour
	Rejected int
}

// Detector counts vehicle-sized moving blobs in a stream of frames. It is not
// safe for concurrent use; each sensor owns its own Detector.
type Detector struct {
	params Params
	bg     *BackgroundModel
	kernel []image.Point
}

// NewDetector validates p and returns a detector with an empty background.
func NewDetector(p Params) (*Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detection params: %w", err)
	}
	return &Detector{
		params: p,
		bg:     NewBackgroundModel(p),
		kernel: EllipseKernel(p.KernelSize),
	}, nil
}

// Params returns the detector configuration.
func (d *Detector) Params() Params { return d.params }

// Reset forgets the learned background.
func (d *Detector) Reset() { d.bg.Reset() }

// Detect normalises img to the configured resolution and counts the
// foreground contours whose area exceeds MinContourArea.
func (d *Detector) Detect(img image.Image) (Detection, error) {
	frame := ToGray(img, d.params.Width, d.params.Height)

	mask, err := d.bg.Apply(frame)
	if err != nil {
		return Detection{}, err
	}
	Threshold(mask, d.params.BinaryThreshold)
	mask = Open(Close(mask, d.kernel), d.kernel)

	var det Detection
	for _, c := range ExternalContours(mask) {
		if c.Area() <= d.params.MinContourArea {
			continue
		}
		if c.FillRatio() < d.params.MinFillRatio {
			det.Rejected++
			continue
		}
		det.Blobs = append(det.Blobs, c)
	}
	det.Count = len(det.Blobs)
	return det, nil
}
