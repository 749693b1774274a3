package vision

import "fmt"

// Mask values written by the background model.
const (
	MaskBackground uint8 = 0
	MaskShadow     uint8 = 127
	MaskForeground uint8 = 255
)

// Params configures the detection pipeline.
type Params struct {
	// History bounds the learning window of the background model in frames.
	History int
	// VarianceThreshold is the squared distance, in units of the pixel
	// variance, above which a pixel is foreground.
	VarianceThreshold float64
	// ShadowRatio is the lowest brightness ratio (pixel / background) still
	// classified as shadow rather than foreground.
	ShadowRatio float64
	// BinaryThreshold drops every mask value at or below it.
	BinaryThreshold uint8
	// KernelSize is the side of the elliptical structuring element.
	KernelSize int
	// MinContourArea is the enclosed area a contour must exceed to count.
	MinContourArea float64
	// MinFillRatio is the fraction of a blob's bounding box that must be
	// foreground for it to count. Zero, the default, disables the check so
	// the count is decided by area alone.
	MinFillRatio float64
	// Width and Height are the resolution frames are normalised to.
	Width  int
	Height int
}

// DefaultParams returns the tuning used for 640x480 intersection cameras.
func DefaultParams() Params {
	return Params{
		History:           500,
		VarianceThreshold: 16,
		ShadowRatio:       0.5,
		BinaryThreshold:   244,
		KernelSize:        5,
		MinContourArea:    1000,
		Width:             640,
		Height:            480,
	}
}

// Validate checks the parameters for values the pipeline cannot run with.
func (p Params) Validate() error {
	if p.History < 1 {
		return fmt.Errorf("history must be at least 1, got %d", p.History)
	}
	if p.VarianceThreshold <= 0 {
		return fmt.Errorf("variance threshold must be positive, got %f", p.VarianceThreshold)
	}
	if p.ShadowRatio < 0 || p.ShadowRatio >= 1 {
		return fmt.Errorf("shadow ratio must be in [0,1), got %f", p.ShadowRatio)
	}
	if p.KernelSize < 1 || p.KernelSize%2 == 0 {
		return fmt.Errorf("kernel size must be a positive odd number, got %d", p.KernelSize)
	}
	if p.MinContourArea < 0 {
		return fmt.Errorf("min contour area must be non-negative, got %f", p.MinContourArea)
	}
	if p.MinFillRatio < 0 || p.MinFillRatio > 1 {
		return fmt.Errorf("min fill ratio must be in [0,1], got %f", p.MinFillRatio)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("frame size must be positive, got %dx%d", p.Width, p.Height)
	}
	return nil
}
