// Package detector implements frame-difference motion detection.
//
// Each processed frame is downscaled, converted to grayscale and blurred,
// then compared against the previous processed frame. Pixels whose absolute
// difference reaches the threshold form a binary mask; the mask is dilated
// once and scanned for connected regions. Motion is reported when any
// region's area reaches the minimum area.
//
// Only every Nth frame is processed (SKIP_FRAMES decimation); the rest
// return DecisionSkipped, which callers must treat as "no information", not
// as an absence of motion.
package detector

import (
	"image"
	"image/color"
	"math"
	"time"

	xdraw "golang.org/x/image/draw"
)

// Decision is the three-valued outcome of processing one frame.
type Decision int

const (
	// DecisionSkipped means the frame was decimated away and carries no
	// information about motion.
	DecisionSkipped Decision = iota
	// DecisionNoMotion means the frame was analyzed and no region reached
	// the minimum area.
	DecisionNoMotion
	// DecisionMotion means at least one changed region reached the
	// minimum area.
	DecisionMotion
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case DecisionSkipped:
		return "skipped"
	case DecisionNoMotion:
		return "no_motion"
	case DecisionMotion:
		return "motion"
	default:
		return "unknown"
	}
}

// Adaptive sleep tuning: a worker idles longer once motion has been absent
// for many consecutive detection cycles.
const (
	sleepMotion          = 30 * time.Millisecond
	sleepNoMotion        = 50 * time.Millisecond
	idleStretchAfter     = 50
	idleStretchFactor    = 3
	statsDefaultInterval = 60 * time.Second
)

// Params configures a Detector. Zero fields take the defaults below.
type Params struct {
	Threshold  uint8 // per-pixel difference threshold (default 30)
	MinArea    int   // minimum changed-region area in pixels (default 800)
	SkipFrames int   // process every Nth frame (default 10)
	Width      int   // detection raster width (default 128)
	Height     int   // detection raster height (default 96)
	BlurKernel int   // odd Gaussian kernel size (default 11)
}

func (p Params) withDefaults() Params {
	if p.Threshold == 0 {
		p.Threshold = 30
	}
	if p.MinArea <= 0 {
		p.MinArea = 800
	}
	if p.SkipFrames <= 0 {
		p.SkipFrames = 10
	}
	if p.Width <= 0 {
		p.Width = 128
	}
	if p.Height <= 0 {
		p.Height = 96
	}
	if p.BlurKernel <= 0 || p.BlurKernel%2 == 0 {
		p.BlurKernel = 11
	}
	return p
}

// Stats reports detector throughput since creation.
type Stats struct {
	FramesSeen      int
	FramesProcessed int
	Elapsed         time.Duration
	FPSActual       float64
	DetectionFPS    float64
}

// Detector is a stateful frame differencer for a single camera.
// It is not safe for concurrent use; each camera worker owns one.
type Detector struct {
	params Params

	previousGray        *image.Gray
	frameCount          int
	framesProcessed     int
	consecutiveNoMotion int

	kernel []float64

	startTime     time.Time
	lastStatsTime time.Time
	now           func() time.Time
}

// New creates a detector with the given parameters.
func New(p Params) *Detector {
	p = p.withDefaults()
	return &Detector{
		params:        p,
		kernel:        gaussianKernel(p.BlurKernel),
		startTime:     time.Now(),
		lastStatsTime: time.Now(),
		now:           time.Now,
	}
}

// Initialize seeds the reference frame. Must be called with the first frame
// before Process.
func (d *Detector) Initialize(frame image.Image) {
	d.previousGray = d.prepare(frame)
}

// Process runs one frame through the detection pipeline and returns the
// three-valued decision. Decimated frames return DecisionSkipped without
// touching the reference frame.
func (d *Detector) Process(frame image.Image) Decision {
	d.frameCount++
	if d.frameCount%d.params.SkipFrames != 0 {
		return DecisionSkipped
	}
	d.framesProcessed++

	current := d.prepare(frame)
	if d.previousGray == nil {
		d.previousGray = current
		return DecisionNoMotion
	}

	mask := diffMask(d.previousGray, current, d.params.Threshold)
	dilate(mask, d.params.Width, d.params.Height)
	motion := hasRegionOfArea(mask, d.params.Width, d.params.Height, d.params.MinArea)

	d.previousGray = current

	if motion {
		d.consecutiveNoMotion = 0
		return DecisionMotion
	}
	d.consecutiveNoMotion++
	return DecisionNoMotion
}

// SleepHint returns how long the worker should idle before the next frame.
// The hint stretches when motion has been absent for a long run of cycles.
func (d *Detector) SleepHint(motionActive bool) time.Duration {
	if motionActive {
		return sleepMotion
	}
	if d.consecutiveNoMotion > idleStretchAfter {
		return sleepNoMotion * idleStretchFactor
	}
	return sleepNoMotion
}

// Stats returns throughput counters since the detector was created.
func (d *Detector) Stats() Stats {
	elapsed := d.now().Sub(d.startTime)
	s := Stats{
		FramesSeen:      d.frameCount,
		FramesProcessed: d.framesProcessed,
		Elapsed:         elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.FPSActual = float64(d.frameCount) / secs
		s.DetectionFPS = float64(d.framesProcessed) / secs
	}
	return s
}

// ShouldLogStats reports whether the stats interval has elapsed, and if so
// arms the next interval.
func (d *Detector) ShouldLogStats() bool {
	if d.now().Sub(d.lastStatsTime) < statsDefaultInterval {
		return false
	}
	d.lastStatsTime = d.now()
	return true
}

// prepare downscales, grayscales and blurs a frame into the detection raster.
func (d *Detector) prepare(frame image.Image) *image.Gray {
	gray := image.NewGray(image.Rect(0, 0, d.params.Width, d.params.Height))
	xdraw.ApproxBiLinear.Scale(gray, gray.Bounds(), frame, frame.Bounds(), xdraw.Src, nil)
	return blur(gray, d.kernel)
}

// gaussianKernel builds a normalized 1-D Gaussian of the given odd size.
// Sigma follows the usual derivation from kernel size when unspecified.
func gaussianKernel(size int) []float64 {
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	radius := size / 2
	kernel := make([]float64, size)
	var sum float64
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// blur applies the separable Gaussian kernel with clamped edges.
func blur(src *image.Gray, kernel []float64) *image.Gray {
	w := src.Rect.Dx()
	h := src.Rect.Dy()
	radius := len(kernel) / 2

	tmp := image.NewGray(src.Rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k, weight := range kernel {
				sx := x + k - radius
				if sx < 0 {
					sx = 0
				} else if sx >= w {
					sx = w - 1
				}
				acc += weight * float64(src.GrayAt(src.Rect.Min.X+sx, src.Rect.Min.Y+y).Y)
			}
			tmp.SetGray(tmp.Rect.Min.X+x, tmp.Rect.Min.Y+y, grayValue(acc))
		}
	}

	dst := image.NewGray(src.Rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k, weight := range kernel {
				sy := y + k - radius
				if sy < 0 {
					sy = 0
				} else if sy >= h {
					sy = h - 1
				}
				acc += weight * float64(tmp.GrayAt(tmp.Rect.Min.X+x, tmp.Rect.Min.Y+sy).Y)
			}
			dst.SetGray(dst.Rect.Min.X+x, dst.Rect.Min.Y+y, grayValue(acc))
		}
	}
	return dst
}

func grayValue(v float64) color.Gray {
	rounded := int(v + 0.5)
	if rounded < 0 {
		rounded = 0
	} else if rounded > 255 {
		rounded = 255
	}
	return color.Gray{Y: uint8(rounded)}
}
