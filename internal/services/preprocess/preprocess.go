package preprocess

import (
	"fmt"
	"image"
	"time"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"

	"inspector/internal/config"
	"inspector/internal/models"
)

// Stage names reported in PreprocessedTensor.Timings.
const (
	StageResize    = "resize"
	StageColor     = "color"
	StageNormalize = "normalize"
)

// Interpolation methods.
const (
	InterpNearest        = "nearest"
	InterpApproxBilinear = "approx-bilinear"
	InterpBilinear       = "bilinear"
	InterpCatmullRom     = "catmullrom"
)

// Color conversions.
const (
	ColorBGR2RGB = "bgr2rgb"
	ColorNone    = "none"
)

// Normalization modes.
const (
	NormUnit     = "unit"
	NormStandard = "standard"
)

type Options struct {
	TargetWidth     int
	TargetHeight    int
	Interpolation   string
	ColorConversion string
	Normalization   string
	Mean            [3]float64
	Std             [3]float64
	Layout          string
	Transforms      []Transform
}

// OptionsFromConfig resolves the preprocessing settings, including the named
// built-in transforms.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	opts := Options{
		TargetWidth:     cfg.TargetWidth,
		TargetHeight:    cfg.TargetHeight,
		Interpolation:   cfg.Interpolation,
		ColorConversion: cfg.ColorConversion,
		Normalization:   cfg.Normalization,
		Layout:          cfg.TensorLayout,
	}
	if len(cfg.NormMean) != 3 || len(cfg.NormStd) != 3 {
		return opts, fmt.Errorf("mean and std need 3 values")
	}
	copy(opts.Mean[:], cfg.NormMean)
	copy(opts.Std[:], cfg.NormStd)

	for _, name := range cfg.PreprocessTransforms {
		tr, err := TransformByName(name)
		if err != nil {
			return opts, err
		}
		opts.Transforms = append(opts.Transforms, tr)
	}
	return opts, nil
}

// Preprocessor turns a Frame into the model input tensor. It keeps no state
// between calls, so identical input bytes give identical output.
type Preprocessor struct {
	opts   Options
	scaler draw.Interpolator
}

func NewPreprocessor(opts Options) (*Preprocessor, error) {
	if opts.TargetWidth <= 0 || opts.TargetHeight <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", opts.TargetWidth, opts.TargetHeight)
	}

	var scaler draw.Interpolator
	switch opts.Interpolation {
	case InterpNearest:
		scaler = draw.NearestNeighbor
	case InterpApproxBilinear:
		scaler = draw.ApproxBiLinear
	case InterpBilinear, "":
		scaler = draw.BiLinear
	case InterpCatmullRom:
		scaler = draw.CatmullRom
	default:
		return nil, fmt.Errorf("unknown interpolation %q", opts.Interpolation)
	}

	switch opts.ColorConversion {
	case "":
		opts.ColorConversion = ColorBGR2RGB
	case ColorBGR2RGB, ColorNone:
	default:
		return nil, fmt.Errorf("unknown color conversion %q", opts.ColorConversion)
	}

	switch opts.Normalization {
	case "":
		opts.Normalization = NormUnit
	case NormUnit:
	case NormStandard:
		for c, s := range opts.Std {
			if s == 0 {
				return nil, fmt.Errorf("std for channel %d is zero", c)
			}
		}
	default:
		return nil, fmt.Errorf("unknown normalization %q", opts.Normalization)
	}

	switch opts.Layout {
	case "":
		opts.Layout = models.LayoutHWC
	case models.LayoutHWC, models.LayoutCHW:
	default:
		return nil, fmt.Errorf("unknown tensor layout %q", opts.Layout)
	}

	for i, tr := range opts.Transforms {
		if tr.Apply == nil {
			return nil, fmt.Errorf("transform %d (%s) has no function", i, tr.Name)
		}
	}

	return &Preprocessor{opts: opts, scaler: scaler}, nil
}

// TargetShape is the shape of every tensor this preprocessor produces.
func (p *Preprocessor) TargetShape() models.Shape {
	return models.Shape{Height: p.opts.TargetHeight, Width: p.opts.TargetWidth, Channels: 3}
}

// Process runs resize, color conversion, normalization and the configured
// transforms, in that order. Malformed frames yield a *models.FrameError
// wrapping models.ErrPreprocess.
func (p *Preprocessor) Process(f *models.Frame) (*models.PreprocessedTensor, error) {
	if err := validate(f); err != nil {
		var seq uint64
		if f != nil {
			seq = f.Seq
		}
		return nil, &models.FrameError{Seq: seq, Stage: "preprocess", Err: err}
	}

	start := time.Now()
	out := &models.PreprocessedTensor{
		FrameSeq:      f.Seq,
		Layout:        p.opts.Layout,
		OriginalShape: f.Shape(),
		TargetShape:   p.TargetShape(),
	}
	mark := start
	record := func(stage string) {
		now := time.Now()
		out.Timings = append(out.Timings, models.StageTiming{Stage: stage, Duration: now.Sub(mark)})
		mark = now
	}

	resized := p.resize(f)
	record(StageResize)

	planes := p.convertColor(resized)
	record(StageColor)

	p.normalize(planes)
	record(StageNormalize)

	for _, tr := range p.opts.Transforms {
		if err := tr.Apply(planes, p.opts); err != nil {
			return nil, &models.FrameError{Seq: f.Seq, Stage: "preprocess", Err: fmt.Errorf("%w: transform %s: %v", models.ErrPreprocess, tr.Name, err)}
		}
		record("transform:" + tr.Name)
	}

	out.Data = planes.pack(p.opts.Layout)
	out.Total = time.Since(start)
	return out, nil
}

func validate(f *models.Frame) error {
	switch {
	case f == nil:
		return fmt.Errorf("%w: nil frame", models.ErrPreprocess)
	case f.Width <= 0 || f.Height <= 0:
		return fmt.Errorf("%w: invalid dimensions %dx%d", models.ErrPreprocess, f.Width, f.Height)
	case f.Channels != 3:
		return fmt.Errorf("%w: expected 3 channels, got %d", models.ErrPreprocess, f.Channels)
	case len(f.Data) != f.Width*f.Height*f.Channels:
		return fmt.Errorf("%w: buffer holds %d bytes, shape needs %d", models.ErrPreprocess, len(f.Data), f.Width*f.Height*f.Channels)
	}
	return nil
}

// resize scales the packed frame with the configured interpolator. Channel
// order is kept, so the RGBA image carries B in its R slot until color
// conversion.
func (p *Preprocessor) resize(f *models.Frame) *image.RGBA {
	src := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < len(f.Data); i, j = i+3, j+4 {
		src.Pix[j] = f.Data[i]
		src.Pix[j+1] = f.Data[i+1]
		src.Pix[j+2] = f.Data[i+2]
		src.Pix[j+3] = 0xff
	}

	if f.Width == p.opts.TargetWidth && f.Height == p.opts.TargetHeight {
		return src
	}

	dst := image.NewRGBA(image.Rect(0, 0, p.opts.TargetWidth, p.opts.TargetHeight))
	p.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// convertColor splits the resized pixels into float planes in model channel
// order.
func (p *Preprocessor) convertColor(img *image.RGBA) *Planes {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	planes := newPlanes(w, h)

	order := [3]int{0, 1, 2}
	if p.opts.ColorConversion == ColorBGR2RGB {
		order = [3]int{2, 1, 0}
	}

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			for c := 0; c < 3; c++ {
				planes.C[c][i] = float64(row[x*4+order[c]])
			}
		}
	}
	return planes
}

func (p *Preprocessor) normalize(planes *Planes) {
	for c := 0; c < 3; c++ {
		floats.Scale(1.0/255.0, planes.C[c])
		if p.opts.Normalization == NormStandard {
			floats.AddConst(-p.opts.Mean[c], planes.C[c])
			floats.Scale(1.0/p.opts.Std[c], planes.C[c])
		}
	}
}

// bounds is the value range of each channel after normalization.
func (o Options) bounds(c int) (lo, hi float64) {
	if o.Normalization == NormStandard {
		return (0 - o.Mean[c]) / o.Std[c], (1 - o.Mean[c]) / o.Std[c]
	}
	return 0, 1
}
