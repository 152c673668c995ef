package preprocess

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspector/internal/config"
	"inspector/internal/models"
)

func testFrame(w, h int) *models.Frame {
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return &models.Frame{Seq: 5, Width: w, Height: h, Channels: 3, Data: data}
}

func mustPreprocessor(t *testing.T, opts Options) *Preprocessor {
	t.Helper()
	p, err := NewPreprocessor(opts)
	require.NoError(t, err)
	return p
}

func TestProcess_Idempotent(t *testing.T) {
	for _, interp := range []string{InterpNearest, InterpApproxBilinear, InterpBilinear, InterpCatmullRom} {
		t.Run(interp, func(t *testing.T) {
			hflipT, _ := TransformByName("hflip")
			clampT, _ := TransformByName("clamp")
			p := mustPreprocessor(t, Options{
				TargetWidth:   17,
				TargetHeight:  11,
				Interpolation: interp,
				Normalization: NormStandard,
				Mean:          [3]float64{0.485, 0.456, 0.406},
				Std:           [3]float64{0.229, 0.224, 0.225},
				Transforms:    []Transform{hflipT, clampT},
			})

			frame := testFrame(40, 30)
			original := append([]byte(nil), frame.Data...)

			a, err := p.Process(frame)
			require.NoError(t, err)
			b, err := p.Process(&models.Frame{Seq: 5, Width: 40, Height: 30, Channels: 3, Data: append([]byte(nil), original...)})
			require.NoError(t, err)

			require.Equal(t, a.Data, b.Data)
			require.Equal(t, original, frame.Data, "input must not be modified")
		})
	}
}

func TestProcess_ShapesAndTimings(t *testing.T) {
	vflipT, _ := TransformByName("vflip")
	p := mustPreprocessor(t, Options{TargetWidth: 8, TargetHeight: 6, Transforms: []Transform{vflipT}})

	out, err := p.Process(testFrame(16, 12))
	require.NoError(t, err)

	assert.Equal(t, uint64(5), out.FrameSeq)
	assert.Equal(t, models.Shape{Height: 12, Width: 16, Channels: 3}, out.OriginalShape)
	assert.Equal(t, models.Shape{Height: 6, Width: 8, Channels: 3}, out.TargetShape)
	assert.Len(t, out.Data, 8*6*3)
	assert.Equal(t, models.LayoutHWC, out.Layout)

	var stages []string
	for _, st := range out.Timings {
		stages = append(stages, st.Stage)
		assert.LessOrEqual(t, st.Duration, out.Total)
	}
	assert.Equal(t, []string{StageResize, StageColor, StageNormalize, "transform:vflip"}, stages)
}

func TestProcess_ColorAndNormalization(t *testing.T) {
	frame := &models.Frame{Width: 1, Height: 1, Channels: 3, Data: []byte{51, 102, 255}} // B, G, R

	unit := mustPreprocessor(t, Options{TargetWidth: 1, TargetHeight: 1, ColorConversion: ColorBGR2RGB, Normalization: NormUnit})
	out, err := unit.Process(frame)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1.0, 0.4, 0.2}, out.Data, 1e-6)

	none := mustPreprocessor(t, Options{TargetWidth: 1, TargetHeight: 1, ColorConversion: ColorNone})
	out, err = none.Process(frame)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.2, 0.4, 1.0}, out.Data, 1e-6)

	std := mustPreprocessor(t, Options{
		TargetWidth: 1, TargetHeight: 1,
		Normalization: NormStandard,
		Mean:          [3]float64{0.5, 0.5, 0.5},
		Std:           [3]float64{0.5, 0.5, 0.5},
	})
	out, err = std.Process(frame)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1.0, -0.2, -0.6}, out.Data, 1e-6)
}

func TestProcess_CHWLayout(t *testing.T) {
	frame := &models.Frame{Width: 2, Height: 1, Channels: 3, Data: []byte{0, 0, 255, 255, 0, 0}}
	p := mustPreprocessor(t, Options{TargetWidth: 2, TargetHeight: 1, Layout: models.LayoutCHW})

	out, err := p.Process(frame)
	require.NoError(t, err)
	// R plane, G plane, B plane
	assert.Equal(t, []float32{1, 0, 0, 0, 0, 1}, out.Data)
	assert.Equal(t, float32(1), out.At(0, 1, 2))
}

func TestProcess_HorizontalFlip(t *testing.T) {
	hflipT, _ := TransformByName("hflip")
	frame := &models.Frame{Width: 2, Height: 1, Channels: 3, Data: []byte{0, 0, 255, 255, 0, 0}}
	p := mustPreprocessor(t, Options{TargetWidth: 2, TargetHeight: 1, Transforms: []Transform{hflipT}})

	out, err := p.Process(frame)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1, 1, 0, 0}, out.Data)
}

func TestProcess_MalformedInput(t *testing.T) {
	p := mustPreprocessor(t, Options{TargetWidth: 4, TargetHeight: 4})

	cases := map[string]*models.Frame{
		"nil frame":        nil,
		"zero width":       {Seq: 1, Width: 0, Height: 4, Channels: 3},
		"grayscale":        {Seq: 2, Width: 2, Height: 2, Channels: 1, Data: make([]byte, 4)},
		"short buffer":     {Seq: 3, Width: 2, Height: 2, Channels: 3, Data: make([]byte, 11)},
		"oversized buffer": {Seq: 4, Width: 2, Height: 2, Channels: 3, Data: make([]byte, 13)},
	}

	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := p.Process(frame)
			require.Error(t, err)
			assert.Nil(t, out)
			assert.ErrorIs(t, err, models.ErrPreprocess)
			assert.False(t, models.IsFatal(err))

			var fe *models.FrameError
			require.True(t, errors.As(err, &fe))
			if frame != nil {
				assert.Equal(t, frame.Seq, fe.Seq)
			}
		})
	}
}

func TestProcess_FailingTransform(t *testing.T) {
	p := mustPreprocessor(t, Options{
		TargetWidth: 2, TargetHeight: 2,
		Transforms: []Transform{{Name: "reject", Apply: func(*Planes, Options) error { return errors.New("bad") }}},
	})

	_, err := p.Process(testFrame(2, 2))
	assert.ErrorIs(t, err, models.ErrPreprocess)
}

func TestNewPreprocessor_RejectsUnknownModes(t *testing.T) {
	bad := []Options{
		{TargetWidth: 0, TargetHeight: 1},
		{TargetWidth: 1, TargetHeight: 1, Interpolation: "lanczos"},
		{TargetWidth: 1, TargetHeight: 1, ColorConversion: "hsv"},
		{TargetWidth: 1, TargetHeight: 1, Normalization: "minmax"},
		{TargetWidth: 1, TargetHeight: 1, Normalization: NormStandard},
		{TargetWidth: 1, TargetHeight: 1, Layout: "NHWC"},
		{TargetWidth: 1, TargetHeight: 1, Transforms: []Transform{{Name: "empty"}}},
	}
	for _, opts := range bad {
		_, err := NewPreprocessor(opts)
		assert.Error(t, err, "%+v", opts)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		TargetWidth:          300,
		TargetHeight:         300,
		Interpolation:        InterpBilinear,
		ColorConversion:      ColorBGR2RGB,
		Normalization:        NormUnit,
		NormMean:             []float64{0.1, 0.2, 0.3},
		NormStd:              []float64{1, 1, 1},
		TensorLayout:         models.LayoutCHW,
		PreprocessTransforms: []string{"hflip", "clamp"},
	}

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0.1, 0.2, 0.3}, opts.Mean)
	require.Len(t, opts.Transforms, 2)
	assert.Equal(t, "clamp", opts.Transforms[1].Name)

	cfg.PreprocessTransforms = []string{"blur"}
	_, err = OptionsFromConfig(cfg)
	assert.Error(t, err)
}
