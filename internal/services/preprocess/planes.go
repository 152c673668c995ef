package preprocess

import (
	"fmt"

	"inspector/internal/models"
)

// Planes holds one float64 plane per channel, row-major. Transforms operate
// on Planes in place.
type Planes struct {
	Width  int
	Height int
	C      [3][]float64
}

func newPlanes(w, h int) *Planes {
	p := &Planes{Width: w, Height: h}
	for c := range p.C {
		p.C[c] = make([]float64, w*h)
	}
	return p
}

func (p *Planes) pack(layout string) []float32 {
	n := p.Width * p.Height
	out := make([]float32, n*3)
	if layout == models.LayoutCHW {
		for c := 0; c < 3; c++ {
			for i, v := range p.C[c] {
				out[c*n+i] = float32(v)
			}
		}
		return out
	}
	for i := 0; i < n; i++ {
		out[i*3] = float32(p.C[0][i])
		out[i*3+1] = float32(p.C[1][i])
		out[i*3+2] = float32(p.C[2][i])
	}
	return out
}

// Transform is a deterministic user step run after normalization.
type Transform struct {
	Name  string
	Apply func(p *Planes, opts Options) error
}

// TransformByName returns one of the built-in transforms.
func TransformByName(name string) (Transform, error) {
	switch name {
	case "hflip":
		return Transform{Name: name, Apply: hflip}, nil
	case "vflip":
		return Transform{Name: name, Apply: vflip}, nil
	case "clamp":
		return Transform{Name: name, Apply: clamp}, nil
	default:
		return Transform{}, fmt.Errorf("unknown transform %q", name)
	}
}

func hflip(p *Planes, _ Options) error {
	for c := range p.C {
		for y := 0; y < p.Height; y++ {
			row := p.C[c][y*p.Width : (y+1)*p.Width]
			for l, r := 0, len(row)-1; l < r; l, r = l+1, r-1 {
				row[l], row[r] = row[r], row[l]
			}
		}
	}
	return nil
}

func vflip(p *Planes, _ Options) error {
	for c := range p.C {
		plane := p.C[c]
		for top, bottom := 0, p.Height-1; top < bottom; top, bottom = top+1, bottom-1 {
			a := plane[top*p.Width : (top+1)*p.Width]
			b := plane[bottom*p.Width : (bottom+1)*p.Width]
			for x := range a {
				a[x], b[x] = b[x], a[x]
			}
		}
	}
	return nil
}

// clamp keeps values inside the range the normalization can produce.
func clamp(p *Planes, opts Options) error {
	for c := range p.C {
		lo, hi := opts.bounds(c)
		for i, v := range p.C[c] {
			if v < lo {
				p.C[c][i] = lo
			} else if v > hi {
				p.C[c][i] = hi
			}
		}
	}
	return nil
}
