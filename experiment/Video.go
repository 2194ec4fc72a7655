package experiment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"gorgonia.org/tensor"
)

// Renderer writes evaluation episodes out as PNG frame sequences with
// a metric overlay in the corner of each frame.
type Renderer struct {
	scale int
}

// NewRenderer returns a renderer that upscales each frame pixel to a
// scale x scale block.
func NewRenderer(scale int) (*Renderer, error) {
	if scale < 1 {
		return nil, fmt.Errorf("newRenderer: scale must be >= 1")
	}
	return &Renderer{scale: scale}, nil
}

// Render writes one episode under dir as frame_0000.png,
// frame_0001.png, ... with the matching metric drawn onto each frame.
func (r *Renderer) Render(dir string, frames []*tensor.Dense,
	metrics []float64) error {
	if len(frames) == 0 {
		return fmt.Errorf("render: no frames")
	}
	if len(metrics) != len(frames) {
		return fmt.Errorf("render: have %v metrics for %v frames",
			len(metrics), len(frames))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("render: could not create %v: %v", dir, err)
	}

	for i, frame := range frames {
		path := filepath.Join(dir, fmt.Sprintf("frame_%04d.png", i))
		if err := r.renderFrame(path, frame, metrics[i]); err != nil {
			return fmt.Errorf("render: frame %v: %v", i, err)
		}
	}
	return nil
}

// renderFrame rasterizes one observation frame. A [H, W, C] frame is
// drawn pixel by pixel; any other shape is summarized as a uniform
// gray from its mean value.
func (r *Renderer) renderFrame(path string, frame *tensor.Dense,
	metric float64) error {
	shape := frame.Shape()
	data := frame.Data().([]float64)

	if len(shape) == 3 && shape[2] >= 3 {
		return r.renderImage(path, shape[0], shape[1], shape[2], data,
			metric)
	}

	var mean float64
	for _, v := range data {
		mean += v
	}
	mean /= float64(len(data))

	ctx := gg.NewContext(96*r.scale, 72*r.scale)
	ctx.SetRGB(mean, mean, mean)
	ctx.Clear()
	r.overlay(ctx, metric)
	return ctx.SavePNG(path)
}

func (r *Renderer) renderImage(path string, h, w, c int, data []float64,
	metric float64) error {
	ctx := gg.NewContext(w*r.scale, h*r.scale)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := (y*w + x) * c
			ctx.SetRGB(data[base], data[base+1], data[base+2])
			ctx.DrawRectangle(float64(x*r.scale), float64(y*r.scale),
				float64(r.scale), float64(r.scale))
			ctx.Fill()
		}
	}
	r.overlay(ctx, metric)
	return ctx.SavePNG(path)
}

func (r *Renderer) overlay(ctx *gg.Context, metric float64) {
	ctx.SetRGB(1, 1, 1)
	ctx.DrawString(fmt.Sprintf("dtg %.3f", metric), 4, 13)
}
