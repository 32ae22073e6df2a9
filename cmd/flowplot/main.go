// Command flowplot renders training artifacts: the per-epoch loss curve from
// the loss-history CSV and a sparse vector-field view of one sample from a
// submission file.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"image/color"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Noofbiz/eventflow/npy"
)

func main() {
	submission := flag.String("submission", "submission.npy", "path to the exported flow predictions")
	lossHistory := flag.String("loss", "loss_history.csv", "path to the loss-history CSV (empty to skip)")
	outDir := flag.String("out", "plots", "output directory for generated plots")
	sample := flag.Int("sample", 0, "which sample of the submission to render")
	stride := flag.Int("stride", 8, "pixel stride between rendered flow vectors")
	arrowScale := flag.Float64("arrow-scale", 1.0, "multiplier applied to vector lengths when drawing")
	flag.Parse()

	if err := ensureDir(*outDir); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	if *lossHistory != "" {
		if err := plotLossCurve(*lossHistory, filepath.Join(*outDir, "loss_curve.png")); err != nil {
			log.Fatalf("failed to plot loss curve: %v", err)
		}
		log.Printf("Loss curve written to %s", filepath.Join(*outDir, "loss_curve.png"))
	}

	if err := plotFlowField(*submission, filepath.Join(*outDir, "flow_field.png"), *sample, *stride, *arrowScale); err != nil {
		log.Fatalf("failed to plot flow field: %v", err)
	}
	log.Printf("Flow field written to %s", filepath.Join(*outDir, "flow_field.png"))
}

// plotLossCurve draws the per-epoch mean endpoint error as a line with
// scatter markers.
func plotLossCurve(csvPath, outPath string) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return err
	}
	if len(recs) < 2 {
		return fmt.Errorf("loss history %s has no epochs", csvPath)
	}

	xys := make(plotter.XYs, 0, len(recs)-1)
	for _, rec := range recs[1:] {
		if len(rec) < 2 {
			continue
		}
		epoch, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return fmt.Errorf("bad epoch %q: %w", rec[0], err)
		}
		loss, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return fmt.Errorf("bad loss %q: %w", rec[1], err)
		}
		xys = append(xys, plotter.XY{X: epoch, Y: loss})
	}

	p := plot.New()
	p.Title.Text = "Mean multi-scale EPE per epoch"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "mean EPE"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	line.Width = vg.Points(1.2)
	p.Add(line)

	pts, err := plotter.NewScatter(xys)
	if err != nil {
		return err
	}
	pts.GlyphStyle.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	pts.GlyphStyle.Radius = vg.Points(2)
	p.Add(pts)
	p.Legend.Add("train", line)

	return p.Save(8*vg.Inch, 5*vg.Inch, outPath)
}

// plotFlowField reads one sample out of a [n, 2, h, w] submission array and
// draws its flow vectors on a pixel grid, one line per sampled pixel.
func plotFlowField(npyPath, outPath string, sample, stride int, scale float64) error {
	data, shape, err := npy.ReadFile(npyPath)
	if err != nil {
		return err
	}
	if len(shape) != 4 || shape[1] != 2 {
		return fmt.Errorf("submission shape %v, want [n, 2, h, w]", shape)
	}
	n, h, w := shape[0], shape[2], shape[3]
	if sample < 0 || sample >= n {
		return fmt.Errorf("sample %d out of range for %d predictions", sample, n)
	}
	if stride < 1 {
		stride = 1
	}

	plane := h * w
	base := sample * 2 * plane

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Predicted flow, sample %d", sample)
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	p.Add(plotter.NewGrid())

	var bases plotter.XYs
	var maxMag float64
	for y := 0; y < h; y += stride {
		for x := 0; x < w; x += stride {
			u := float64(data[base+y*w+x]) * scale
			v := float64(data[base+plane+y*w+x]) * scale
			if mag := math.Hypot(u, v); mag > maxMag {
				maxMag = mag
			}

			// Flip y so the plot matches image orientation.
			seg := plotter.XYs{
				{X: float64(x), Y: float64(h - 1 - y)},
				{X: float64(x) + u, Y: float64(h-1-y) - v},
			}
			line, err := plotter.NewLine(seg)
			if err != nil {
				return err
			}
			line.Color = color.RGBA{R: 200, G: 30, B: 30, A: 200}
			line.Width = vg.Points(0.8)
			p.Add(line)
			bases = append(bases, seg[0])
		}
	}

	pts, err := plotter.NewScatter(bases)
	if err != nil {
		return err
	}
	pts.GlyphStyle.Color = color.RGBA{R: 120, G: 120, B: 120, A: 160}
	pts.GlyphStyle.Radius = vg.Points(1)
	p.Add(pts)

	xmin, xmax, ymin, ymax := autoRange(bases)
	p.X.Min = xmin - maxMag
	p.X.Max = xmax + maxMag
	p.Y.Min = ymin - maxMag
	p.Y.Max = ymax + maxMag

	return p.Save(8*vg.Inch, 6*vg.Inch, outPath)
}

// autoRange computes padded min/max for X and Y for a set of points.
func autoRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin = math.Inf(1)
	xmax = math.Inf(-1)
	ymin = math.Inf(1)
	ymax = math.Inf(-1)
	for _, p := range xs {
		if p.X < xmin {
			xmin = p.X
		}
		if p.X > xmax {
			xmax = p.X
		}
		if p.Y < ymin {
			ymin = p.Y
		}
		if p.Y > ymax {
			ymax = p.Y
		}
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, 0755)
}
