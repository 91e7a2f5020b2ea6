package history

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// DefaultPlotChannels are drawn when no channel is requested.
var DefaultPlotChannels = []Channel{SledCurrent, SledTemp, TecCurrent}

// PlotPNG renders the requested channels against time and saves the image
// to path. The format follows the file extension (.png, .svg, .pdf).
func (b *Buffer) PlotPNG(path string, channels ...Channel) error {
	if len(channels) == 0 {
		channels = DefaultPlotChannels
	}
	snap := b.Snapshot()
	if snap.Len() == 0 {
		return ErrEmpty
	}

	p := plot.New()
	p.Title.Text = "SiPhOG telemetry"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Value"

	for i, c := range channels {
		values, ok := snap.Series[c]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownChannel, int(c))
		}
		pts := make(plotter.XYs, 0, len(values))
		for j, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: snap.Times[j], Y: v})
		}
		if len(pts) == 0 {
			continue
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("plot %s: %w", c, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%s (%s)", c, c.Unit()), line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
