package tracker

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Plot saves a PNG line plot of the named series of s to filename
func Plot(s *Series, title, filename string, names ...string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Step"

	for i, name := range names {
		tracked := s.Get(name)
		if len(tracked) == 0 {
			return fmt.Errorf("plot: no values tracked for %v", name)
		}

		points := make(plotter.XYs, len(tracked))
		for j, point := range tracked {
			points[j] = plotter.XY{X: float64(point.Step), Y: point.Value}
		}

		line, err := plotter.NewLine(points)
		if err != nil {
			return fmt.Errorf("plot: %v: %w", name, err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(name, line)
	}

	if err := p.Save(8*vg.Inch, 8*vg.Inch, filename); err != nil {
		return fmt.Errorf("plot: could not save %v: %w", filename, err)
	}
	return nil
}
