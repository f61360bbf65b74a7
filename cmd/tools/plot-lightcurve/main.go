// plot-lightcurve renders one object's stored light curve to a PNG.
package main

import (
	"flag"
	"image/color"
	"log"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/halo-data/lightcurve.report/db"
	"github.com/halo-data/lightcurve.report/internal/astro/storage/sqlite"
)

var (
	dbFile   = flag.String("db", "lightcurve.db", "Path to the sqlite database")
	objectID = flag.String("object", "", "Object identifier to plot")
	out      = flag.String("out", "", "Output PNG path (default <object>.png)")
)

func main() {
	flag.Parse()
	if *objectID == "" {
		log.Fatal("-object is required")
	}
	outPath := *out
	if outPath == "" {
		outPath = *objectID + ".png"
	}

	d, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer d.Close()

	rec, err := sqlite.NewStore(d.DB).GetObjectRecord(*objectID)
	if err != nil {
		log.Fatalf("failed to load light curve for %s: %v", *objectID, err)
	}

	good := make(plotter.XYs, 0, len(rec.Points))
	flagged := make(plotter.XYs, 0)
	t0 := rec.Points[0].Epoch
	for _, pt := range rec.Points {
		xy := plotter.XY{X: pt.Epoch.Sub(t0).Hours(), Y: pt.Mag}
		if pt.LowQuality {
			flagged = append(flagged, xy)
		} else {
			good = append(good, xy)
		}
	}

	p := plot.New()
	p.Title.Text = "Light curve " + *objectID
	p.X.Label.Text = "Hours since first epoch"
	p.Y.Label.Text = "mag"

	if len(good) > 0 {
		s, err := plotter.NewScatter(good)
		if err != nil {
			log.Fatalf("failed to build scatter: %v", err)
		}
		s.GlyphStyle.Radius = vg.Points(2)
		p.Add(s)
		p.Legend.Add("good", s)
	}
	if len(flagged) > 0 {
		s, err := plotter.NewScatter(flagged)
		if err != nil {
			log.Fatalf("failed to build scatter: %v", err)
		}
		s.GlyphStyle.Radius = vg.Points(2)
		s.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
		p.Add(s)
		p.Legend.Add("low quality", s)
	}

	if err := p.Save(10*vg.Inch, 5*vg.Inch, outPath); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}
	log.Printf("wrote %s: %d points spanning %s", outPath, len(rec.Points), rec.Span())
}
