package charts

import (
	"fmt"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// defaultDPI matches the print resolution of the published figures.
const defaultDPI = 300

// savePNG rasterizes a tile grid of plots into a single PNG. Nil cells
// are left blank.
func savePNG(path string, dpi int, w, h vg.Length, rows [][]*plot.Plot) error {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return fmt.Errorf("save %s: empty plot grid", path)
	}
	img := vgimg.NewWith(vgimg.UseWH(w, h), vgimg.UseDPI(dpi))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: len(rows),
		Cols: len(rows[0]),
		PadX: vg.Points(4),
		PadY: vg.Points(4),
	}
	canvases := plot.Align(rows, tiles, dc)
	for i, row := range rows {
		for j, p := range row {
			if p != nil {
				p.Draw(canvases[i][j])
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save chart: %w", err)
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("save chart: %w", err)
	}
	return f.Close()
}
