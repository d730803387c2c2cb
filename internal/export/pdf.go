// Package export renders a room's drawing into printable documents.
package export

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"CollabBoard/internal/state"
)

const (
	pageMargin  = 15.0 // mm
	titleHeight = 10.0 // mm
	minLineMM   = 0.2
)

// RenderPDF draws ops in log order onto a landscape A4 page, scaled so
// the drawing fits the page, and writes the document to w.
func RenderPDF(w io.Writer, title string, ops []state.Operation) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.Text(pageMargin, pageMargin, title)

	pageW, pageH := pdf.GetPageSize()
	area := state.Rect{
		MinX: pageMargin,
		MinY: pageMargin + titleHeight,
		MaxX: pageW - pageMargin,
		MaxY: pageH - pageMargin,
	}

	if bounds, ok := state.Bounds(ops); ok {
		t := fit(bounds, area)
		pdf.SetLineCapStyle("round")
		pdf.SetLineJoinStyle("round")
		for _, op := range ops {
			drawOperation(pdf, t, op)
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render pdf: %w", err)
	}
	return nil
}

// transform maps canvas coordinates onto the page.
type transform struct {
	scale        float64
	srcX, srcY   float64
	destX, destY float64
}

func (t transform) point(p state.Point) (float64, float64) {
	return t.destX + (p.X-t.srcX)*t.scale, t.destY + (p.Y-t.srcY)*t.scale
}

func fit(src, dest state.Rect) transform {
	scale := 1.0
	if sw, sh := src.Width(), src.Height(); sw > 0 || sh > 0 {
		scale = math.Inf(1)
		if sw > 0 {
			scale = dest.Width() / sw
		}
		if sh > 0 {
			scale = math.Min(scale, dest.Height()/sh)
		}
	}
	return transform{
		scale: scale,
		srcX:  src.MinX,
		srcY:  src.MinY,
		destX: dest.MinX,
		destY: dest.MinY,
	}
}

func drawOperation(pdf *gofpdf.Fpdf, t transform, op state.Operation) {
	r, g, b := 0, 0, 0
	if op.Kind == state.KindErase {
		r, g, b = 255, 255, 255
	} else if cr, cg, cb, ok := parseHexColor(op.Color); ok {
		r, g, b = cr, cg, cb
	}
	pdf.SetDrawColor(r, g, b)
	pdf.SetLineWidth(math.Max(op.Width*t.scale, minLineMM))
	for i := 1; i < len(op.Points); i++ {
		x1, y1 := t.point(op.Points[i-1])
		x2, y2 := t.point(op.Points[i])
		pdf.Line(x1, y1, x2, y2)
	}
}

// parseHexColor parses "#rrggbb" or "#rgb".
func parseHexColor(s string) (r, g, b int, ok bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff), true
}
