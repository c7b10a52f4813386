package extractor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"framegrab/internal/logging"
)

var errFrameTooSmall = errors.New("frame too small for overlay")

var boxColor = color.NRGBA{A: 160}

// overlay draws the timestamp label and subtitle text onto frames.
type overlay struct {
	font *opentype.Font
}

// newOverlay loads fontPath (TrueType or OpenType) or the bundled Go font.
func newOverlay(fontPath string) (*overlay, error) {
	if fontPath != "" {
		data, err := os.ReadFile(fontPath)
		if err == nil {
			var f *opentype.Font
			if f, err = opentype.Parse(data); err == nil {
				return &overlay{font: f}, nil
			}
		}
		logging.Warn("Failed to load font %s, using built-in font: %v", fontPath, err)
	}

	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse built-in font: %w", err)
	}
	return &overlay{font: f}, nil
}

func (o *overlay) face(size int) (font.Face, error) {
	return opentype.NewFace(o.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// draw returns a copy of img with label in the top-left corner and text,
// if any, centered along the bottom edge.
func (o *overlay) draw(img image.Image, label, text string) (image.Image, error) {
	dst := imaging.Clone(img)
	b := dst.Bounds()
	if b.Dx() < 32 || b.Dy() < 32 {
		return nil, errFrameTooSmall
	}

	labelFace, err := o.face(max(10, b.Dy()/28))
	if err != nil {
		return nil, err
	}
	defer labelFace.Close()

	margin := max(4, b.Dy()/60)
	drawBoxed(dst, labelFace, []string{label}, func(w, _ int) image.Point {
		return image.Pt(b.Min.X+margin, b.Min.Y+margin)
	})

	text = sanitize(text)
	if text == "" {
		return dst, nil
	}

	textFace, err := o.face(max(12, b.Dy()/18))
	if err != nil {
		return nil, err
	}
	defer textFace.Close()

	lines := wrap(textFace, text, b.Dx()*9/10)
	drawBoxed(dst, textFace, lines, func(w, h int) image.Point {
		return image.Pt(b.Min.X+(b.Dx()-w)/2, b.Max.Y-h-margin*2)
	})
	return dst, nil
}

// drawBoxed renders lines over a translucent box. place receives the box
// size and returns its top-left corner.
func drawBoxed(dst *image.NRGBA, face font.Face, lines []string, place func(w, h int) image.Point) {
	m := face.Metrics()
	lineH := m.Height.Ceil()
	ascent := m.Ascent.Ceil()
	pad := max(2, lineH/4)

	widths := make([]int, len(lines))
	textW := 0
	for i, l := range lines {
		widths[i] = font.MeasureString(face, l).Ceil()
		textW = max(textW, widths[i])
	}

	boxW, boxH := textW+2*pad, len(lines)*lineH+2*pad
	at := place(boxW, boxH)
	box := image.Rect(at.X, at.Y, at.X+boxW, at.Y+boxH).Intersect(dst.Bounds())
	draw.Draw(dst, box, image.NewUniform(boxColor), image.Point{}, draw.Over)

	d := &font.Drawer{Dst: dst, Src: image.White, Face: face}
	for i, l := range lines {
		x := at.X + pad + (textW-widths[i])/2
		y := at.Y + pad + ascent + i*lineH
		d.Dot = fixed.P(x, y)
		d.DrawString(l)
	}
}

// sanitize replaces invalid UTF-8 and drops control characters other than
// newlines.
func sanitize(s string) string {
	s = strings.ToValidUTF8(s, "�")
	s = strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// wrap splits text on newlines and wraps each line to maxW pixels. Words
// wider than maxW, including unspaced scripts, are broken by rune.
func wrap(face font.Face, text string, maxW int) []string {
	var out []string
	for _, para := range strings.Split(text, "\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		line := ""
		for _, word := range strings.Fields(para) {
			candidate := word
			if line != "" {
				candidate = line + " " + word
			}
			if font.MeasureString(face, candidate).Ceil() <= maxW {
				line = candidate
				continue
			}
			if line != "" {
				out = append(out, line)
				line = ""
			}
			for _, r := range word {
				next := line + string(r)
				if line != "" && font.MeasureString(face, next).Ceil() > maxW {
					out = append(out, line)
					next = string(r)
				}
				line = next
			}
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// FormatLabel renders seconds as m:ss, or h:mm:ss past an hour.
func FormatLabel(seconds float64) string {
	total := int64(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
