package memes

import (
	"bytes"
	"fmt"
	"image/color"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	CardWidth  = 1200
	CardHeight = 630
	cardMargin = 80
)

var (
	cardBackground = color.NRGBA{R: 0x1f, G: 0x23, B: 0x2b, A: 0xff}
	cardCaption    = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	cardFootnote   = color.NRGBA{R: 0x9a, G: 0xa4, B: 0xb2, A: 0xff}
)

// CardRenderer draws caption cards. Font faces are not safe for concurrent
// use, so each Render call builds its own.
type CardRenderer struct {
	font *truetype.Font
}

func NewCardRenderer() (*CardRenderer, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return &CardRenderer{font: f}, nil
}

func (r *CardRenderer) face(size float64) font.Face {
	return truetype.NewFace(r.font, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// Render returns a PNG with the caption centered and the headline underneath.
func (r *CardRenderer) Render(caption, headline string) ([]byte, error) {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return nil, fmt.Errorf("empty caption")
	}
	dc := gg.NewContext(CardWidth, CardHeight)
	dc.SetColor(cardBackground)
	dc.Clear()

	width := float64(CardWidth - 2*cardMargin)

	captionFace := r.face(64)
	defer captionFace.Close()
	dc.SetFontFace(captionFace)
	dc.SetColor(cardCaption)
	dc.DrawStringWrapped(caption, CardWidth/2, CardHeight/2-40, 0.5, 0.5, width, 1.3, gg.AlignCenter)

	if h := strings.TrimSpace(headline); h != "" {
		footFace := r.face(28)
		defer footFace.Close()
		dc.SetFontFace(footFace)
		dc.SetColor(cardFootnote)
		dc.DrawStringWrapped(h, CardWidth/2, CardHeight-cardMargin, 0.5, 1, width, 1.2, gg.AlignCenter)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}
