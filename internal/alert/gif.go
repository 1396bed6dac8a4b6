package alert

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// BannerHeight is the height in pixels of the warning band drawn on flagged frames.
const BannerHeight = 40

// gifFrameDelay is in 100ths of a second (one frame per second).
const gifFrameDelay = 100

var bannerColor = color.RGBA{R: 255, A: 255}

// ErrNoFrames is returned when no input image could be decoded.
var ErrNoFrames = errors.New("no decodable frames")

// SummaryGIF animates the given frames at one frame per second with a red
// warning banner across the top of each. Frames may be JPEG or PNG whatever
// their stored extension. Undecodable frames are skipped.
func SummaryGIF(frames [][]byte) ([]byte, error) {
	anim := &gif.GIF{}
	for _, data := range frames {
		src, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			continue
		}
		bounds := src.Bounds()
		paletted := image.NewPaletted(bounds, palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, bounds, src, bounds.Min)

		banner := image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, min(bounds.Min.Y+BannerHeight, bounds.Max.Y))
		draw.Draw(paletted, banner, &image.Uniform{C: bannerColor}, image.Point{}, draw.Src)

		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, gifFrameDelay)
	}
	if len(anim.Image) == 0 {
		return nil, ErrNoFrames
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
