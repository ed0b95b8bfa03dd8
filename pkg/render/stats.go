package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// statsWindow is the number of recent frames averaged for display.
const statsWindow = 60

// Stats tracks frame timing and draws it as a small panel on each frame.
type Stats struct {
	now   func() time.Time
	begin time.Time

	times  [statsWindow]time.Duration
	stamps [statsWindow]time.Time
	count  int
	frames int
}

// NewStats returns a frame timer using the wall clock.
func NewStats() *Stats {
	return &Stats{now: time.Now}
}

// Begin marks the start of a frame.
func (s *Stats) Begin() {
	s.begin = s.now()
}

// End marks the end of a frame begun with Begin.
func (s *Stats) End() {
	end := s.now()
	i := s.frames % statsWindow
	s.times[i] = end.Sub(s.begin)
	s.stamps[i] = end
	s.frames++
	s.count = min(s.count+1, statsWindow)
}

// Frames returns the number of completed frames.
func (s *Stats) Frames() int { return s.frames }

// FrameTime returns the mean frame duration over the recent window.
func (s *Stats) FrameTime() time.Duration {
	if s.count == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < s.count; i++ {
		total += s.times[i]
	}
	return total / time.Duration(s.count)
}

// FPS returns the frame rate over the recent window, measured between the
// end of the oldest and newest frames.
func (s *Stats) FPS() float64 {
	if s.count < 2 {
		return 0
	}
	newest := s.stamps[(s.frames-1)%statsWindow]
	oldest := s.stamps[(s.frames-s.count)%statsWindow]
	span := newest.Sub(oldest)
	if span <= 0 {
		return 0
	}
	return float64(s.count-1) / span.Seconds()
}

// String formats the panel text.
func (s *Stats) String() string {
	return fmt.Sprintf("%.0f FPS %.1f ms", s.FPS(), float64(s.FrameTime().Microseconds())/1000)
}

var (
	statsBackground = image.NewUniform(color.RGBA{R: 0, G: 0, B: 34, A: 230})
	statsForeground = image.NewUniform(color.RGBA{R: 0, G: 255, B: 255, A: 255})
)

// Draw renders the panel into the top left corner of dst.
func (s *Stats) Draw(dst draw.Image) {
	face := basicfont.Face7x13
	text := s.String()
	width := font.MeasureString(face, text).Ceil() + 6
	height := face.Metrics().Height.Ceil() + 4

	panel := image.Rect(0, 0, width, height).Add(dst.Bounds().Min).Intersect(dst.Bounds())
	draw.Draw(dst, panel, statsBackground, image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  dst,
		Src:  statsForeground,
		Face: face,
		Dot:  fixed.P(dst.Bounds().Min.X+3, dst.Bounds().Min.Y+face.Metrics().Ascent.Ceil()+2),
	}
	d.DrawString(text)
}
