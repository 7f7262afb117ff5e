package video

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/maskguard/maskguard/internal/pipeline"
	"github.com/maskguard/maskguard/pkg/models"
)

// Encoder assembles a directory of rendered frames into a video artifact.
type Encoder interface {
	EncodeVideo(frameDir, outputPath string, fps int) error
}

// frameAnnotation is one line of the record artifact: everything needed to
// reproduce the boxes and alert markers drawn on the sampled frame.
type frameAnnotation struct {
	Frame      int                        `json:"frame"`
	Detections []pipeline.DetectionResult `json:"detections"`
	Alert      bool                       `json:"alert"`
}

// Annotator renders detection boxes and labels onto each sampled frame and
// assembles the rendered frames into the output video on Finish. A JSON-lines
// record of the annotations is written incrementally alongside, so a failed
// job still leaves partial output for diagnostics.
type Annotator struct {
	encoder    Encoder
	fps        int
	frameDir   string
	videoPath  string
	recordPath string
	recordFile *os.File
	enc        *json.Encoder
	frames     int
}

// NewAnnotator creates the record artifact at recordPath and a scratch
// directory for rendered frames; the annotated video lands at videoPath.
func NewAnnotator(encoder Encoder, videoPath, recordPath string, fps int) (*Annotator, error) {
	f, err := os.Create(recordPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create annotation record: %w", err)
	}
	frameDir, err := os.MkdirTemp("", "maskguard_render_")
	if err != nil {
		f.Close()
		os.Remove(recordPath)
		return nil, fmt.Errorf("failed to create render directory: %w", err)
	}
	return &Annotator{
		encoder:    encoder,
		fps:        fps,
		frameDir:   frameDir,
		videoPath:  videoPath,
		recordPath: recordPath,
		recordFile: f,
		enc:        json.NewEncoder(f),
	}, nil
}

// WriteFrame renders the frame's detections and appends its record line.
func (a *Annotator) WriteFrame(frameIndex int, frame image.Image, result pipeline.FrameResult) error {
	rendered := renderFrame(frame, result.Detections)
	path := filepath.Join(a.frameDir, fmt.Sprintf("frame_%06d.jpg", a.frames))
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create rendered frame: %w", err)
	}
	if err := jpeg.Encode(out, rendered, &jpeg.Options{Quality: 90}); err != nil {
		out.Close()
		return fmt.Errorf("failed to encode rendered frame: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	a.frames++

	return a.enc.Encode(frameAnnotation{
		Frame:      frameIndex,
		Detections: result.Detections,
		Alert:      result.Alert,
	})
}

// Finish closes the record, assembles the rendered frames into the annotated
// video, and returns both artifact paths. The scratch frames are removed
// either way.
func (a *Annotator) Finish() (videoRef, recordRef string, err error) {
	defer os.RemoveAll(a.frameDir)
	if err := a.recordFile.Close(); err != nil {
		return "", "", err
	}
	if a.frames == 0 {
		return "", "", errors.New("no frames rendered")
	}
	if err := a.encoder.EncodeVideo(a.frameDir, a.videoPath, a.fps); err != nil {
		return "", "", err
	}
	return a.videoPath, a.recordPath, nil
}

// Abort discards the rendered frames without assembling a video. The partial
// record file is kept for diagnostics.
func (a *Annotator) Abort() {
	a.recordFile.Close()
	os.RemoveAll(a.frameDir)
}

var labelColors = map[models.Label]color.RGBA{
	models.LabelMaskOn:        {G: 200, A: 255},
	models.LabelNoMask:        {R: 220, A: 255},
	models.LabelMaskIncorrect: {R: 255, G: 140, A: 255},
}

// renderFrame copies the frame and draws a colored border plus a caption bar
// for every detection. The input frame is never mutated.
func renderFrame(frame image.Image, detections []pipeline.DetectionResult) *image.RGBA {
	bounds := frame.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, frame, bounds.Min, draw.Src)

	for _, d := range detections {
		col, ok := labelColors[d.Label]
		if !ok {
			col = color.RGBA{R: 255, G: 255, B: 255, A: 255}
		}
		box := image.Rect(d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
		drawBorder(dst, box, col, 2)
		drawCaption(dst, box, fmt.Sprintf("%s: %.2f", d.Label, d.Confidence), col)
	}
	return dst
}

func drawBorder(dst *image.RGBA, box image.Rectangle, col color.RGBA, thickness int) {
	src := image.NewUniform(col)
	strips := []image.Rectangle{
		image.Rect(box.Min.X, box.Min.Y, box.Max.X, box.Min.Y+thickness),
		image.Rect(box.Min.X, box.Max.Y-thickness, box.Max.X, box.Max.Y),
		image.Rect(box.Min.X, box.Min.Y, box.Min.X+thickness, box.Max.Y),
		image.Rect(box.Max.X-thickness, box.Min.Y, box.Max.X, box.Max.Y),
	}
	for _, s := range strips {
		draw.Draw(dst, s.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawCaption paints a filled bar above the box and the label text in white,
// falling back to inside the box when there is no room above it.
func drawCaption(dst *image.RGBA, box image.Rectangle, text string, col color.RGBA) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil() + 4
	height := face.Metrics().Height.Ceil() + 2

	top := box.Min.Y - height
	if top < dst.Bounds().Min.Y {
		top = box.Min.Y
	}
	bar := image.Rect(box.Min.X, top, box.Min.X+width, top+height)
	draw.Draw(dst, bar.Intersect(dst.Bounds()), image.NewUniform(col), image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(box.Min.X+2, top+face.Metrics().Ascent.Ceil()),
	}
	drawer.DrawString(text)
}
