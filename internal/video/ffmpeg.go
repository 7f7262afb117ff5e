package video

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// FFmpegOpener extracts sampled frames from a video file by shelling out to
// ffmpeg, then iterates the resulting JPEG directory. Sampling happens at
// extraction time, so the job manager only ever sees frames it will process.
type FFmpegOpener struct {
	FFmpegPath string // binary name or absolute path
	WorkDir    string // parent for temp frame directories; "" means os temp
}

// NewFFmpegOpener creates an opener using the given ffmpeg binary.
func NewFFmpegOpener(ffmpegPath string) *FFmpegOpener {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegOpener{FFmpegPath: ffmpegPath}
}

// Open implements Opener.
func (o *FFmpegOpener) Open(videoRef string, sampleFPS int) (Source, error) {
	if sampleFPS < 1 {
		return nil, fmt.Errorf("sample fps must be >= 1, got %d", sampleFPS)
	}
	if _, err := os.Stat(videoRef); err != nil {
		return nil, fmt.Errorf("video not readable: %w", err)
	}

	tmpDir, err := os.MkdirTemp(o.WorkDir, "maskguard_frames_")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}

	cmd := exec.Command(o.FFmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", videoRef,
		"-vf", fmt.Sprintf("fps=%d", sampleFPS),
		"-q:v", "3",
		filepath.Join(tmpDir, "frame_%06d.jpg"),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("ffmpeg frame extraction failed: %v: %s", err, out)
	}

	src, err := NewDirSource(tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}
	src.removeOnClose = true
	if src.TotalFrames() == 0 {
		src.Close()
		return nil, fmt.Errorf("no frames extracted from %s", videoRef)
	}
	return src, nil
}

// FFmpegEncoder assembles rendered JPEG frames into an H.264 mp4 by shelling
// out to ffmpeg. It is the inverse of FFmpegOpener's extraction step.
type FFmpegEncoder struct {
	FFmpegPath string // binary name or absolute path
}

// NewFFmpegEncoder creates an encoder using the given ffmpeg binary.
func NewFFmpegEncoder(ffmpegPath string) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegEncoder{FFmpegPath: ffmpegPath}
}

// EncodeVideo implements Encoder. The playback rate matches the sampling
// rate, so the annotated video runs at the source video's wall-clock pace.
func (e *FFmpegEncoder) EncodeVideo(frameDir, outputPath string, fps int) error {
	if fps < 1 {
		fps = 1
	}
	cmd := exec.Command(e.FFmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-framerate", strconv.Itoa(fps),
		"-i", filepath.Join(frameDir, "frame_%06d.jpg"),
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg video assembly failed: %v: %s", err, out)
	}
	return nil
}
