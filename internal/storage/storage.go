package storage

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"

	"github.com/maskguard/maskguard/pkg/models"
)

// ErrFileTooLarge is returned when an upload exceeds its configured limit.
var ErrFileTooLarge = errors.New("file exceeds size limit")

// Service manages uploaded videos/images and alert snapshots on local disk.
// The contract the core depends on is save(bytes) -> path; everything else
// is layout.
type Service struct {
	uploadsDir  string
	outputsDir  string
	capturesDir string
}

// New creates a storage service, ensuring the directories exist.
func New(uploadsDir, outputsDir, capturesDir string) (*Service, error) {
	for _, dir := range []string{uploadsDir, outputsDir, capturesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Service{
		uploadsDir:  uploadsDir,
		outputsDir:  outputsDir,
		capturesDir: capturesDir,
	}, nil
}

// UniqueFilename builds a collision-free filename keeping the original
// extension.
func UniqueFilename(original, prefix string) string {
	ext := filepath.Ext(original)
	stamp := time.Now().Format("20060102_150405")
	id := uuid.New().String()[:8]
	if prefix != "" {
		return fmt.Sprintf("%s_%s_%s%s", prefix, stamp, id, ext)
	}
	return fmt.Sprintf("%s_%s%s", stamp, id, ext)
}

// SaveUpload streams an upload to the uploads directory, enforcing maxBytes
// when it is positive. The partial file is removed on failure.
func (s *Service) SaveUpload(r io.Reader, originalName string, maxBytes int64) (string, error) {
	path := filepath.Join(s.uploadsDir, UniqueFilename(originalName, ""))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	written, err := io.Copy(f, src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && maxBytes > 0 && written > maxBytes {
		err = ErrFileTooLarge
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// OutputPath returns a path in the outputs directory for a derived artifact.
func (s *Service) OutputPath(filename string) string {
	return filepath.Join(s.outputsDir, filename)
}

// SaveSnapshot crops the face region out of the frame and writes it as a
// JPEG under the captures directory, returning the saved path.
func (s *Service) SaveSnapshot(frame image.Image, box models.Box, prefix string) (string, error) {
	if err := box.Validate(); err != nil {
		return "", err
	}

	crop := image.Rect(box.X1, box.Y1, box.X2, box.Y2).Intersect(frame.Bounds())
	if crop.Empty() {
		return "", fmt.Errorf("snapshot box [%d %d %d %d] outside frame bounds", box.X1, box.Y1, box.X2, box.Y2)
	}

	dst := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	xdraw.Copy(dst, image.Point{}, frame, crop, xdraw.Src, nil)

	path := filepath.Join(s.capturesDir, UniqueFilename("snapshot.jpg", prefix))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	if err := jpeg.Encode(f, dst, &jpeg.Options{Quality: 90}); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
