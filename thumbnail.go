package renamebot

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	_ "image/png" // ffmpeg writes frames in PNG
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/maxbolgarin/errm"
	"golang.org/x/image/draw"
)

const thumbnailJPEGQuality = 85

// Thumbnailer creates a thumbnail for the file at src and writes it to dst in JPEG format.
type Thumbnailer interface {
	Generate(ctx context.Context, src, dst string) error
}

// FrameGrabber returns an encoded image of the frame at the provided offset of the media file.
type FrameGrabber func(ctx context.Context, src string, offset time.Duration) ([]byte, error)

// FFmpegThumbnailer takes a frame from a video with ffmpeg and scales it down to fit a square box.
type FFmpegThumbnailer struct {
	grab    FrameGrabber
	offset  time.Duration
	maxSide int
}

// NewFFmpegThumbnailer returns a thumbnailer that runs ffmpeg binary at the provided path.
func NewFFmpegThumbnailer(ffmpegPath string, offset time.Duration, maxSide int) *FFmpegThumbnailer {
	return NewThumbnailer(FFmpegFrameGrabber(ffmpegPath), offset, maxSide)
}

// NewThumbnailer returns a thumbnailer with a custom frame source.
func NewThumbnailer(grab FrameGrabber, offset time.Duration, maxSide int) *FFmpegThumbnailer {
	return &FFmpegThumbnailer{
		grab:    grab,
		offset:  offset,
		maxSide: maxSide,
	}
}

// Generate writes a JPEG thumbnail of the src file to dst.
// Returned error is human readable and it is shown to the user.
func (t *FFmpegThumbnailer) Generate(ctx context.Context, src, dst string) error {
	frame, err := t.grab(ctx, src, t.offset)
	if err != nil {
		return err
	}

	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return errm.Wrap(err, "decode frame")
	}

	return writeJPEG(dst, resizeToFit(img, t.maxSide))
}

// FFmpegFrameGrabber returns a grabber that extracts a single PNG frame with ffmpeg.
func FFmpegFrameGrabber(ffmpegPath string) FrameGrabber {
	return func(ctx context.Context, src string, offset time.Duration) ([]byte, error) {
		var stdout, stderr bytes.Buffer

		cmd := exec.CommandContext(ctx, ffmpegPath,
			"-hide_banner", "-loglevel", "error",
			"-ss", formatOffset(offset),
			"-i", src,
			"-frames:v", "1",
			"-f", "image2pipe",
			"-vcodec", "png",
			"-",
		)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, errm.Wrap(ctx.Err(), "extract frame")
			}
			if msg := lastLine(stderr.String()); msg != "" {
				return nil, errm.New(msg)
			}
			return nil, errm.Wrap(err, "run ffmpeg")
		}
		if stdout.Len() == 0 {
			return nil, errm.New("cannot read video frame")
		}

		return stdout.Bytes(), nil
	}
}

// fitWithin returns dimensions scaled down to fit in a square with side maxSide preserving aspect ratio.
// Dimensions that already fit are returned unchanged.
func fitWithin(width, height, maxSide int) (int, int) {
	if width <= maxSide && height <= maxSide {
		return width, height
	}
	if width >= height {
		return maxSide, max(1, height*maxSide/width)
	}
	return max(1, width*maxSide/height), maxSide
}

func resizeToFit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), maxSide)
	if w == b.Dx() && h == b.Dy() {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	return dst
}

func writeJPEG(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errm.Wrap(err, "create thumbnail file")
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errm.Wrap(closeErr, "close thumbnail file")
		}
	}()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: thumbnailJPEGQuality}); err != nil {
		return errm.Wrap(err, "encode jpeg")
	}

	return nil
}

func formatOffset(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
