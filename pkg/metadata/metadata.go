// Package metadata extracts the optional facts the scanner can attach to a file:
// the EXIF capture time and whether the file is an image or video at all.
package metadata

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/rwcarlsen/goexif/exif"
)

// headerSize is enough for filetype to recognise every supported format.
const headerSize = 261

// exifExts lists extensions that may carry an EXIF block goexif can decode.
var exifExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".heic": true,
	".dng":  true,
	".arw":  true,
	".cr2":  true,
	".nef":  true,
}

// ErrNoCaptureTime is returned when a file has no usable EXIF date.
var ErrNoCaptureTime = errors.New("no capture time")

// CaptureTime returns the EXIF DateTimeOriginal (or DateTime) of path.
func CaptureTime(path string) (time.Time, error) {
	if !exifExts[strings.ToLower(filepath.Ext(path))] {
		return time.Time{}, ErrNoCaptureTime
	}

	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "open %q", path)
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrNoCaptureTime, "decode exif: %v", err)
	}

	t, err := x.DateTime()
	if err != nil || t.IsZero() {
		return time.Time{}, ErrNoCaptureTime
	}

	return t, nil
}

// IsMedia reports whether the header of path identifies an image or a video.
func IsMedia(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, errors.Wrapf(err, "open %q", path)
	}
	defer f.Close()

	head := make([]byte, headerSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, errors.Wrapf(err, "read header %q", path)
	}
	head = head[:n]

	return filetype.IsImage(head) || filetype.IsVideo(head), nil
}
