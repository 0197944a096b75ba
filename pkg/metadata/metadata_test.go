package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	// smallest header filetype recognises as PNG
	pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}
	// JPEG SOI + JFIF APP0, no EXIF segment
	jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
)

func write(t *testing.T, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, content, 0644))
	return p
}

func TestIsMedia(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  []byte
		expected bool
	}{
		{name: "png", file: "a.png", content: pngHeader, expected: true},
		{name: "jpeg", file: "a.jpg", content: jpegHeader, expected: true},
		{name: "text", file: "notes.txt", content: []byte("just some notes"), expected: false},
		{name: "empty", file: "empty.jpg", content: nil, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := IsMedia(write(t, tt.file, tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestIsMedia_Missing(t *testing.T) {
	_, err := IsMedia(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}

func TestCaptureTime_NoExif(t *testing.T) {
	_, err := CaptureTime(write(t, "a.jpg", jpegHeader))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoCaptureTime))
}

func TestCaptureTime_UnsupportedExtension(t *testing.T) {
	_, err := CaptureTime(write(t, "clip.mov", []byte("moov")))
	assert.True(t, errors.Is(err, ErrNoCaptureTime))
}
