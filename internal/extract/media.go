package extract

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/pavelanni/papergen/internal/apperr"
)

// MaxMediaSize is the transcription endpoint's upload limit.
const MaxMediaSize = 25 << 20

// MediaKind is "audio" or "video".
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

var (
	AudioExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm"}
	VideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".mpeg", ".mpg", ".wmv"}
)

// Media validates an upload's extension and size and reports its kind.
func Media(name string, size int64) (MediaKind, error) {
	ext := strings.ToLower(filepath.Ext(name))
	var kind MediaKind
	switch {
	case slices.Contains(AudioExtensions, ext):
		kind = MediaAudio
	case slices.Contains(VideoExtensions, ext):
		kind = MediaVideo
	default:
		all := append(append([]string{}, AudioExtensions...), VideoExtensions...)
		return "", apperr.InvalidRequest("unsupported file format %q, supported formats: %s", ext, strings.Join(all, ", "))
	}
	if size > MaxMediaSize {
		return "", apperr.InvalidRequest("file too large (%.2fMB), maximum size is 25MB", float64(size)/(1<<20))
	}
	return kind, nil
}

// Transcript trims a transcript and checks it is usable.
func Transcript(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.InvalidRequest("no speech could be transcribed from the media file")
	}
	if err := CheckLength(text); err != nil {
		return "", err
	}
	return text, nil
}
