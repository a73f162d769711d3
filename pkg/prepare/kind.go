// Package prepare normalizes uploaded artifacts into the canonical form that
// is fingerprinted and sent for analysis.
package prepare

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Sidhtang/medpassport/pkg/models"
)

var extKinds = map[string]models.ArtifactKind{
	".jpg": models.KindImage, ".jpeg": models.KindImage, ".png": models.KindImage,
	".gif": models.KindImage, ".bmp": models.KindImage, ".webp": models.KindImage,

	".pdf": models.KindPDF,

	".txt": models.KindText, ".csv": models.KindText, ".docx": models.KindText, ".doc": models.KindText,

	// .webm is ambiguous; it resolves to audio.
	".mp3": models.KindAudio, ".wav": models.KindAudio, ".ogg": models.KindAudio, ".m4a": models.KindAudio,
	".aac": models.KindAudio, ".flac": models.KindAudio, ".wma": models.KindAudio, ".webm": models.KindAudio,

	".mp4": models.KindVideo, ".avi": models.KindVideo, ".mov": models.KindVideo, ".wmv": models.KindVideo,
	".flv": models.KindVideo, ".mkv": models.KindVideo, ".m4v": models.KindVideo,
}

// DetectKind classifies an upload by file extension, falling back to content
// sniffing when the extension is missing or unknown.
func DetectKind(fileName string, data []byte) models.ArtifactKind {
	if k, ok := extKinds[strings.ToLower(filepath.Ext(fileName))]; ok {
		return k
	}
	if len(data) == 0 {
		return models.KindUnknown
	}
	return kindFromMIME(mimetype.Detect(data))
}

func kindFromMIME(m *mimetype.MIME) models.ArtifactKind {
	for ; m != nil; m = m.Parent() {
		s := m.String()
		switch {
		case strings.HasPrefix(s, "image/"):
			return models.KindImage
		case m.Is("application/pdf"):
			return models.KindPDF
		case strings.HasPrefix(s, "audio/"):
			return models.KindAudio
		case strings.HasPrefix(s, "video/"):
			return models.KindVideo
		case strings.HasPrefix(s, "text/"):
			return models.KindText
		}
	}
	return models.KindUnknown
}

// MIMEType returns the content type used for inline media parts. Sniffed
// audio and video types win; otherwise the extension decides.
func MIMEType(fileName string, data []byte) string {
	m := mimetype.Detect(data)
	s := m.String()
	if strings.HasPrefix(s, "audio/") || strings.HasPrefix(s, "video/") {
		return s
	}
	if byExt, ok := extMIME[strings.ToLower(filepath.Ext(fileName))]; ok {
		return byExt
	}
	return s
}

var extMIME = map[string]string{
	".mp3": "audio/mpeg", ".wav": "audio/wav", ".ogg": "audio/ogg", ".m4a": "audio/x-m4a",
	".aac": "audio/aac", ".flac": "audio/flac", ".webm": "video/webm",
	".mp4": "video/mp4", ".avi": "video/x-msvideo", ".mov": "video/quicktime",
	".mkv": "video/x-matroska", ".flv": "video/x-flv", ".m4v": "video/x-m4v",
}
