package contracts

import (
	"path/filepath"
	"strings"
)

// Container is an output or source file format, identified by its extension.
type Container string

const (
	ContainerMP4  Container = "mp4"
	ContainerMOV  Container = "mov"
	ContainerAVI  Container = "avi"
	ContainerMKV  Container = "mkv"
	ContainerWEBM Container = "webm"
	ContainerFLV  Container = "flv"
	ContainerWMV  Container = "wmv"
	ContainerM4V  Container = "m4v"
	Container3GP  Container = "3gp"
	ContainerOGG  Container = "ogg"
	ContainerMPEG Container = "mpeg"
	ContainerJPG  Container = "jpg"
	ContainerJPEG Container = "jpeg"
	ContainerPNG  Container = "png"
	ContainerGIF  Container = "gif"
	ContainerM3U8 Container = "m3u8"
	ContainerTS   Container = "ts"
)

// ManifestContentType is the MIME type of HLS playlists.
const ManifestContentType = "application/vnd.apple.mpegurl"

var contentTypes = map[Container]string{
	ContainerMP4:  "video/mp4",
	ContainerMOV:  "video/quicktime",
	ContainerAVI:  "video/x-msvideo",
	ContainerMKV:  "video/x-matroska",
	ContainerWEBM: "video/webm",
	ContainerFLV:  "video/x-flv",
	ContainerWMV:  "video/x-ms-wmv",
	ContainerM4V:  "video/x-m4v",
	Container3GP:  "video/3gpp",
	ContainerOGG:  "video/ogg",
	ContainerMPEG: "video/mpeg",
	ContainerJPG:  "image/jpeg",
	ContainerJPEG: "image/jpeg",
	ContainerPNG:  "image/png",
	ContainerGIF:  "image/gif",
	ContainerM3U8: ManifestContentType,
	ContainerTS:   "video/mp2t",
}

// ContentType returns the MIME type for a container.
func ContentType(c Container) (string, bool) {
	ct, ok := contentTypes[Container(strings.ToLower(string(c)))]
	return ct, ok
}

// ContainerFromFileName derives the container from a file extension. The
// second result is false for names without a recognised extension.
func ContainerFromFileName(name string) (Container, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return "", false
	}
	c := Container(ext)
	if _, ok := contentTypes[c]; !ok {
		return "", false
	}
	return c, true
}

// sourceExtensions maps download Content-Type headers to source file
// extensions.
var sourceExtensions = map[string]string{
	"video/mp4":                        "mp4",
	"video/quicktime":                  "mov",
	"video/x-msvideo":                  "avi",
	"video/x-matroska":                 "mkv",
	"video/x-ms-wmv":                   "wmv",
	"video/x-flv":                      "flv",
	"video/webm":                       "webm",
	"video/mpeg":                       "mpeg",
	"video/3gpp":                       "3gp",
	"video/ogg":                        "ogg",
	"video/mp2t":                       "ts",
	"video/x-m4v":                      "m4v",
	"video/dvd":                        "vob",
	"application/vnd.rn-realmedia":     "rm",
	"application/vnd.rn-realmedia-vbr": "rmvb",
	"video/divx":                       "divx",
	"video/x-ms-asf":                   "asf",
	"application/x-shockwave-flash":    "swf",
	"video/x-f4v":                      "f4v",
}

// SourceExtension returns the file extension for a video Content-Type header.
// Parameters such as charset are ignored.
func SourceExtension(contentType string) (string, bool) {
	mediaType := contentType
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	ext, ok := sourceExtensions[strings.ToLower(strings.TrimSpace(mediaType))]
	return ext, ok
}

// IsSourceExtension reports whether ext names a video format the downloader
// accepts.
func IsSourceExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	for _, known := range sourceExtensions {
		if known == ext {
			return true
		}
	}
	return false
}
