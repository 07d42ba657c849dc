package contracts

import (
	"fmt"
	"strings"
)

// EncodingID names one target rendition of a video.
type EncodingID string

const (
	Encoding360p         EncodingID = "360p"
	Encoding480p         EncodingID = "480p"
	Encoding720p         EncodingID = "720p"
	Encoding1080p        EncodingID = "1080p"
	EncodingPreview      EncodingID = "preview"
	EncodingPreview360p  EncodingID = "preview_360p"
	EncodingPreview480p  EncodingID = "preview_480p"
	EncodingPreview720p  EncodingID = "preview_720p"
	EncodingPreview1080p EncodingID = "preview_1080p"
	EncodingThumbnail    EncodingID = "thumbnail"
	// EncodingThumbnails is the plural spelling some producers send. It
	// classifies like EncodingThumbnail but is kept verbatim on the wire.
	EncodingThumbnails   EncodingID = "thumbnails"
)

// Kind partitions encoding ids into the three job types the encoder knows how
// to run.
type Kind int

const (
	KindUnknown Kind = iota
	KindFullVideo
	KindPreview
	KindThumbnails
)

func (k Kind) String() string {
	switch k {
	case KindFullVideo:
		return "full_video"
	case KindPreview:
		return "preview"
	case KindThumbnails:
		return "thumbnails"
	default:
		return "unknown"
	}
}

// encodingKinds is the single source of truth for classification. Adding an id
// means adding it here.
var encodingKinds = map[EncodingID]Kind{
	Encoding360p:         KindFullVideo,
	Encoding480p:         KindFullVideo,
	Encoding720p:         KindFullVideo,
	Encoding1080p:        KindFullVideo,
	EncodingPreview:      KindPreview,
	EncodingPreview360p:  KindPreview,
	EncodingPreview480p:  KindPreview,
	EncodingPreview720p:  KindPreview,
	EncodingPreview1080p: KindPreview,
	EncodingThumbnail:    KindThumbnails,
	EncodingThumbnails:   KindThumbnails,
}

// Classify maps an encoding id to its job kind. Ids outside the closed set
// return KindUnknown and an error.
func Classify(id EncodingID) (Kind, error) {
	if kind, ok := encodingKinds[id]; ok {
		return kind, nil
	}
	return KindUnknown, fmt.Errorf("unrecognized encoding id %q", string(id))
}

// ParseEncodingID normalizes user input into a known encoding id. The plural
// "thumbnails" is accepted for the thumbnail sheet.
func ParseEncodingID(raw string) (EncodingID, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "thumbnails" {
		value = string(EncodingThumbnail)
	}
	id := EncodingID(value)
	if _, err := Classify(id); err != nil {
		return "", err
	}
	return id, nil
}

// IsFullVideo reports whether id contributes a rendition to the HLS ladder.
func IsFullVideo(id EncodingID) bool {
	kind, err := Classify(id)
	return err == nil && kind == KindFullVideo
}

// EncodingIDs returns every canonical encoding id in ladder order. Aliases
// are not listed.
func EncodingIDs() []EncodingID {
	return []EncodingID{
		Encoding360p, Encoding480p, Encoding720p, Encoding1080p,
		EncodingPreview, EncodingPreview360p, EncodingPreview480p, EncodingPreview720p, EncodingPreview1080p,
		EncodingThumbnail,
	}
}

// EncodingSpec fully describes one rendition. Bitrate is in kbit/s.
type EncodingSpec struct {
	ID        EncodingID `json:"id" toml:"id"`
	Container Container  `json:"container" toml:"container"`
	Width     int        `json:"width" toml:"width"`
	Height    int        `json:"height" toml:"height"`
	Bitrate   *int       `json:"bitrate,omitempty" toml:"bitrate,omitempty"`
	FPS       *int       `json:"fps,omitempty" toml:"fps,omitempty"`
}

// Validate checks the spec is internally consistent. It does not reject
// unknown ids; classification is the encoder's decision.
func (s EncodingSpec) Validate() error {
	if strings.TrimSpace(string(s.ID)) == "" {
		return fmt.Errorf("encoding.id is required")
	}
	if _, ok := ContentType(s.Container); !ok {
		return fmt.Errorf("encoding.container %q is not supported", string(s.Container))
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("encoding dimensions must be positive (got %dx%d)", s.Width, s.Height)
	}
	if s.Bitrate != nil && *s.Bitrate <= 0 {
		return fmt.Errorf("encoding.bitrate must be positive")
	}
	if s.FPS != nil && *s.FPS <= 0 {
		return fmt.Errorf("encoding.fps must be positive")
	}
	return nil
}

// BitrateValue returns the bitrate or 0 when unset.
func (s EncodingSpec) BitrateValue() int {
	if s.Bitrate == nil {
		return 0
	}
	return *s.Bitrate
}

// FPSValue returns the frame rate or 0 when unset.
func (s EncodingSpec) FPSValue() int {
	if s.FPS == nil {
		return 0
	}
	return *s.FPS
}

// IntPtr is a small helper for building specs in code.
func IntPtr(v int) *int {
	return &v
}
