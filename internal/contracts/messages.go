package contracts

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Message is implemented by every payload that travels over the broker.
type Message interface {
	Validate() error
}

// VideoIngested announces a new upload that still has to be fetched.
type VideoIngested struct {
	VideoID        string    `json:"videoId"`
	VideoURL       string    `json:"videoUrl"`
	VideoContainer Container `json:"videoContainer,omitempty"`
}

// VideoDownloaded announces a source file available on shared storage.
type VideoDownloaded struct {
	VideoID        string    `json:"videoId"`
	Location       string    `json:"location"`
	VideoContainer Container `json:"videoContainer"`
}

// VideoEncodingRequested asks the encoder to produce one rendition.
type VideoEncodingRequested struct {
	VideoID        string       `json:"videoId"`
	Location       string       `json:"location"`
	VideoContainer Container    `json:"videoContainer"`
	Encoding       EncodingSpec `json:"encoding"`
}

// VideoEncoded announces a finished job directory.
type VideoEncoded struct {
	VideoID            string     `json:"videoId"`
	ArtifactsDirectory string     `json:"artifactsDirectory"`
	EncodingID         EncodingID `json:"encodingId"`
}

// VideoArtifactsUploaded announces that a job's files are in the blob store.
type VideoArtifactsUploaded struct {
	VideoID    string     `json:"videoId"`
	EncodingID EncodingID `json:"encodingId"`
}

func (m VideoIngested) Validate() error {
	if err := validateVideoID(m.VideoID); err != nil {
		return err
	}
	if err := validateVideoURL(m.VideoURL); err != nil {
		return err
	}
	if m.VideoContainer != "" && !IsSourceExtension(string(m.VideoContainer)) {
		return fmt.Errorf("videoContainer %q is not supported", string(m.VideoContainer))
	}
	return nil
}

func (m VideoDownloaded) Validate() error {
	if err := validateVideoID(m.VideoID); err != nil {
		return err
	}
	if err := validateAbsPath("location", m.Location); err != nil {
		return err
	}
	return validateSourceContainer(m.VideoContainer)
}

func (m VideoEncodingRequested) Validate() error {
	if err := validateVideoID(m.VideoID); err != nil {
		return err
	}
	if err := validateAbsPath("location", m.Location); err != nil {
		return err
	}
	if err := validateSourceContainer(m.VideoContainer); err != nil {
		return err
	}
	return m.Encoding.Validate()
}

func (m VideoEncoded) Validate() error {
	if err := validateVideoID(m.VideoID); err != nil {
		return err
	}
	if err := validateAbsPath("artifactsDirectory", m.ArtifactsDirectory); err != nil {
		return err
	}
	if strings.TrimSpace(string(m.EncodingID)) == "" {
		return fmt.Errorf("encodingId is required")
	}
	return nil
}

func (m VideoArtifactsUploaded) Validate() error {
	if err := validateVideoID(m.VideoID); err != nil {
		return err
	}
	if strings.TrimSpace(string(m.EncodingID)) == "" {
		return fmt.Errorf("encodingId is required")
	}
	return nil
}

func validateVideoID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("videoId is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("videoId %q is not a uuid", id)
	}
	return nil
}

func validateAbsPath(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	if !filepath.IsAbs(value) {
		return fmt.Errorf("%s %q must be an absolute path", field, value)
	}
	return nil
}

func validateSourceContainer(c Container) error {
	if strings.TrimSpace(string(c)) == "" {
		return fmt.Errorf("videoContainer is required")
	}
	if !IsSourceExtension(string(c)) {
		return fmt.Errorf("videoContainer %q is not supported", string(c))
	}
	return nil
}

// validateVideoURL requires https. Plain http is tolerated for loopback hosts
// so local fixtures can be served without TLS.
func validateVideoURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("videoUrl is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("videoUrl: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("videoUrl %q has no host", raw)
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(parsed.Hostname()) {
			return nil
		}
	}
	return fmt.Errorf("videoUrl %q must use https", raw)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
