package stitcher

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"transcoder/internal/blobstore"
	"transcoder/internal/services"
)

const (
	manifestExt      = ".m3u8"
	segmentExt       = ".ts"
	playlistPrefix   = "playlist_"
	masterPrefix     = "master"
	bitsPerKilobit   = 1000
	manifestHeader   = "#EXTM3U\n"
	streamInfoFormat = "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n"
)

// ErrNoRenditions is returned by BuildMasterManifest when the listing holds
// no per-rendition manifests.
var ErrNoRenditions = errors.New("no rendition manifests")

// segmentSuffix matches the "_000" counter ffmpeg appends to HLS segments.
var segmentSuffix = regexp.MustCompile(`_\d+$`)

// Rendition is one stream-info entry of a master manifest.
type Rendition struct {
	Label    string
	Width    int
	Height   int
	Bitrate  int // kbit/s
	Playlist string
}

// Manifest is a rendered master manifest and the key it is stored under.
type Manifest struct {
	Key        string
	Content    string
	Renditions []Rendition
}

// MasterKey returns "{videoId}/master_{labels joined by _}.m3u8".
func MasterKey(videoID string, labels []string) string {
	return path.Join(videoID, masterPrefix+"_"+strings.Join(labels, "_")+manifestExt)
}

// IsMasterManifest reports whether a blob is a master manifest.
func IsMasterManifest(b blobstore.Blob) bool {
	name := b.Name()
	return strings.HasSuffix(name, manifestExt) && strings.HasPrefix(name, masterPrefix)
}

// BuildMasterManifest renders the master manifest for every rendition
// manifest in blobs. It is pure: the same listing always yields the same key
// and content.
func BuildMasterManifest(videoID string, blobs []blobstore.Blob) (Manifest, error) {
	labels := renditionLabels(blobs)
	if len(labels) == 0 {
		return Manifest{}, ErrNoRenditions
	}

	renditions := make([]Rendition, 0, len(labels))
	var content strings.Builder
	content.WriteString(manifestHeader)
	for _, label := range labels {
		rendition, err := findRendition(videoID, label, blobs)
		if err != nil {
			return Manifest{}, err
		}
		renditions = append(renditions, rendition)
		fmt.Fprintf(&content, streamInfoFormat, rendition.Bitrate*bitsPerKilobit, rendition.Width, rendition.Height)
		content.WriteString(rendition.Playlist)
		content.WriteByte('\n')
	}

	return Manifest{
		Key:        MasterKey(videoID, labels),
		Content:    content.String(),
		Renditions: renditions,
	}, nil
}

// renditionLabels returns the labels of every per-rendition manifest, sorted
// by the height they encode.
func renditionLabels(blobs []blobstore.Blob) []string {
	seen := map[string]bool{}
	var labels []string
	for _, b := range blobs {
		name := b.Name()
		if !strings.HasSuffix(name, manifestExt) || IsMasterManifest(b) {
			continue
		}
		label := strings.TrimPrefix(strings.TrimSuffix(name, manifestExt), playlistPrefix)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		hi, iok := labelHeight(labels[i])
		hj, jok := labelHeight(labels[j])
		switch {
		case iok && jok && hi != hj:
			return hi < hj
		case iok != jok:
			return iok
		default:
			return labels[i] < labels[j]
		}
	})
	return labels
}

func labelHeight(label string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSuffix(label, "p"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// findRendition locates the first segment under {videoId}/{label}/ whose name
// encodes {width}x{height}x{bitrate}.
func findRendition(videoID, label string, blobs []blobstore.Blob) (Rendition, error) {
	dir := path.Join(videoID, label) + "/"
	for _, b := range blobs {
		if !strings.HasPrefix(b.Key, dir) || !strings.HasSuffix(b.Key, segmentExt) {
			continue
		}
		width, height, bitrate, ok := parseSegmentName(b.Name())
		if !ok {
			continue
		}
		return Rendition{
			Label:    label,
			Width:    width,
			Height:   height,
			Bitrate:  bitrate,
			Playlist: path.Join(label, playlistPrefix+label+manifestExt),
		}, nil
	}
	return Rendition{}, services.Wrap(services.ErrValidation, "stitcher", "locate segment",
		fmt.Sprintf("no {width}x{height}x{bitrate} segment found for resolution %s", label), nil)
}

func parseSegmentName(name string) (width, height, bitrate int, ok bool) {
	stem := segmentSuffix.ReplaceAllString(strings.TrimSuffix(name, segmentExt), "")
	parts := strings.Split(stem, "x")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	values := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return 0, 0, 0, false
		}
		values[i] = n
	}
	return values[0], values[1], values[2], true
}
