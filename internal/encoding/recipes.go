package encoding

import (
	"fmt"
	"path/filepath"
	"strconv"

	"transcoder/internal/contracts"
	"transcoder/internal/services"
)

const (
	previewSeconds   = 4
	thumbnailEvery   = 10
	thumbnailFrames  = 800
	thumbnailScale   = "320:240"
	thumbnailTile    = "20x40"
	framesDirName    = ".frames"
	defaultHLSLength = 6
)

// Job is everything needed to plan the ffmpeg runs for one request.
type Job struct {
	Source         string
	Spec           contracts.EncodingSpec
	Dir            string
	Duration       float64
	SegmentSeconds int
}

// pass is one engine invocation and its share of the job's progress.
type pass struct {
	inv    Invocation
	weight float64
}

// PlaylistName is the per-rendition manifest written for a full-video job.
func PlaylistName(id contracts.EncodingID) string {
	return "playlist_" + string(id) + ".m3u8"
}

// SegmentPrefix encodes a rendition's geometry and bitrate into its segment
// file names, e.g. "1280x720x2800". The stitcher reads it back.
func SegmentPrefix(spec contracts.EncodingSpec) string {
	return fmt.Sprintf("%dx%dx%d", spec.Width, spec.Height, spec.BitrateValue())
}

// FramesDir is the scratch directory for thumbnail frames.
func FramesDir(jobDir string) string {
	return filepath.Join(jobDir, framesDirName)
}

func plan(kind contracts.Kind, job Job) ([]pass, error) {
	switch kind {
	case contracts.KindFullVideo:
		return fullVideoPlan(job)
	case contracts.KindPreview:
		return previewPlan(job), nil
	case contracts.KindThumbnails:
		return thumbnailPlan(job), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "encoder", "plan encode",
			fmt.Sprintf("no recipe for %s job %q", kind, job.Spec.ID), nil)
	}
}

func fullVideoPlan(job Job) ([]pass, error) {
	spec := job.Spec
	if spec.BitrateValue() <= 0 {
		return nil, services.Wrap(services.ErrValidation, "encoder", "plan encode",
			fmt.Sprintf("rendition %q has no bitrate", spec.ID), nil)
	}
	segment := job.SegmentSeconds
	if segment <= 0 {
		segment = defaultHLSLength
	}
	opts := scaleOptions(spec)
	opts = append(opts,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", strconv.Itoa(segment),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(job.Dir, SegmentPrefix(spec)+"_%03d.ts"),
	)
	return []pass{{
		inv: Invocation{
			Input:         job.Source,
			OutputOptions: opts,
			Output:        filepath.Join(job.Dir, PlaylistName(spec.ID)),
			Duration:      job.Duration,
		},
		weight: 1,
	}}, nil
}

func previewPlan(job Job) []pass {
	opts := []string{"-ss", "00:00:00", "-t", strconv.Itoa(previewSeconds), "-an"}
	opts = append(opts, scaleOptions(job.Spec)...)
	duration := job.Duration
	if duration > previewSeconds {
		duration = previewSeconds
	}
	return []pass{{
		inv: Invocation{
			Input:         job.Source,
			OutputOptions: opts,
			Output:        outputFile(job),
			Duration:      duration,
		},
		weight: 1,
	}}
}

func thumbnailPlan(job Job) []pass {
	frames := filepath.Join(FramesDir(job.Dir), "thumb%03d.png")
	return []pass{
		{
			inv: Invocation{
				Input: job.Source,
				OutputOptions: []string{
					"-vf", fmt.Sprintf("fps=1/%d,scale=%s", thumbnailEvery, thumbnailScale),
					"-frames:v", strconv.Itoa(thumbnailFrames),
				},
				Output:   frames,
				Duration: job.Duration,
			},
			weight: 0.9,
		},
		{
			inv: Invocation{
				Input:         frames,
				OutputOptions: []string{"-filter_complex", "tile=" + thumbnailTile, "-frames:v", "1"},
				Output:        outputFile(job),
			},
			weight: 0.1,
		},
	}
}

// scaleOptions renders the geometry, bitrate and frame-rate flags shared by
// renditions and previews.
func scaleOptions(spec contracts.EncodingSpec) []string {
	opts := []string{"-vf", fmt.Sprintf("scale=%d:%d", spec.Width, spec.Height)}
	if bitrate := spec.BitrateValue(); bitrate > 0 {
		opts = append(opts, "-b:v", strconv.Itoa(bitrate)+"k")
	}
	if fps := spec.FPSValue(); fps > 0 {
		opts = append(opts, "-r", strconv.Itoa(fps))
	}
	return opts
}

func outputFile(job Job) string {
	return filepath.Join(job.Dir, string(job.Spec.ID)+"."+string(job.Spec.Container))
}
