// Package extractor wraps the external metadata-extraction tool (yt-dlp)
// and the external transcoder (ffmpeg) behind a single adapter, normalising
// their outputs and failures into Fetcharr's vocabulary.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	ffmpegt "github.com/floostack/transcoder/ffmpeg"
	"github.com/hbomb79/Fetcharr/internal/profile"
	"github.com/hbomb79/Fetcharr/pkg/logger"
	"github.com/lrstanley/go-ytdlp"
)

var log = logger.Get("Extractor")

// Some hosts block requests carrying the default tool user-agent; present
// a browser one instead (matches the behaviour of the upstream tool's
// recommended configuration).
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

const shortDescriptionRunes = 200

type (
	Config struct {
		FfmpegBinPath  string `yaml:"ffmpeg_binary" env:"FORMAT_FFMPEG_BINARY_PATH"`
		FfprobeBinPath string `yaml:"ffprobe_binary" env:"FORMAT_FFPROBE_BINARY_PATH"`
	}

	// AudioTrack is one source audio format candidate, as reported by the
	// extraction tool.
	AudioTrack struct {
		FormatID    string  `json:"format_id"`
		Ext         string  `json:"ext"`
		BitrateKbps float64 `json:"abr"`
		Note        string  `json:"format_note"`
	}

	// Metadata is the normalised result of probing a source URL without
	// downloading it.
	Metadata struct {
		Title            string
		DurationSeconds  int
		ThumbnailURL     string
		Channel          string
		ViewCount        int64
		AudioTracks      []AudioTrack
		ShortDescription string
	}

	// Result carries the outcome of a completed execution: where the
	// artifact landed and the title the tool resolved for it.
	Result struct {
		Path  string
		Title string
	}

	// ProgressSink receives percentage updates (0-100, non-decreasing)
	// while an execution is in flight.
	ProgressSink func(percent float64)

	ToolStatus struct {
		ExtractorAvailable bool
		FfmpegAvailable    bool
		FfmpegPath         string
	}

	Extractor struct {
		ffmpegPath  string
		ffprobePath string
	}
)

// New locates the external binaries this adapter depends on. A missing
// ffmpeg does not fail construction; it is reported via ToolStatus and
// surfaces as a ToolUnavailable error when an execution actually needs it.
func New(config Config) *Extractor {
	return &Extractor{
		ffmpegPath:  locateBinary(config.FfmpegBinPath, "ffmpeg"),
		ffprobePath: locateBinary(config.FfprobeBinPath, "ffprobe"),
	}
}

// locateBinary resolves the path of an external tool, preferring an
// explicitly configured path, then the system PATH, then /usr/bin (hosting
// environments commonly run with a stripped-down PATH). Empty return
// means the tool could not be found.
func locateBinary(configured string, name string) string {
	if configured != "" {
		if _, err := os.Stat(configured); err == nil {
			return configured
		}

		log.Warnf("Configured path for %s (%s) does not exist, falling back to PATH lookup\n", name, configured)
	}

	if path, err := exec.LookPath(name); err == nil {
		return path
	}

	fallback := "/usr/bin/" + name
	if _, err := os.Stat(fallback); err == nil {
		return fallback
	}

	return ""
}

// ToolStatus reports the availability of the external tools so the system
// status endpoint can surface a missing transcoder proactively, rather
// than it only appearing as cryptic per-job failures.
func (e *Extractor) ToolStatus() ToolStatus {
	_, lookErr := exec.LookPath("yt-dlp")

	return ToolStatus{
		ExtractorAvailable: lookErr == nil,
		FfmpegAvailable:    e.ffmpegPath != "",
		FfmpegPath:         e.ffmpegPath,
	}
}

// rawMetadata mirrors the subset of the extraction tool's JSON dump that
// Fetcharr cares about.
type rawMetadata struct {
	Title       string  `json:"title"`
	Duration    float64 `json:"duration"`
	Thumbnail   string  `json:"thumbnail"`
	Channel     string  `json:"channel"`
	ViewCount   int64   `json:"view_count"`
	Description string  `json:"description"`
	Formats     []struct {
		FormatID   string  `json:"format_id"`
		Ext        string  `json:"ext"`
		Abr        float64 `json:"abr"`
		Acodec     string  `json:"acodec"`
		FormatNote string  `json:"format_note"`
	} `json:"formats"`
}

// FetchMetadata probes the source URL without downloading, returning the
// normalised metadata including the five highest-bitrate audio tracks.
func (e *Extractor) FetchMetadata(ctx context.Context, sourceURL string) (*Metadata, error) {
	dl := ytdlp.New().
		Quiet().
		NoWarnings().
		SkipDownload().
		DumpSingleJSON().
		UserAgent(browserUserAgent)

	result, err := dl.Run(ctx, sourceURL)
	if err != nil {
		return nil, classifyToolError(err, KindExtractionFailed)
	}

	var raw rawMetadata
	if err := json.Unmarshal([]byte(result.Stdout), &raw); err != nil {
		return nil, newError(KindExtractionFailed, fmt.Errorf("malformed metadata dump: %w", err))
	}

	tracks := make([]AudioTrack, 0)
	for _, format := range raw.Formats {
		if format.Acodec == "none" || format.Acodec == "" {
			continue
		}

		tracks = append(tracks, AudioTrack{
			FormatID:    format.FormatID,
			Ext:         format.Ext,
			BitrateKbps: format.Abr,
			Note:        format.FormatNote,
		})
	}

	sort.Slice(tracks, func(i, j int) bool { return tracks[i].BitrateKbps > tracks[j].BitrateKbps })
	if len(tracks) > 5 {
		tracks = tracks[:5]
	}

	return &Metadata{
		Title:            raw.Title,
		DurationSeconds:  int(raw.Duration),
		ThumbnailURL:     raw.Thumbnail,
		Channel:          raw.Channel,
		ViewCount:        raw.ViewCount,
		AudioTracks:      tracks,
		ShortDescription: truncateDescription(raw.Description),
	}, nil
}

func truncateDescription(description string) string {
	runes := []rune(description)
	if len(runes) <= shortDescriptionRunes {
		return description
	}

	return string(runes[:shortDescriptionRunes]) + "..."
}

// Execute downloads and transcodes the source URL according to the profile
// provided, writing the artifact to outputStem.<container>. Progress from
// the underlying tool is relayed to the sink as a percentage; the sink is
// invoked zero or more times and never with a regressing value (the job
// model additionally enforces monotonicity on its side).
func (e *Extractor) Execute(ctx context.Context, sourceURL string, p profile.Profile, outputStem string, sink ProgressSink) (*Result, error) {
	// Every catalog profile routes through ffmpeg (audio extraction, or
	// the mp4 merge of separate AV streams), so detect its absence up
	// front rather than letting the tool fail mid-run.
	if e.ffmpegPath == "" {
		return nil, newError(KindToolUnavailable, errors.New("ffmpeg binary could not be located on this host"))
	}

	dl := ytdlp.New().
		NoWarnings().
		Output(outputStem+".%(ext)s").
		FFmpegLocation(e.ffmpegPath).
		ConcurrentFragments(4).
		EmbedThumbnail().
		EmbedMetadata().
		UserAgent(browserUserAgent)

	if p.IsVideo() {
		dl = dl.
			Format(fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", p.TargetHeight, p.TargetHeight)).
			MergeOutputFormat("mp4")
	} else {
		dl = dl.
			Format("bestaudio/best").
			ExtractAudio().
			AudioFormat(p.Codec).
			AudioQuality(fmt.Sprintf("%dk", p.BitrateKbps))
	}

	var lastPercent float64
	dl = dl.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
		if update.TotalBytes <= 0 {
			return
		}

		percent := float64(update.DownloadedBytes) / float64(update.TotalBytes) * 100
		if percent < lastPercent {
			return
		}

		lastPercent = percent
		sink(percent)
	})

	result, err := dl.Run(ctx, sourceURL)
	if err != nil {
		return nil, classifyToolError(err, KindExecutionFailed)
	}

	title := ""
	artifactPath := fmt.Sprintf("%s.%s", outputStem, p.Container)
	if info, infoErr := result.GetExtractedInfo(); infoErr == nil && len(info) > 0 {
		if info[0].Title != nil {
			title = *info[0].Title
		}

		// Prefer the tool's reported final path when it exists on disk;
		// post-processing can change the extension it initially reports.
		if info[0].Filename != nil {
			if _, statErr := os.Stat(*info[0].Filename); statErr == nil {
				artifactPath = *info[0].Filename
			}
		}
	}

	return &Result{Path: artifactPath, Title: title}, nil
}

// VerifyArtifact confirms that the path reported by the extraction tool
// holds a real, non-empty media file, returning its size. When ffprobe is
// available the file is additionally probed, so a truncated or corrupt
// container is caught before the job is marked completed.
func (e *Extractor) VerifyArtifact(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, newError(KindExecutionFailed, fmt.Errorf("artifact missing at reported path %s: %w", path, err))
	}

	if info.Size() == 0 {
		return 0, newError(KindExecutionFailed, fmt.Errorf("artifact at %s is empty", path))
	}

	if e.ffprobePath != "" {
		cfg := &ffmpegt.Config{FfmpegBinPath: e.ffmpegPath, FfprobeBinPath: e.ffprobePath}
		if _, probeErr := ffmpegt.New(cfg).Input(path).GetMetadata(); probeErr != nil {
			return 0, newError(KindExecutionFailed, fmt.Errorf("artifact at %s failed probe: %w", path, probeErr))
		}
	}

	return info.Size(), nil
}
