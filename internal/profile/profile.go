package profile

import "fmt"

type MediaType int

const (
	Audio MediaType = iota
	Video
)

func (t MediaType) String() string {
	if t == Video {
		return "video"
	}

	return "audio"
}

// Profile describes a single selectable output quality. Video profiles
// constrain the maximum height of the selected source format, audio
// profiles name the codec and bitrate the extracted audio is transcoded to.
type Profile struct {
	Key          string
	DisplayName  string
	MediaType    MediaType
	Container    string
	TargetHeight int
	BitrateKbps  int
	Codec        string
}

func (p Profile) IsVideo() bool { return p.MediaType == Video }

func (p Profile) String() string {
	return fmt.Sprintf("Profile{key=%s type=%s container=%s}", p.Key, p.MediaType, p.Container)
}

// DefaultProfileKey is the profile used when a request carries no format
// key, or one that the catalog does not recognise. Unknown keys are
// deliberately NOT an error; request validation only rejects on a
// missing/malformed URL.
const DefaultProfileKey = "mp3_320"

// Catalog is the set of output qualities the server offers. It is
// constructed once at startup and never mutated, so lookups require
// no synchronisation.
type Catalog struct {
	profiles map[string]Profile
	ordered  []Profile
}

func NewCatalog() *Catalog {
	profiles := []Profile{
		{Key: "mp4_1080", DisplayName: "MP4 Full HD (1080p)", MediaType: Video, Container: "mp4", TargetHeight: 1080},
		{Key: "mp4_720", DisplayName: "MP4 HD (720p)", MediaType: Video, Container: "mp4", TargetHeight: 720},
		{Key: "mp4_480", DisplayName: "MP4 SD (480p)", MediaType: Video, Container: "mp4", TargetHeight: 480},
		{Key: "mp4_360", DisplayName: "MP4 Low (360p)", MediaType: Video, Container: "mp4", TargetHeight: 360},
		{Key: "mp3_320", DisplayName: "MP3 Ultra HD", MediaType: Audio, Container: "mp3", BitrateKbps: 320, Codec: "mp3"},
		{Key: "mp3_256", DisplayName: "MP3 High Quality", MediaType: Audio, Container: "mp3", BitrateKbps: 256, Codec: "mp3"},
		{Key: "mp3_192", DisplayName: "MP3 Standard", MediaType: Audio, Container: "mp3", BitrateKbps: 192, Codec: "mp3"},
		{Key: "flac", DisplayName: "FLAC Lossless", MediaType: Audio, Container: "flac", BitrateKbps: 1411, Codec: "flac"},
		{Key: "m4a", DisplayName: "M4A/AAC", MediaType: Audio, Container: "m4a", BitrateKbps: 256, Codec: "m4a"},
		{Key: "opus", DisplayName: "OPUS", MediaType: Audio, Container: "opus", BitrateKbps: 160, Codec: "opus"},
		{Key: "wav", DisplayName: "WAV", MediaType: Audio, Container: "wav", BitrateKbps: 1411, Codec: "wav"},
	}

	byKey := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		byKey[p.Key] = p
	}

	return &Catalog{profiles: byKey, ordered: profiles}
}

// Lookup returns the profile for the key provided, falling back to the
// default profile when the key is unknown or empty.
func (catalog *Catalog) Lookup(key string) Profile {
	if p, ok := catalog.profiles[key]; ok {
		return p
	}

	return catalog.profiles[DefaultProfileKey]
}

// Contains reports whether the key names a profile in this catalog.
func (catalog *Catalog) Contains(key string) bool {
	_, ok := catalog.profiles[key]
	return ok
}

// All returns the catalog's profiles in their display order.
func (catalog *Catalog) All() []Profile { return catalog.ordered }

// Containers returns the set of file extensions this catalog can
// produce. The retention sweeper uses this to recognise which files in
// the shared artifact directory belong to the server.
func (catalog *Catalog) Containers() map[string]struct{} {
	exts := make(map[string]struct{}, len(catalog.ordered))
	for _, p := range catalog.ordered {
		exts[p.Container] = struct{}{}
	}

	return exts
}
