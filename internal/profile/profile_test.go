package profile_test

import (
	"testing"

	"github.com/hbomb79/Fetcharr/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Catalog_LookupKnownKeys(t *testing.T) {
	t.Parallel()
	catalog := profile.NewCatalog()

	video := catalog.Lookup("mp4_720")
	assert.Equal(t, "mp4_720", video.Key)
	assert.True(t, video.IsVideo())
	assert.Equal(t, 720, video.TargetHeight)
	assert.Equal(t, "mp4", video.Container)

	audio := catalog.Lookup("flac")
	assert.Equal(t, "flac", audio.Key)
	assert.False(t, audio.IsVideo())
	assert.Equal(t, "flac", audio.Codec)
}

func Test_Catalog_UnknownKeyFallsBackToDefault(t *testing.T) {
	t.Parallel()
	catalog := profile.NewCatalog()

	for _, key := range []string{"", "8k_hdr", "MP3_320"} {
		p := catalog.Lookup(key)
		assert.Equal(t, profile.DefaultProfileKey, p.Key, "key %q should fall back to the default profile", key)
	}

	assert.True(t, catalog.Contains(profile.DefaultProfileKey))
	assert.False(t, catalog.Contains("8k_hdr"))
}

func Test_Catalog_AudioCodecMatchesContainer(t *testing.T) {
	t.Parallel()
	catalog := profile.NewCatalog()

	// The extraction tool names the extracted artifact <stem>.<codec>, so
	// an audio profile whose codec is not its container would declare an
	// artifact path that is never written.
	for _, p := range catalog.All() {
		if p.IsVideo() {
			continue
		}

		assert.Equal(t, p.Container, p.Codec, "profile %s declares a container its codec does not produce", p.Key)
		assert.NotZero(t, p.BitrateKbps, "profile %s has no target bitrate", p.Key)
	}
}

func Test_Catalog_ContainersCoverEveryProfile(t *testing.T) {
	t.Parallel()
	catalog := profile.NewCatalog()

	containers := catalog.Containers()
	require.NotEmpty(t, containers)
	for _, p := range catalog.All() {
		assert.Contains(t, containers, p.Container)
	}

	// The sweeper must be able to distinguish foreign files by extension
	assert.NotContains(t, containers, "txt")
}
