package flavor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadValues(t *testing.T) {
	_, err := New(Spec{BitDepth: 12})
	require.Error(t, err)

	_, err = New(Spec{Format: "mp3"})
	require.Error(t, err)

	_, err = New(Spec{SamplingRate: 11025})
	require.Error(t, err)

	_, err = New(Spec{BitDepth: 32, Format: "flac"})
	require.Error(t, err)
}

func TestNewNormalizesDeprecatedSamplingRateAlias(t *testing.T) {
	s, err := New(Spec{SamplingRate: 22500})
	require.NoError(t, err)
	assert.Equal(t, int32(22050), s.SamplingRate)
}

func TestNewForcesMixdownFalseForSingleChannel(t *testing.T) {
	s, err := New(Spec{Channels: []int{0}, Mixdown: true})
	require.NoError(t, err)
	assert.False(t, s.Mixdown)
}

func TestDefaultFlavorIDIsSentinel(t *testing.T) {
	s, err := New(Spec{})
	require.NoError(t, err)
	assert.True(t, s.IsDefault())
	assert.Equal(t, "default", s.ID())
}

func TestIDIsStableAndDistinctByContent(t *testing.T) {
	a, _ := New(Spec{SamplingRate: 16000})
	b, _ := New(Spec{SamplingRate: 16000})
	c, _ := New(Spec{SamplingRate: 44100})

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
	assert.Len(t, a.ID(), 8)
}

func TestDestinationSwapsExtensionOnlyWhenFormatSet(t *testing.T) {
	s, _ := New(Spec{Format: "wav"})
	assert.Equal(t, "audio/a.wav", s.Destination("audio/a.flac"))
	assert.Equal(t, "audio/a.wav", s.Destination("audio/a.wav"))

	unset, _ := New(Spec{})
	assert.Equal(t, "audio/a.flac", unset.Destination("audio/a.flac"))
}

func TestNeedsConversion(t *testing.T) {
	s, _ := New(Spec{SamplingRate: 16000})
	assert.True(t, s.NeedsConversion(SourceProps{Format: "wav", SamplingRate: 44100, Channels: 1}))
	assert.False(t, s.NeedsConversion(SourceProps{Format: "wav", SamplingRate: 16000, Channels: 1}))

	mixdown, _ := New(Spec{Mixdown: true})
	assert.True(t, mixdown.NeedsConversion(SourceProps{Channels: 2}))
	assert.False(t, mixdown.NeedsConversion(SourceProps{Channels: 1}))
}

func TestResolveChannelsHandlesNegativeIndices(t *testing.T) {
	resolved, err := ResolveChannels([]int{0, -1}, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, resolved)

	_, err = ResolveChannels([]int{5}, 4)
	require.Error(t, err)
}
