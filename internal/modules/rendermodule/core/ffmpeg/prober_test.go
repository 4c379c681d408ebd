package ffmpeg

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockOutputRunner returns canned ffprobe output
type MockOutputRunner struct {
	Data    []byte
	Err     error
	Name    string
	Args    []string
}

func (m *MockOutputRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.Name = name
	m.Args = args
	return m.Data, m.Err
}

const gifProbe = `{
  "streams": [
    {"codec_type": "video", "codec_name": "gif", "width": 320, "height": 180,
     "avg_frame_rate": "15/1", "r_frame_rate": "15/1", "duration": "N/A"}
  ],
  "format": {"duration": "2.400000"}
}`

func TestMediaProberProbe(t *testing.T) {
	runner := &MockOutputRunner{Data: []byte(gifProbe)}
	prober := NewMediaProber(hclog.NewNullLogger(), "/usr/bin/ffprobe", runner)

	info, err := prober.Probe(context.Background(), "/tmp/a.gif")
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/ffprobe", runner.Name)
	assert.Equal(t, "/tmp/a.gif", runner.Args[len(runner.Args)-1])
	assert.Contains(t, runner.Args, "-show_streams")

	assert.True(t, info.DimensionsKnown)
	assert.Equal(t, 320, info.Width)
	assert.Equal(t, 180, info.Height)
	assert.True(t, info.DurationKnown)
	assert.InDelta(t, 2.4, info.DurationSec, 1e-9)
	assert.InDelta(t, 15.0, info.FrameRate, 1e-9)
	assert.Equal(t, "gif", info.Codec)

	shape := info.Shape()
	assert.Equal(t, 320, shape.Width)
	assert.True(t, shape.DurationKnown)
}

func TestMediaProberError(t *testing.T) {
	prober := NewMediaProber(hclog.NewNullLogger(), "", &MockOutputRunner{Err: errors.New("exit status 1")})

	_, err := prober.Probe(context.Background(), "/missing.gif")
	assert.ErrorContains(t, err, "ffprobe failed")
}

func TestParseProbeOutputUnknownAxes(t *testing.T) {
	tests := []struct {
		name          string
		json          string
		dimsKnown     bool
		durationKnown bool
		duration      float64
	}{
		{
			name:      "no duration anywhere",
			json:      `{"streams":[{"codec_type":"video","width":64,"height":64}],"format":{"duration":"N/A"}}`,
			dimsKnown: true,
		},
		{
			name:          "stream duration fallback",
			json:          `{"streams":[{"codec_type":"video","width":64,"height":64,"duration":"1.5"}],"format":{}}`,
			dimsKnown:     true,
			durationKnown: true,
			duration:      1.5,
		},
		{
			name:          "audio only",
			json:          `{"streams":[{"codec_type":"audio"}],"format":{"duration":"3.0"}}`,
			durationKnown: true,
			duration:      3,
		},
		{
			name: "zero sizes are unknown",
			json: `{"streams":[{"codec_type":"video","width":0,"height":0}],"format":{"duration":"0"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParseProbeOutput([]byte(tt.json))
			require.NoError(t, err)
			assert.Equal(t, tt.dimsKnown, info.DimensionsKnown)
			assert.Equal(t, tt.durationKnown, info.DurationKnown)
			assert.InDelta(t, tt.duration, info.DurationSec, 1e-9)
		})
	}

	_, err := ParseProbeOutput([]byte("not json"))
	assert.Error(t, err)
}

func TestParseRate(t *testing.T) {
	assert.InDelta(t, 29.97, parseRate("30000/1001"), 0.001)
	assert.Equal(t, 0.0, parseRate("0/0"))
	assert.Equal(t, 25.0, parseRate("25"))
}
