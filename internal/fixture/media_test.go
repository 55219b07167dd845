package fixture

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/utils"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestLookupCodec(t *testing.T) {
	for _, name := range []string{config.CodecVP8, config.CodecVP9, config.CodecH264} {
		c, err := lookupCodec(name)
		if err != nil {
			t.Fatalf("lookupCodec(%s) failed: %v", name, err)
		}
		if c.name != name || c.payloadType == 0 || len(c.fourcc) != 4 {
			t.Errorf("unexpected codec info for %s: %+v", name, c)
		}
	}
	if _, err := lookupCodec("AV1"); err == nil {
		t.Errorf("expected an error for an unsupported codec")
	}
}

func TestBuildTracksSingleStream(t *testing.T) {
	tracks, err := buildTracks(testScenario(t, nil), utils.NewRandSource(1))
	if err != nil {
		t.Fatalf("buildTracks failed: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	tr := tracks[0]
	if tr.Width != 640 || tr.Height != 480 || tr.FPS != 30 {
		t.Errorf("unexpected geometry %dx%d@%d", tr.Width, tr.Height, tr.FPS)
	}
	if tr.BitrateBps != 800000 {
		t.Errorf("expected 800000 bps, got %d", tr.BitrateBps)
	}
	if !tr.Analyzed {
		t.Errorf("expected the only track to be analyzed")
	}
	if tr.SSRC == 0 || tr.FECSSRC == 0 {
		t.Errorf("expected non-zero SSRCs, got %d/%d", tr.SSRC, tr.FECSSRC)
	}
	if tr.NumTemporalLayers != 1 {
		t.Errorf("expected 1 temporal layer, got %d", tr.NumTemporalLayers)
	}
}

func TestBuildTracksInferredStreams(t *testing.T) {
	s := testScenario(t, map[string]any{"num_streams": 3, "selected_stream": 1})
	tracks, err := buildTracks(s, utils.NewRandSource(1))
	if err != nil {
		t.Fatalf("buildTracks failed: %v", err)
	}
	if len(tracks) != 3 {
		t.Fatalf("expected 3 tracks, got %d", len(tracks))
	}
	wantWidths := []int{160, 320, 640}
	for i, tr := range tracks {
		if tr.Index != i {
			t.Errorf("track %d has index %d", i, tr.Index)
		}
		if tr.Width != wantWidths[i] {
			t.Errorf("track %d: expected width %d, got %d", i, wantWidths[i], tr.Width)
		}
		if tr.Analyzed != (i == 1) {
			t.Errorf("track %d: analyzed=%v", i, tr.Analyzed)
		}
	}
}

func TestBuildTracksAllStreamsSelected(t *testing.T) {
	s := testScenario(t, map[string]any{"num_streams": 2, "selected_stream": 2})
	tracks, err := buildTracks(s, utils.NewRandSource(1))
	if err != nil {
		t.Fatalf("buildTracks failed: %v", err)
	}
	for _, tr := range tracks {
		if !tr.Analyzed {
			t.Errorf("track %d should be analyzed when all streams are selected", tr.Index)
		}
	}
}

func TestBuildTracksSpatialLayers(t *testing.T) {
	s := testScenario(t, map[string]any{"codec_name": "VP9", "num_spatial_layers": 3})
	tracks, err := buildTracks(s, utils.NewRandSource(1))
	if err != nil {
		t.Fatalf("buildTracks failed: %v", err)
	}
	if len(tracks) != 3 {
		t.Fatalf("expected 3 layers, got %d", len(tracks))
	}
	if tracks[0].Width != 160 || tracks[2].Width != 640 {
		t.Errorf("unexpected layer widths %d..%d", tracks[0].Width, tracks[2].Width)
	}
	if tracks[0].BitrateBps != 50000 || tracks[2].BitrateBps != 800000 {
		t.Errorf("unexpected layer bitrates %d..%d", tracks[0].BitrateBps, tracks[2].BitrateBps)
	}
	for i, tr := range tracks {
		if tr.Analyzed != (i == 2) {
			t.Errorf("layer %d: analyzed=%v, expected only the top layer", i, tr.Analyzed)
		}
	}
}

func TestTemporalPattern(t *testing.T) {
	tests := []struct {
		layers int
		want   []int
	}{
		{1, []int{0}},
		{2, []int{0, 1}},
		{3, []int{0, 2, 1, 2}},
		{4, []int{0, 3, 2, 3, 1, 3, 2, 3}},
	}
	for _, tt := range tests {
		if got := temporalPattern(tt.layers); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("temporalPattern(%d) = %v, want %v", tt.layers, got, tt.want)
		}
	}
}

func TestFrameSourceStructure(t *testing.T) {
	tr := &track{FPS: 30, BitrateBps: 800000, NumTemporalLayers: 3}
	fs := newFrameSource(tr, codecTable[config.CodecVP8], nil, utils.NewRandSource(3))

	if fs.Samples() != 3000 {
		t.Errorf("expected 3000 samples per frame, got %d", fs.Samples())
	}

	want := []struct {
		keyframe bool
		temporal int
		ref      int64
	}{
		{true, 0, -1},
		{false, 2, 0},
		{false, 1, 0},
		{false, 2, 0},
		{false, 0, 0},
		{false, 2, 4},
	}
	var frames []frame
	for i := 0; i < 91; i++ {
		frames = append(frames, fs.Next(epoch.Add(time.Duration(i)*tr.Interval())))
	}
	for i, w := range want {
		f := frames[i]
		if f.Index != int64(i) || f.Keyframe != w.keyframe || f.Temporal != w.temporal || f.RefIndex != w.ref {
			t.Errorf("frame %d: got key=%v tl=%d ref=%d", i, f.Keyframe, f.Temporal, f.RefIndex)
		}
	}
	if !frames[90].Keyframe {
		t.Errorf("expected a keyframe every 3 seconds")
	}

	key, delta := len(frames[0].Data), len(frames[1].Data)
	if key < 9000 || key > 11000 {
		t.Errorf("keyframe size %d outside [9000, 11000]", key)
	}
	if delta < 3000 || delta > 3667 {
		t.Errorf("delta frame size %d outside [3000, 3667]", delta)
	}
	if frames[0].Data[0] != 0x10 || frames[1].Data[0] != 0x11 {
		t.Errorf("unexpected VP8 frame tags %#x %#x", frames[0].Data[0], frames[1].Data[0])
	}
}

func TestFrameSourceH264AccessUnits(t *testing.T) {
	tr := &track{FPS: 30, BitrateBps: 300000, NumTemporalLayers: 1}
	fs := newFrameSource(tr, codecTable[config.CodecH264], nil, utils.NewRandSource(5))

	key := fs.Next(epoch)
	delta := fs.Next(epoch.Add(tr.Interval()))
	for _, f := range []frame{key, delta} {
		if !bytes.HasPrefix(f.Data, []byte{0, 0, 0, 1}) {
			t.Fatalf("frame %d has no start code", f.Index)
		}
		if bytes.IndexByte(f.Data[4:], 0) != -1 {
			t.Errorf("frame %d body contains a zero byte", f.Index)
		}
	}
	if key.Data[4] != 0x65 || delta.Data[4] != 0x41 {
		t.Errorf("unexpected NAL headers %#x %#x", key.Data[4], delta.Data[4])
	}
}

func TestFrameSourceUsesClip(t *testing.T) {
	clip := []byte("abcdef")
	tr := &track{FPS: 10, BitrateBps: 8000, NumTemporalLayers: 1}
	fs := newFrameSource(tr, codecTable[config.CodecVP8], clip, utils.NewRandSource(1))

	f := fs.Next(epoch)
	for i := 1; i < len(f.Data); i++ {
		if f.Data[i] != clip[i%len(clip)] {
			t.Fatalf("byte %d: expected %q, got %q", i, clip[i%len(clip)], f.Data[i])
		}
	}
}
