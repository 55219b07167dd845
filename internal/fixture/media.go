package fixture

import (
	"fmt"
	"math"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/utils"
)

const (
	videoClockRate   = 90000
	fecPayloadType   = 118
	keyframeInterval = 3 * time.Second
	minFrameBytes    = 16

	fecMediaPackets = 10
	fecPackets      = 2
)

type codecInfo struct {
	name            string
	mimeType        string
	payloadType     uint8
	fourcc          string
	newPayloader    func() rtp.Payloader
	newDepacketizer func() rtp.Depacketizer
}

var codecTable = map[string]codecInfo{
	config.CodecVP8: {
		name:            config.CodecVP8,
		mimeType:        "video/VP8",
		payloadType:     96,
		fourcc:          "VP80",
		newPayloader:    func() rtp.Payloader { return &codecs.VP8Payloader{EnablePictureID: true} },
		newDepacketizer: func() rtp.Depacketizer { return &codecs.VP8Packet{} },
	},
	config.CodecVP9: {
		name:            config.CodecVP9,
		mimeType:        "video/VP9",
		payloadType:     98,
		fourcc:          "VP90",
		newPayloader:    func() rtp.Payloader { return &codecs.VP9Payloader{FlexibleMode: true} },
		newDepacketizer: func() rtp.Depacketizer { return &codecs.VP9Packet{} },
	},
	config.CodecH264: {
		name:            config.CodecH264,
		mimeType:        "video/H264",
		payloadType:     102,
		fourcc:          "H264",
		newPayloader:    func() rtp.Payloader { return &codecs.H264Payloader{} },
		newDepacketizer: func() rtp.Depacketizer { return &codecs.H264Packet{} },
	},
}

func lookupCodec(name string) (codecInfo, error) {
	c, ok := codecTable[name]
	if !ok {
		return codecInfo{}, fmt.Errorf("unsupported codec %q", name)
	}
	return c, nil
}

// track is one RTP stream of the call: a simulcast stream or a spatial layer
type track struct {
	Index             int
	SSRC              uint32
	FECSSRC           uint32
	Width             int
	Height            int
	FPS               int
	BitrateBps        int
	NumTemporalLayers int
	Analyzed          bool
}

func (t *track) Interval() time.Duration {
	return time.Second / time.Duration(t.FPS)
}

// buildTracks resolves the streams or spatial layers a scenario sends
func buildTracks(s config.TestScenario, rng *utils.RandSource) ([]*track, error) {
	sc, err := s.ScalabilitySettings()
	if err != nil {
		return nil, err
	}

	var tracks []*track
	if len(sc.SpatialLayers) > 0 {
		shown := s.SelectedSpatialLayer
		if shown < 0 {
			shown = len(sc.SpatialLayers) - 1
		}
		for i, l := range sc.SpatialLayers {
			tracks = append(tracks, &track{
				Index:             i,
				Width:             l.Width,
				Height:            l.Height,
				FPS:               l.MaxFramerate,
				BitrateBps:        l.TargetBitrateKbps * 1000,
				NumTemporalLayers: l.NumTemporalLayers,
				Analyzed:          i == shown,
			})
		}
	} else {
		active := make(map[int]bool)
		for _, i := range sc.ActiveStreams() {
			active[i] = true
		}
		for i, st := range sc.Streams {
			tracks = append(tracks, &track{
				Index:             i,
				Width:             st.Width,
				Height:            st.Height,
				FPS:               st.MaxFramerate,
				BitrateBps:        st.TargetBitrateBps,
				NumTemporalLayers: st.NumTemporalLayers,
				Analyzed:          active[i],
			})
		}
	}

	for _, t := range tracks {
		if t.FPS <= 0 {
			t.FPS = s.FPS
		}
		if t.NumTemporalLayers < 1 {
			t.NumTemporalLayers = 1
		}
		t.SSRC = newSSRC(rng)
		t.FECSSRC = newSSRC(rng)
	}
	return tracks, nil
}

func newSSRC(rng *utils.RandSource) uint32 {
	return uint32(rng.Float64()*math.MaxUint32) | 1
}

// temporalPattern returns the temporal layer id of each frame in a cycle
func temporalPattern(layers int) []int {
	switch layers {
	case 2:
		return []int{0, 1}
	case 3:
		return []int{0, 2, 1, 2}
	case 4:
		return []int{0, 3, 2, 3, 1, 3, 2, 3}
	default:
		return []int{0}
	}
}

// frame is one encoded frame of a track
type frame struct {
	Index    int64
	Capture  time.Time
	Keyframe bool
	Temporal int
	RefIndex int64 // temporal base frame this frame depends on
	Data     []byte
}

// frameSource stands in for capturer and encoder. Frame sizes follow the
// track bitrate; keyframes are three times larger.
type frameSource struct {
	track   *track
	codec   codecInfo
	clip    []byte
	clipPos int
	rng     *utils.RandSource

	pattern   []int
	keyEvery  int64
	next      int64
	lastBase  int64
	timestamp uint32
}

func newFrameSource(t *track, c codecInfo, clip []byte, rng *utils.RandSource) *frameSource {
	keyEvery := int64(keyframeInterval / t.Interval())
	if keyEvery < 1 {
		keyEvery = 1
	}
	return &frameSource{
		track:    t,
		codec:    c,
		clip:     clip,
		rng:      rng,
		pattern:  temporalPattern(t.NumTemporalLayers),
		keyEvery: keyEvery,
		lastBase: -1,
	}
}

// Samples is the RTP timestamp advance per frame
func (fs *frameSource) Samples() uint32 {
	return uint32(videoClockRate / fs.track.FPS)
}

// Next encodes the frame captured at at
func (fs *frameSource) Next(at time.Time) frame {
	f := frame{
		Index:    fs.next,
		Capture:  at,
		Keyframe: fs.next%fs.keyEvery == 0,
		RefIndex: fs.lastBase,
	}
	if !f.Keyframe {
		f.Temporal = fs.pattern[int(fs.next%fs.keyEvery)%len(fs.pattern)]
	}
	if f.Temporal == 0 {
		fs.lastBase = f.Index
	}
	fs.next++

	avg := float64(fs.track.BitrateBps) / 8 / float64(fs.track.FPS)
	size := avg * (0.9 + 0.2*fs.rng.Float64())
	if f.Keyframe {
		size *= 3
	}
	f.Data = fs.payload(int(math.Max(size, minFrameBytes)), f.Keyframe)
	return f
}

func (fs *frameSource) payload(size int, keyframe bool) []byte {
	data := make([]byte, size)
	for i := range data {
		if len(fs.clip) > 0 {
			data[i] = fs.clip[fs.clipPos]
			fs.clipPos = (fs.clipPos + 1) % len(fs.clip)
		} else {
			data[i] = byte(fs.rng.Float64() * 256)
		}
	}

	switch fs.codec.name {
	case config.CodecH264:
		// Annex B access unit: start code, then one IDR or non-IDR slice.
		// Zero bytes are avoided so the body never contains a start code.
		for i := range data {
			if data[i] == 0 {
				data[i] = 0x80
			}
		}
		if size >= 5 {
			copy(data, []byte{0x00, 0x00, 0x00, 0x01})
			data[4] = 0x41
			if keyframe {
				data[4] = 0x65
			}
		}
	case config.CodecVP8:
		// Frame tag: show_frame set, inverse keyframe bit clear on keyframes.
		data[0] = 0x11
		if keyframe {
			data[0] = 0x10
		}
	}
	return data
}
