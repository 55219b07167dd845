package config

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultMaxQP is the quantizer ceiling used when a descriptor leaves it out.
const DefaultMaxQP = 56

// VideoStream is the resolved encoder configuration of one simulcast stream.
type VideoStream struct {
	Width             int `json:"width"`
	Height            int `json:"height"`
	MaxFramerate      int `json:"max_framerate"`
	MinBitrateBps     int `json:"min_bitrate_bps"`
	TargetBitrateBps  int `json:"target_bitrate_bps"`
	MaxBitrateBps     int `json:"max_bitrate_bps"`
	MaxQP             int `json:"max_qp"`
	NumTemporalLayers int `json:"num_temporal_layers"`
}

// SpatialLayer is the resolved configuration of one spatial layer.
type SpatialLayer struct {
	Width             int `json:"width"`
	Height            int `json:"height"`
	MaxFramerate      int `json:"max_framerate"`
	NumTemporalLayers int `json:"num_temporal_layers"`
	MaxBitrateKbps    int `json:"max_bitrate_kbps"`
	MinBitrateKbps    int `json:"min_bitrate_kbps"`
	TargetBitrateKbps int `json:"target_bitrate_kbps"`
	MaxQP             int `json:"max_qp"`
}

// Scalability holds the streams and spatial layers a run encodes.
type Scalability struct {
	Streams              []VideoStream      `json:"streams"`
	SelectedStream       int                `json:"selected_stream"`
	SpatialLayers        []SpatialLayer     `json:"spatial_layers"`
	SelectedSpatialLayer int                `json:"selected_spatial_layer"`
	InterLayerPred       InterLayerPredMode `json:"inter_layer_pred_mode"`
	Inferred             bool               `json:"inferred"`
}

// AllStreamsSelected reports whether every stream is shown or analyzed.
func (sc Scalability) AllStreamsSelected() bool {
	return len(sc.Streams) > 1 && sc.SelectedStream == len(sc.Streams)
}

// ActiveStreams returns the indexes of the streams that are shown or analyzed.
func (sc Scalability) ActiveStreams() []int {
	if sc.AllStreamsSelected() {
		out := make([]int, len(sc.Streams))
		for i := range out {
			out[i] = i
		}
		return out
	}
	idx := sc.SelectedStream
	if idx >= len(sc.Streams) {
		idx = len(sc.Streams) - 1
	}
	return []int{idx}
}

// DefaultVideoStream is the single-stream configuration derived from the top-level options.
func (s TestScenario) DefaultVideoStream() VideoStream {
	maxBps := s.MaxKbps * 1000
	if s.MaxKbps < 0 {
		maxBps = s.TargetKbps * 1000
	}
	return VideoStream{
		Width:             s.Width,
		Height:            s.Height,
		MaxFramerate:      s.FPS,
		MinBitrateBps:     s.MinKbps * 1000,
		TargetBitrateBps:  s.TargetKbps * 1000,
		MaxBitrateBps:     maxBps,
		MaxQP:             DefaultMaxQP,
		NumTemporalLayers: s.NumTemporalLayers,
	}
}

// ScalabilitySettings resolves stream and spatial-layer descriptors into concrete settings.
func (s TestScenario) ScalabilitySettings() (Scalability, error) {
	sc := Scalability{
		SelectedStream:       s.SelectedStream,
		SelectedSpatialLayer: s.SelectedSpatialLayer,
		InterLayerPred:       s.InterLayerPred,
		Inferred:             s.InferStreams,
	}
	base := s.DefaultVideoStream()

	switch {
	case s.InferStreams:
		sc.Streams = inferStreams(base, s.NumStreams)
	default:
		for i, desc := range s.Streams {
			if desc == "" {
				continue
			}
			stream, err := parseStreamDescriptor(desc, base)
			if err != nil {
				return Scalability{}, invalid(fmt.Sprintf("stream%d", i), desc, "%v", err)
			}
			sc.Streams = append(sc.Streams, stream)
		}
		if len(sc.Streams) == 0 {
			sc.Streams = []VideoStream{base}
		} else if s.NumStreams > 1 && len(sc.Streams) != s.NumStreams {
			return Scalability{}, invalid("streams", len(sc.Streams), "got %d descriptors for num_streams %d", len(sc.Streams), s.NumStreams)
		}
	}

	top := sc.Streams[len(sc.Streams)-1]
	for i, desc := range s.SpatialLayers {
		if desc == "" {
			continue
		}
		layer, err := parseLayerDescriptor(desc, layerFromStream(top))
		if err != nil {
			return Scalability{}, invalid(fmt.Sprintf("sl%d", i), desc, "%v", err)
		}
		sc.SpatialLayers = append(sc.SpatialLayers, layer)
	}
	switch {
	case len(sc.SpatialLayers) > 0 && len(sc.SpatialLayers) != s.NumSpatialLayers:
		return Scalability{}, invalid("spatial_layers", len(sc.SpatialLayers), "got %d descriptors for num_spatial_layers %d", len(sc.SpatialLayers), s.NumSpatialLayers)
	case len(sc.SpatialLayers) == 0 && s.NumSpatialLayers > 1:
		sc.SpatialLayers = inferLayers(layerFromStream(top), s.NumSpatialLayers)
	}

	return sc, nil
}

// inferStreams builds n simulcast streams, lowest first, halving resolution per
// step and scaling bitrates by the pixel ratio.
func inferStreams(base VideoStream, n int) []VideoStream {
	streams := make([]VideoStream, n)
	for i := range streams {
		shift := n - 1 - i
		div := 1 << (2 * shift)
		streams[i] = VideoStream{
			Width:             base.Width >> shift,
			Height:            base.Height >> shift,
			MaxFramerate:      base.MaxFramerate,
			MinBitrateBps:     base.MinBitrateBps / div,
			TargetBitrateBps:  base.TargetBitrateBps / div,
			MaxBitrateBps:     base.MaxBitrateBps / div,
			MaxQP:             base.MaxQP,
			NumTemporalLayers: base.NumTemporalLayers,
		}
	}
	return streams
}

func inferLayers(top SpatialLayer, n int) []SpatialLayer {
	layers := make([]SpatialLayer, n)
	for i := range layers {
		shift := n - 1 - i
		div := 1 << (2 * shift)
		l := top
		l.Width = top.Width >> shift
		l.Height = top.Height >> shift
		l.MinBitrateKbps = top.MinBitrateKbps / div
		l.TargetBitrateKbps = top.TargetBitrateKbps / div
		l.MaxBitrateKbps = top.MaxBitrateKbps / div
		layers[i] = l
	}
	return layers
}

func layerFromStream(v VideoStream) SpatialLayer {
	return SpatialLayer{
		Width:             v.Width,
		Height:            v.Height,
		MaxFramerate:      v.MaxFramerate,
		NumTemporalLayers: v.NumTemporalLayers,
		MaxBitrateKbps:    v.MaxBitrateBps / 1000,
		MinBitrateKbps:    v.MinBitrateBps / 1000,
		TargetBitrateKbps: v.TargetBitrateBps / 1000,
		MaxQP:             v.MaxQP,
	}
}

// parseStreamDescriptor reads width,height,fps,min_bps,target_bps,max_bps[,max_qp[,num_tl]].
// A value of -1 keeps the corresponding default.
func parseStreamDescriptor(desc string, def VideoStream) (VideoStream, error) {
	vals, err := splitInts(desc)
	if err != nil {
		return VideoStream{}, err
	}
	if len(vals) < 6 || len(vals) > 8 {
		return VideoStream{}, fmt.Errorf("want 6 to 8 comma-separated values, got %d", len(vals))
	}
	fields := []*int{
		&def.Width, &def.Height, &def.MaxFramerate,
		&def.MinBitrateBps, &def.TargetBitrateBps, &def.MaxBitrateBps,
		&def.MaxQP, &def.NumTemporalLayers,
	}
	for i, v := range vals {
		if v != -1 {
			*fields[i] = v
		}
	}
	if def.Width <= 0 || def.Height <= 0 || def.MaxFramerate <= 0 {
		return VideoStream{}, fmt.Errorf("resolution and frame rate must be positive")
	}
	if def.MinBitrateBps > def.TargetBitrateBps || def.TargetBitrateBps > def.MaxBitrateBps {
		return VideoStream{}, fmt.Errorf("bitrates must satisfy min <= target <= max")
	}
	if def.NumTemporalLayers < 1 || def.NumTemporalLayers > MaxTemporalLayers {
		return VideoStream{}, fmt.Errorf("temporal layers must be between 1 and %d", MaxTemporalLayers)
	}
	return def, nil
}

// parseLayerDescriptor reads width,height,fps,num_tl,max_kbps,min_kbps,target_kbps,max_qp.
func parseLayerDescriptor(desc string, def SpatialLayer) (SpatialLayer, error) {
	vals, err := splitInts(desc)
	if err != nil {
		return SpatialLayer{}, err
	}
	if len(vals) != 8 {
		return SpatialLayer{}, fmt.Errorf("want 8 comma-separated values, got %d", len(vals))
	}
	fields := []*int{
		&def.Width, &def.Height, &def.MaxFramerate, &def.NumTemporalLayers,
		&def.MaxBitrateKbps, &def.MinBitrateKbps, &def.TargetBitrateKbps, &def.MaxQP,
	}
	for i, v := range vals {
		if v != -1 {
			*fields[i] = v
		}
	}
	if def.Width <= 0 || def.Height <= 0 || def.MaxFramerate <= 0 {
		return SpatialLayer{}, fmt.Errorf("resolution and frame rate must be positive")
	}
	if def.MinBitrateKbps > def.TargetBitrateKbps || def.TargetBitrateKbps > def.MaxBitrateKbps {
		return SpatialLayer{}, fmt.Errorf("bitrates must satisfy min <= target <= max")
	}
	return def, nil
}

func splitInts(desc string) ([]int, error) {
	parts := strings.Split(desc, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", p)
		}
		out = append(out, v)
	}
	return out, nil
}
