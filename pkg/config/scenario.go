package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// InterLayerPredMode controls inter-layer prediction between spatial layers
type InterLayerPredMode string

const (
	InterLayerPredOn           InterLayerPredMode = "on"
	InterLayerPredOff          InterLayerPredMode = "off"
	InterLayerPredOnKeyPicture InterLayerPredMode = "on-key-picture"
)

// UnmarshalYAML accepts the mode names and the numeric flag values 0 (on), 1 (off) and 2 (on-key-picture).
func (m *InterLayerPredMode) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "0":
		*m = InterLayerPredOn
	case "off", "1":
		*m = InterLayerPredOff
	case "on-key-picture", "onkeypic", "2":
		*m = InterLayerPredOnKeyPicture
	default:
		return fmt.Errorf("unknown inter-layer prediction mode %q", raw)
	}
	return nil
}

// Supported codec names
const (
	CodecVP8  = "VP8"
	CodecVP9  = "VP9"
	CodecH264 = "H264"
)

// Limits shared by validation and the scalability settings
const (
	MaxTemporalLayers = 4
	MaxSpatialLayers  = 5
	MaxStreams        = 3
)

// TestScenario is the complete, flat description of one loopback run.
// It is built once by BuildScenario and passed by value afterwards.
type TestScenario struct {
	// Capture
	Width              int    `yaml:"width" json:"width"`
	Height             int    `yaml:"height" json:"height"`
	FPS                int    `yaml:"fps" json:"fps"`
	CaptureDeviceIndex int    `yaml:"capture_device_index" json:"capture_device_index"`
	ClipPath           string `yaml:"clip_path" json:"clip_path"`

	// Bitrate, in kbps. MaxKbps -1 leaves the bandwidth estimate uncapped.
	MinKbps    int `yaml:"min_kbps" json:"min_kbps"`
	StartKbps  int `yaml:"start_kbps" json:"start_kbps"`
	TargetKbps int `yaml:"target_kbps" json:"target_kbps"`
	MaxKbps    int `yaml:"max_kbps" json:"max_kbps"`

	// Codec
	CodecName             string             `yaml:"codec_name" json:"codec_name"`
	NumTemporalLayers     int                `yaml:"num_temporal_layers" json:"num_temporal_layers"`
	SelectedTemporalLayer int                `yaml:"selected_temporal_layer" json:"selected_temporal_layer"`
	InterLayerPred        InterLayerPredMode `yaml:"inter_layer_pred_mode" json:"inter_layer_pred_mode"`

	// Spatial scalability
	NumSpatialLayers     int      `yaml:"num_spatial_layers" json:"num_spatial_layers"`
	SelectedSpatialLayer int      `yaml:"selected_spatial_layer" json:"selected_spatial_layer"`
	SpatialLayers        []string `yaml:"spatial_layers" json:"spatial_layers"`

	// Simulcast streams
	NumStreams     int      `yaml:"num_streams" json:"num_streams"`
	SelectedStream int      `yaml:"selected_stream" json:"selected_stream"`
	Streams        []string `yaml:"streams" json:"streams"`
	InferStreams   bool     `yaml:"infer_streams" json:"infer_streams"`

	// Network impairment
	LossPercent           int  `yaml:"loss_percent" json:"loss_percent"`
	AvgBurstLossLength    int  `yaml:"avg_burst_loss_length" json:"avg_burst_loss_length"`
	LinkCapacityKbps      int  `yaml:"link_capacity_kbps" json:"link_capacity_kbps"`
	QueueLengthPackets    int  `yaml:"queue_length_packets" json:"queue_length_packets"`
	AvgPropagationDelayMs int  `yaml:"avg_propagation_delay_ms" json:"avg_propagation_delay_ms"`
	StdPropagationDelayMs int  `yaml:"std_propagation_delay_ms" json:"std_propagation_delay_ms"`
	AllowReordering       bool `yaml:"allow_reordering" json:"allow_reordering"`

	// Call and transport
	SendSideBWE            bool `yaml:"send_side_bwe" json:"send_side_bwe"`
	GenericDescriptor      bool `yaml:"generic_descriptor" json:"generic_descriptor"`
	ULPFEC                 bool `yaml:"ulpfec" json:"ulpfec"`
	FlexFEC                bool `yaml:"flexfec" json:"flexfec"`
	SuspendBelowMinBitrate bool `yaml:"suspend_below_min_bitrate" json:"suspend_below_min_bitrate"`

	// Audio
	AudioEnabled   bool `yaml:"audio_enabled" json:"audio_enabled"`
	AudioSyncVideo bool `yaml:"audio_sync_video" json:"audio_sync_video"`
	AudioDTX       bool `yaml:"audio_dtx" json:"audio_dtx"`
	UseRealADM     bool `yaml:"use_real_adm" json:"use_real_adm"`

	// Logging outputs; an empty path disables the output
	EventLogPath         string `yaml:"event_log_path" json:"event_log_path"`
	RTPDumpPath          string `yaml:"rtp_dump_path" json:"rtp_dump_path"`
	EncodedFrameBasePath string `yaml:"encoded_frame_base_path" json:"encoded_frame_base_path"`
	GraphOutputPath      string `yaml:"graph_output_path" json:"graph_output_path"`
	GraphTitle           string `yaml:"graph_title" json:"graph_title"`
	TestLabel            string `yaml:"test_label" json:"test_label"`

	// Run control: 0 runs interactively until interrupted
	DurationSecs int `yaml:"duration_secs" json:"duration_secs"`
}

// Defaults returns the scenario every build starts from.
func Defaults() TestScenario {
	return TestScenario{
		Width:  640,
		Height: 480,
		FPS:    30,

		MinKbps:    50,
		StartKbps:  300,
		TargetKbps: 800,
		MaxKbps:    800,

		CodecName:             CodecVP8,
		NumTemporalLayers:     1,
		SelectedTemporalLayer: -1,
		InterLayerPred:        InterLayerPredOn,

		NumSpatialLayers:     1,
		SelectedSpatialLayer: -1,
		SpatialLayers:        []string{"", "", ""},

		Streams: []string{"", ""},

		AvgBurstLossLength: -1,

		SendSideBWE: true,

		TestLabel: "video",
	}
}

// AnalyzedRun reports whether the scenario runs for a fixed duration with quality analysis.
func (s TestScenario) AnalyzedRun() bool {
	return s.DurationSecs > 0
}

// Duration returns the analyzed run length; zero for interactive runs.
func (s TestScenario) Duration() time.Duration {
	return time.Duration(s.DurationSecs) * time.Second
}

// Mode names the run mode for logs and run records.
func (s TestScenario) Mode() string {
	if s.AnalyzedRun() {
		return "analyzed"
	}
	return "interactive"
}

// BitrateConstraints are the call-level bitrate settings in bps.
type BitrateConstraints struct {
	MinBps   int
	StartBps int
	MaxBps   int
}

// CallBitrate returns the call constraints. The call never caps the bandwidth
// estimate; MaxKbps only bounds the video encoder.
func (s TestScenario) CallBitrate() BitrateConstraints {
	return BitrateConstraints{
		MinBps:   s.MinKbps * 1000,
		StartBps: s.StartKbps * 1000,
		MaxBps:   -1,
	}
}

// AutomaticScaling reports whether the encoder may adapt resolution on its own.
func (s TestScenario) AutomaticScaling() bool {
	return s.NumStreams < 2
}

// DeriveStreamInference reports whether the fixture should generate simulcast
// stream settings itself instead of parsing explicit descriptors.
func DeriveStreamInference(s TestScenario) bool {
	if s.NumStreams <= 1 {
		return false
	}
	for _, d := range s.Streams {
		if d != "" {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no slices with s.
func (s TestScenario) Clone() TestScenario {
	c := s
	c.Streams = append([]string(nil), s.Streams...)
	c.SpatialLayers = append([]string(nil), s.SpatialLayers...)
	return c
}

// Options returns the scenario as an option map that BuildScenario accepts.
// The derived infer_streams flag is left out.
func (s TestScenario) Options() (map[string]any, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scenario: %w", err)
	}
	out := make(map[string]any)
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to convert scenario: %w", err)
	}
	delete(out, "infer_streams")
	return out, nil
}

// String renders a one-line summary for logs.
func (s TestScenario) String() string {
	maxKbps := strconv.Itoa(s.MaxKbps)
	if s.MaxKbps < 0 {
		maxKbps = "uncapped"
	}
	return fmt.Sprintf("%s %dx%d@%d %d/%d/%d/%s kbps loss=%d%% duration=%ds",
		s.CodecName, s.Width, s.Height, s.FPS,
		s.MinKbps, s.StartKbps, s.TargetKbps, maxKbps,
		s.LossPercent, s.DurationSecs)
}
