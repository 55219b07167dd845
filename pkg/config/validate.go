package config

import (
	"fmt"
	"math"
	"time"
)

const (
	// MaxFPS is the RTP video clock rate; higher rates leave no timestamp step per frame.
	MaxFPS = 90000

	// MaxDurationSecs is the longest analyzed run a time.Duration can hold.
	MaxDurationSecs = math.MaxInt64 / int64(time.Second)
)

var validCodecs = map[string]bool{
	CodecVP8:  true,
	CodecVP9:  true,
	CodecH264: true,
}

// Validate checks every field and cross-field constraint of the scenario.
// The first violation is returned as a *ConfigurationError.
func (s TestScenario) Validate() error {
	if err := s.validateCapture(); err != nil {
		return err
	}
	if err := s.validateBitrate(); err != nil {
		return err
	}
	if err := s.validateCodec(); err != nil {
		return err
	}
	if err := s.validateLayers(); err != nil {
		return err
	}
	if err := s.validateNetwork(); err != nil {
		return err
	}
	if err := s.validateCall(); err != nil {
		return err
	}
	if s.DurationSecs < 0 {
		return invalid("duration_secs", s.DurationSecs, "cannot be negative")
	}
	if int64(s.DurationSecs) > MaxDurationSecs {
		return invalid("duration_secs", s.DurationSecs, "must not exceed %d", MaxDurationSecs)
	}

	// Descriptor strings are only checked for shape here; the fixture parses them again.
	if _, err := s.ScalabilitySettings(); err != nil {
		return err
	}
	return nil
}

func (s TestScenario) validateCapture() error {
	if s.Width <= 0 {
		return invalid("width", s.Width, "must be positive")
	}
	if s.Height <= 0 {
		return invalid("height", s.Height, "must be positive")
	}
	if s.FPS <= 0 {
		return invalid("fps", s.FPS, "must be positive")
	}
	if s.FPS > MaxFPS {
		return invalid("fps", s.FPS, "must not exceed %d", MaxFPS)
	}
	if s.CaptureDeviceIndex < 0 {
		return invalid("capture_device_index", s.CaptureDeviceIndex, "cannot be negative")
	}
	return nil
}

func (s TestScenario) validateBitrate() error {
	if s.MinKbps < 0 {
		return invalid("min_kbps", s.MinKbps, "cannot be negative")
	}
	if s.StartKbps < 0 {
		return invalid("start_kbps", s.StartKbps, "cannot be negative")
	}
	if s.TargetKbps < 0 {
		return invalid("target_kbps", s.TargetKbps, "cannot be negative")
	}
	if s.MaxKbps < -1 {
		return invalid("max_kbps", s.MaxKbps, "must be -1 (uncapped) or non-negative")
	}
	if s.MinKbps > s.StartKbps {
		return invalid("min_kbps", s.MinKbps, "must not exceed start_kbps (%d)", s.StartKbps)
	}
	if s.StartKbps > s.TargetKbps {
		return invalid("start_kbps", s.StartKbps, "must not exceed target_kbps (%d)", s.TargetKbps)
	}
	if s.MaxKbps >= 0 && s.TargetKbps > s.MaxKbps {
		return invalid("target_kbps", s.TargetKbps, "must not exceed max_kbps (%d)", s.MaxKbps)
	}
	return nil
}

func (s TestScenario) validateCodec() error {
	if !validCodecs[s.CodecName] {
		return invalid("codec_name", s.CodecName, "must be VP8, VP9 or H264")
	}
	if s.NumTemporalLayers < 1 || s.NumTemporalLayers > MaxTemporalLayers {
		return invalid("num_temporal_layers", s.NumTemporalLayers, "must be between 1 and %d", MaxTemporalLayers)
	}
	if s.SelectedTemporalLayer < -1 || s.SelectedTemporalLayer >= s.NumTemporalLayers {
		return invalid("selected_temporal_layer", s.SelectedTemporalLayer, "must be -1 or below num_temporal_layers (%d)", s.NumTemporalLayers)
	}
	switch s.InterLayerPred {
	case InterLayerPredOn, InterLayerPredOff, InterLayerPredOnKeyPicture:
	default:
		return invalid("inter_layer_pred_mode", s.InterLayerPred, "must be on, off or on-key-picture")
	}
	return nil
}

func (s TestScenario) validateLayers() error {
	if s.NumSpatialLayers < 1 || s.NumSpatialLayers > MaxSpatialLayers {
		return invalid("num_spatial_layers", s.NumSpatialLayers, "must be between 1 and %d", MaxSpatialLayers)
	}
	if s.SelectedSpatialLayer < -1 || s.SelectedSpatialLayer >= s.NumSpatialLayers {
		return invalid("selected_spatial_layer", s.SelectedSpatialLayer, "must be -1 or below num_spatial_layers (%d)", s.NumSpatialLayers)
	}
	if len(s.SpatialLayers) > MaxSpatialLayers {
		return invalid("spatial_layers", len(s.SpatialLayers), "at most %d descriptors", MaxSpatialLayers)
	}
	if n := countNonEmpty(s.SpatialLayers); n > s.NumSpatialLayers {
		return invalid("spatial_layers", n, "more descriptors than num_spatial_layers (%d)", s.NumSpatialLayers)
	}

	if s.NumStreams < 0 || s.NumStreams > MaxStreams {
		return invalid("num_streams", s.NumStreams, "must be between 0 and %d", MaxStreams)
	}
	// selected_stream == num_streams selects all streams.
	if s.SelectedStream < 0 || s.SelectedStream > max(s.NumStreams, 1) {
		return invalid("selected_stream", s.SelectedStream, "must be between 0 and %d", max(s.NumStreams, 1))
	}
	if len(s.Streams) > MaxStreams {
		return invalid("streams", len(s.Streams), "at most %d descriptors", MaxStreams)
	}
	if s.InferStreams != DeriveStreamInference(s) {
		return invalid("infer_streams", s.InferStreams, "only true when num_streams > 1 and every stream descriptor is empty")
	}
	return nil
}

func (s TestScenario) validateNetwork() error {
	if s.LossPercent < 0 || s.LossPercent > 100 {
		return invalid("loss_percent", s.LossPercent, "must be between 0 and 100")
	}
	if s.AvgBurstLossLength != -1 {
		p := float64(s.LossPercent) / 100
		if s.AvgBurstLossLength < 1 {
			return invalid("avg_burst_loss_length", s.AvgBurstLossLength, "must be -1 or at least 1")
		}
		if p >= 1 || float64(s.AvgBurstLossLength) <= p/(1-p) {
			return invalid("avg_burst_loss_length", s.AvgBurstLossLength,
				"must exceed loss/(1-loss) (%s) for loss_percent %d", formatRatio(p), s.LossPercent)
		}
	}
	if s.LinkCapacityKbps < 0 {
		return invalid("link_capacity_kbps", s.LinkCapacityKbps, "cannot be negative")
	}
	if s.QueueLengthPackets < 0 {
		return invalid("queue_length_packets", s.QueueLengthPackets, "cannot be negative")
	}
	if s.AvgPropagationDelayMs < 0 {
		return invalid("avg_propagation_delay_ms", s.AvgPropagationDelayMs, "cannot be negative")
	}
	if s.StdPropagationDelayMs < 0 {
		return invalid("std_propagation_delay_ms", s.StdPropagationDelayMs, "cannot be negative")
	}
	return nil
}

func (s TestScenario) validateCall() error {
	if s.ULPFEC && s.FlexFEC {
		return invalid("flexfec", s.FlexFEC, "cannot be combined with ulpfec")
	}
	if s.AudioSyncVideo && !s.AudioEnabled {
		return invalid("audio_sync_video", s.AudioSyncVideo, "requires audio_enabled")
	}
	if s.AudioDTX && !s.AudioEnabled {
		return invalid("audio_dtx", s.AudioDTX, "requires audio_enabled")
	}
	return nil
}

func countNonEmpty(list []string) int {
	n := 0
	for _, v := range list {
		if v != "" {
			n++
		}
	}
	return n
}

func formatRatio(p float64) string {
	if p >= 1 {
		return "inf"
	}
	return fmt.Sprintf("%.3f", p/(1-p))
}
