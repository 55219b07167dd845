package config

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	streamSlotKey = regexp.MustCompile(`^stream(\d+)$`)
	layerSlotKey  = regexp.MustCompile(`^sl(\d+)$`)

	knownOptions = optionNames()
)

// optionNames collects the yaml keys of TestScenario.
func optionNames() map[string]bool {
	names := make(map[string]bool)
	t := reflect.TypeOf(TestScenario{})
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("yaml")
		if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
			names[name] = true
		}
	}
	return names
}

// BuildScenario applies overrides on top of Defaults and validates the result.
// Keys are the yaml option names of TestScenario plus the descriptor slot keys
// stream0..stream2 and sl0..sl4. Slot keys are applied after the list options.
func BuildScenario(overrides map[string]any) (TestScenario, error) {
	s := Defaults()

	var plain, slots []string
	for key := range overrides {
		switch {
		case streamSlotKey.MatchString(key), layerSlotKey.MatchString(key):
			slots = append(slots, key)
		case key == "infer_streams":
			return TestScenario{}, invalid(key, overrides[key], "derived from num_streams and the stream descriptors, cannot be set")
		case knownOptions[key]:
			plain = append(plain, key)
		default:
			return TestScenario{}, invalid(key, nil, "unrecognized option")
		}
	}
	sort.Strings(plain)
	sort.Strings(slots)

	for _, key := range plain {
		if err := decodeOption(&s, key, overrides[key]); err != nil {
			return TestScenario{}, err
		}
	}
	for _, key := range slots {
		if err := applySlot(&s, key, overrides[key]); err != nil {
			return TestScenario{}, err
		}
	}

	s.CodecName = strings.ToUpper(strings.TrimSpace(s.CodecName))
	s.InferStreams = DeriveStreamInference(s)

	if err := s.Validate(); err != nil {
		return TestScenario{}, err
	}
	return s, nil
}

// decodeOption routes one value through yaml so that overrides coming from
// files, flags and JSON bodies share the same type rules.
func decodeOption(s *TestScenario, key string, value any) error {
	if value == nil {
		return invalid(key, nil, "value is null; omit the option to keep its default")
	}
	data, err := yaml.Marshal(map[string]any{key: value})
	if err != nil {
		return invalid(key, value, "cannot encode value: %v", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		return invalid(key, value, "wrong type: %v", decodeReason(err))
	}
	return nil
}

func decodeReason(err error) string {
	var te *yaml.TypeError
	if errors.As(err, &te) && len(te.Errors) > 0 {
		return strings.Join(te.Errors, "; ")
	}
	return err.Error()
}

func applySlot(s *TestScenario, key string, value any) error {
	desc, ok := value.(string)
	if !ok && value != nil {
		return invalid(key, value, "descriptor must be a string")
	}

	if m := streamSlotKey.FindStringSubmatch(key); m != nil {
		idx, _ := strconv.Atoi(m[1])
		if idx >= MaxStreams {
			return invalid(key, nil, "at most %d stream descriptors", MaxStreams)
		}
		s.Streams = setSlot(s.Streams, idx, desc)
		return nil
	}

	m := layerSlotKey.FindStringSubmatch(key)
	idx, _ := strconv.Atoi(m[1])
	if idx >= MaxSpatialLayers {
		return invalid(key, nil, "at most %d spatial layer descriptors", MaxSpatialLayers)
	}
	s.SpatialLayers = setSlot(s.SpatialLayers, idx, desc)
	return nil
}

func setSlot(list []string, idx int, value string) []string {
	out := append([]string(nil), list...)
	for len(out) <= idx {
		out = append(out, "")
	}
	out[idx] = value
	return out
}

// MergeOverrides layers override maps; later maps win.
func MergeOverrides(layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// ParseSetFlags turns key=value pairs into overrides. Values are read as
// YAML scalars, so 640 is an int, true a bool and VP9 a string.
func ParseSetFlags(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid override %q (want key=value)", pair)
		}
		var value any
		if strings.TrimSpace(raw) == "" {
			value = ""
		} else if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("invalid override %q: %w", pair, err)
		}
		out[key] = value
	}
	return out, nil
}
