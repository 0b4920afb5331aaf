package lidar

import (
	"bytes"
	"encoding/json"
	"math"
	"time"
)

// ObservationKind is the closed set of shapes a lidar payload can take
type ObservationKind int

const (
	Unrecognized  ObservationKind = iota
	Incremental                   // {"x": n, "y": n, "timestamp"?: ms}
	LegacyArray                   // [r0, r1, ...] or "lidar: [r0, ...]"
	LegacyWrapped                 // {"ranges": [r0, r1, ...]}
)

func (k ObservationKind) String() string {
	switch k {
	case Incremental:
		return "incremental"
	case LegacyArray:
		return "legacy-array"
	case LegacyWrapped:
		return "legacy-wrapped"
	default:
		return "unrecognized"
	}
}

// IsLegacy reports whether the observation carries a full polar scan
func (k ObservationKind) IsLegacy() bool {
	return k == LegacyArray || k == LegacyWrapped
}

// Observation is one classified lidar payload. Only the fields belonging to
// Kind are meaningful. Non-finite or null numbers decode as NaN.
type Observation struct {
	Kind      ObservationKind
	X         float64
	Y         float64
	Timestamp int64 // Unix ms; 0 when the sender omitted it
	Ranges    []float64
	Key       string // wrapper key for LegacyWrapped
}

// legacyRangeKeys are probed in priority order for a wrapped scan array
var legacyRangeKeys = []string{"ranges", "distances", "points", "lidarData", "data", "values"}

// textScanPrefix marks the plain-text scan format "lidar: [0.304, 0.301, ...]"
var textScanPrefix = []byte("lidar:")

// ParseObservation classifies a raw payload. It never fails: anything it
// cannot interpret is returned as Unrecognized.
func ParseObservation(payload []byte) Observation {
	trimmed := bytes.TrimSpace(payload)
	if bytes.HasPrefix(trimmed, textScanPrefix) {
		trimmed = bytes.TrimSpace(trimmed[len(textScanPrefix):])
		if ranges, ok := decodeRanges(sanitizeNonFinite(trimmed)); ok {
			return Observation{Kind: LegacyArray, Ranges: ranges}
		}
		return Observation{Kind: Unrecognized}
	}

	clean := sanitizeNonFinite(trimmed)
	if len(clean) == 0 {
		return Observation{Kind: Unrecognized}
	}

	switch clean[0] {
	case '[':
		if ranges, ok := decodeRanges(clean); ok {
			return Observation{Kind: LegacyArray, Ranges: ranges}
		}
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(clean, &fields); err != nil {
			return Observation{Kind: Unrecognized}
		}
		if obs, ok := parseIncremental(fields); ok {
			return obs
		}
		for _, key := range legacyRangeKeys {
			raw, ok := fields[key]
			if !ok {
				continue
			}
			if ranges, ok := decodeRanges(raw); ok {
				return Observation{Kind: LegacyWrapped, Ranges: ranges, Key: key}
			}
		}
	}

	return Observation{Kind: Unrecognized}
}

// parseIncremental extracts x/y/timestamp when both coordinates are numeric
func parseIncremental(fields map[string]json.RawMessage) (Observation, bool) {
	rawX, okX := fields["x"]
	rawY, okY := fields["y"]
	if !okX || !okY {
		return Observation{}, false
	}
	x, okX := decodeNumber(rawX)
	y, okY := decodeNumber(rawY)
	if !okX || !okY {
		return Observation{}, false
	}

	obs := Observation{Kind: Incremental, X: x, Y: y}
	if raw, ok := fields["timestamp"]; ok {
		obs.Timestamp = decodeTimestamp(raw)
	}
	return obs, true
}

// decodeNumber reads a JSON number; null (including sanitized NaN) is NaN
func decodeNumber(raw json.RawMessage) (float64, bool) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return math.NaN(), true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// decodeRanges reads a JSON array of numbers; null entries become NaN.
// Arrays holding anything else (objects, strings) are rejected.
func decodeRanges(raw []byte) ([]float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var values []*float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, false
	}
	ranges := make([]float64, len(values))
	for i, v := range values {
		if v == nil {
			ranges[i] = math.NaN()
			continue
		}
		ranges[i] = *v
	}
	return ranges, true
}

// decodeTimestamp accepts Unix milliseconds or an RFC 3339 string.
// Anything else yields 0, meaning "use arrival time".
func decodeTimestamp(raw json.RawMessage) int64 {
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		if isFinite(ms) && ms > 0 {
			return int64(ms)
		}
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// sanitizeNonFinite rewrites the bare NaN / Infinity / -Infinity tokens that
// Python's json module emits into null so encoding/json can decode them.
// String contents are left untouched.
func sanitizeNonFinite(data []byte) []byte {
	if !bytes.Contains(data, []byte("NaN")) && !bytes.Contains(data, []byte("Infinity")) {
		return data
	}

	var out bytes.Buffer
	out.Grow(len(data))
	inString := false
	escaped := false

	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			out.WriteByte(c)
		case bytes.HasPrefix(data[i:], []byte("NaN")):
			out.WriteString("null")
			i += len("NaN") - 1
		case bytes.HasPrefix(data[i:], []byte("-Infinity")):
			out.WriteString("null")
			i += len("-Infinity") - 1
		case bytes.HasPrefix(data[i:], []byte("Infinity")):
			out.WriteString("null")
			i += len("Infinity") - 1
		default:
			out.WriteByte(c)
		}
	}
	return out.Bytes()
}

// NormalizeIncremental converts an incremental observation into a buffer
// point. It returns false for any other kind or for a non-finite coordinate.
// The sender's y axis is the forward axis, stored as Z.
func NormalizeIncremental(obs Observation, now time.Time) (Point, bool) {
	if obs.Kind != Incremental || !isFinite(obs.X) || !isFinite(obs.Y) {
		return Point{}, false
	}
	ts := obs.Timestamp
	if ts <= 0 {
		ts = now.UnixMilli()
	}
	return Point{X: obs.X, Z: obs.Y, Timestamp: ts}, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
