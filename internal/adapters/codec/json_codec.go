package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/ghalamif/PulseFlow/internal/domain"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

// Key aliases: the first name is canonical, the second is what older bedside
// simulators send.
var (
	sourceKeys   = []string{"source_id", "patient_id"}
	sequenceKeys = []string{"sequence", "seq"}
	sentAtKeys   = []string{"sent_at_ms", "timestamp_ms"}
	fieldsKeys   = []string{"fields", "payload"}
)

var reserved = map[string]struct{}{
	"source_id": {}, "patient_id": {},
	"sequence": {}, "seq": {},
	"sent_at_ms": {}, "timestamp_ms": {},
	"fields": {}, "payload": {},
}

// JSONCodec decodes inbound JSON frames and encodes outbound frames.
type JSONCodec struct{}

func NewJSONCodec() *JSONCodec { return &JSONCodec{} }

// Decode parses one inbound frame. A missing sequence becomes domain.NoSequence
// and a missing send time collapses latency to zero; both are accepted.
func (JSONCodec) Decode(raw []byte, receivedAtMs int64) (*domain.Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", domain.ErrDecode)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: frame is not an object", domain.ErrDecode)
	}

	e := &domain.Event{
		SourceID:     domain.UnknownSource,
		Sequence:     domain.NoSequence,
		SentAtMs:     receivedAtMs,
		ReceivedAtMs: receivedAtMs,
	}

	if v, ok := lookup(root, sourceKeys); ok && v.Type != gjson.Null {
		if s := v.String(); s != "" {
			e.SourceID = s
		}
	}

	if v, ok := lookup(root, sequenceKeys); ok && v.Type != gjson.Null {
		n, err := integer(v)
		if err != nil {
			return nil, fmt.Errorf("%w: sequence: %w", domain.ErrDecode, err)
		}
		e.Sequence = n
	}

	if v, ok := lookup(root, sentAtKeys); ok && v.Type != gjson.Null {
		n, err := integer(v)
		if err != nil {
			return nil, fmt.Errorf("%w: sent_at_ms: %w", domain.ErrDecode, err)
		}
		e.SentAtMs = n
	}

	if v, ok := lookup(root, fieldsKeys); ok && v.IsObject() {
		e.Fields = numericFields(v, nil)
	} else {
		e.Fields = numericFields(root, reserved)
	}

	return e, nil
}

// EncodeFrame renders an outbound frame.
func (JSONCodec) EncodeFrame(f *domain.Frame) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return raw, nil
}

func lookup(root gjson.Result, keys []string) (gjson.Result, bool) {
	for _, k := range keys {
		if v := root.Get(k); v.Exists() {
			return v, true
		}
	}
	return gjson.Result{}, false
}

func integer(v gjson.Result) (int64, error) {
	switch v.Type {
	case gjson.Number:
		if v.Num != math.Trunc(v.Num) {
			return 0, fmt.Errorf("not an integer: %s", v.Raw)
		}
		return v.Int(), nil
	case gjson.String:
		n, err := strconv.ParseInt(v.Str, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", v.Str)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected %s", v.Type)
	}
}

func numericFields(obj gjson.Result, skip map[string]struct{}) map[string]float64 {
	out := make(map[string]float64)
	obj.ForEach(func(key, value gjson.Result) bool {
		if _, ok := skip[key.Str]; ok {
			return true
		}
		if value.Type == gjson.Number {
			out[key.Str] = value.Num
		}
		return true
	})
	return out
}

var _ ports.Decoder = JSONCodec{}
