package assertion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/keyhandoff/internal/model"
)

// FormatNonce renders "<unix millis>_<random>".
func FormatNonce(t time.Time, r int32) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + "_" + strconv.FormatInt(int64(r), 10)
}

// ParseNonce splits a timestamp nonce into its time and random parts.
func ParseNonce(s string) (time.Time, int32, error) {
	ms, rnd, ok := strings.Cut(s, "_")
	if !ok {
		return time.Time{}, 0, errors.New("nonce: missing separator")
	}
	millis, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || millis <= 0 {
		return time.Time{}, 0, fmt.Errorf("nonce: bad timestamp %q", ms)
	}
	r, err := strconv.ParseInt(rnd, 10, 32)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("nonce: bad random part %q", rnd)
	}
	return time.UnixMilli(millis), int32(r), nil
}

// Encode serializes the payload with the fixed field order.
func Encode(p model.AssertionPayload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses a payload and requires exactly the four string fields, all non-empty.
func Decode(data []byte) (model.AssertionPayload, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.AssertionPayload{}, fmt.Errorf("payload: %w", err)
	}
	fields := [...]string{"username", "timestamp_nonce", "userSignature", "associationKey"}
	if len(raw) != len(fields) {
		return model.AssertionPayload{}, fmt.Errorf("payload: want %d fields, got %d", len(fields), len(raw))
	}
	var vals [4]string
	for i, k := range fields {
		s, ok := raw[k].(string)
		if !ok || s == "" {
			return model.AssertionPayload{}, fmt.Errorf("payload: field %q missing or not a string", k)
		}
		vals[i] = s
	}
	return model.AssertionPayload{
		Username:       vals[0],
		TimestampNonce: vals[1],
		UserSignature:  vals[2],
		AssociationKey: vals[3],
	}, nil
}
