// Package convert maps domain values to and from the wire messages of keyhandoff.v1.Handoff.
package convert

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/keyhandoff/internal/errs"
	"github.com/and161185/keyhandoff/internal/model"
)

// Outcome kinds carried in the "outcome" field of a SignIn response.
const (
	OutcomeSuccess   = "SUCCESS"
	OutcomeChallenge = "CHALLENGE_REQUIRED"
)

// --- helpers ---

func millis(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli())
}

func fromMillis(v float64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(v))
}

// String returns the string field key of s, or "" when absent or not a string.
func String(s *structpb.Struct, key string) string {
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return ""
	}
	return sv.StringValue
}

// Bool returns the bool field key of s, or false when absent.
func Bool(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

// Number returns the number field key of s, or 0 when absent.
func Number(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

// Strings builds a message of string fields.
func Strings(kv map[string]string) *structpb.Struct {
	fields := make(map[string]*structpb.Value, len(kv))
	for k, v := range kv {
		fields[k] = structpb.NewStringValue(v)
	}
	return &structpb.Struct{Fields: fields}
}

// --- AssertionPayload ---

// ToStructPayload converts an assertion payload to its wire message.
func ToStructPayload(p model.AssertionPayload) *structpb.Struct {
	return Strings(map[string]string{
		"username":        p.Username,
		"timestamp_nonce": p.TimestampNonce,
		"userSignature":   p.UserSignature,
		"associationKey":  p.AssociationKey,
	})
}

// FromStructPayload reads an assertion payload; every field must be a non-empty string.
func FromStructPayload(s *structpb.Struct) (model.AssertionPayload, error) {
	if s == nil {
		return model.AssertionPayload{}, fmt.Errorf("%w: nil payload", errs.ErrInvalidArgument)
	}
	p := model.AssertionPayload{
		Username:       String(s, "username"),
		TimestampNonce: String(s, "timestamp_nonce"),
		UserSignature:  String(s, "userSignature"),
		AssociationKey: String(s, "associationKey"),
	}
	for _, f := range []struct{ name, v string }{
		{"username", p.Username},
		{"timestamp_nonce", p.TimestampNonce},
		{"userSignature", p.UserSignature},
		{"associationKey", p.AssociationKey},
	} {
		if f.v == "" {
			return model.AssertionPayload{}, fmt.Errorf("%w: missing %s", errs.ErrInvalidArgument, f.name)
		}
	}
	return p, nil
}

// --- HandoffResult ---

// ToStructResult converts a verification result.
func ToStructResult(r model.HandoffResult) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"authenticated": structpb.NewBoolValue(r == model.Authenticated),
	}}
}

// FromStructResult reads a verification result.
func FromStructResult(s *structpb.Struct) model.HandoffResult {
	if Bool(s, "authenticated") {
		return model.Authenticated
	}
	return model.NotAuthenticated
}

// --- AuthOutcome ---

// ToStructOutcome converts Success and ChallengeRequired outcomes.
// Failure is not a message; callers report it as a status error.
func ToStructOutcome(o model.AuthOutcome) (*structpb.Struct, error) {
	switch v := o.(type) {
	case model.Success:
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			"outcome":       structpb.NewStringValue(OutcomeSuccess),
			"username":      structpb.NewStringValue(v.Session.Username),
			"access_token":  structpb.NewStringValue(v.Session.AccessToken),
			"issued_at_ms":  structpb.NewNumberValue(millis(v.Session.IssuedAt)),
			"expires_at_ms": structpb.NewNumberValue(millis(v.Session.ExpiresAt)),
		}}, nil
	case model.ChallengeRequired:
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			"outcome":   structpb.NewStringValue(OutcomeChallenge),
			"username":  structpb.NewStringValue(v.Username),
			"challenge": structpb.NewStringValue(v.Challenge),
		}}, nil
	default:
		return nil, fmt.Errorf("%w: outcome %T has no message form", errs.ErrInvalidArgument, o)
	}
}

// FromStructOutcome reads a SignIn response.
func FromStructOutcome(s *structpb.Struct) (model.AuthOutcome, error) {
	switch kind := String(s, "outcome"); kind {
	case OutcomeSuccess:
		return model.Success{Session: model.ProviderSession{
			Username:    String(s, "username"),
			AccessToken: String(s, "access_token"),
			IssuedAt:    fromMillis(Number(s, "issued_at_ms")),
			ExpiresAt:   fromMillis(Number(s, "expires_at_ms")),
		}}, nil
	case OutcomeChallenge:
		return model.ChallengeRequired{
			Username:  String(s, "username"),
			Challenge: String(s, "challenge"),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", errs.ErrInvalidArgument, kind)
	}
}
