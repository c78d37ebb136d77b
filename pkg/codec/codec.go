// Package codec converts channel payloads to typed parameters and typed
// results back to channel payloads.
//
// Payloads are UTF-8 JSON strings. Decoding goes through three steps:
//
//  1. the raw string must be valid UTF-8 and valid JSON for the target type
//  2. ApplyDefaults fills optional fields that were absent or null
//  3. Validate rejects values that are missing required fields
//
// Parameter types opt into steps 2 and 3 by implementing Defaulter and
// Validator. Unknown JSON fields are ignored.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrDecode is matched by every error returned from Decode.
var ErrDecode = errors.New("codec: decode failed")

// ErrInvalidUTF8 is the cause recorded when a payload is not UTF-8.
var ErrInvalidUTF8 = errors.New("payload is not valid utf-8")

// ErrMissingField reports an absent required field. Validators wrap it.
var ErrMissingField = errors.New("missing required field")

// DecodeError carries the offending payload verbatim for caller-side
// diagnostics. The payload is never interpreted.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrDecode) match any DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Defaulter is implemented by parameter types with optional fields.
type Defaulter interface {
	ApplyDefaults()
}

// Validator is implemented by parameter types with required fields.
type Validator interface {
	Validate() error
}

// Missing builds a validation error for a required field.
func Missing(field string) error {
	return fmt.Errorf("%w %q", ErrMissingField, field)
}

// CheckUTF8 reports whether payload can be decoded at all.
func CheckUTF8(payload string) error {
	if !utf8.ValidString(payload) {
		return &DecodeError{Payload: payload, Err: ErrInvalidUTF8}
	}
	return nil
}

// Decode parses payload into a T, applies defaults and validates it.
func Decode[T any](payload string) (T, error) {
	var out T
	if err := CheckUTF8(payload); err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, &DecodeError{Payload: payload, Err: err}
	}
	if d, ok := any(&out).(Defaulter); ok {
		d.ApplyDefaults()
	}
	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return out, &DecodeError{Payload: payload, Err: err}
		}
	}
	return out, nil
}

// Encode renders v as a UTF-8 JSON string.
func Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(raw), nil
}

// MustEncode is Encode for values built internally, where a failure is a
// programming error.
func MustEncode(v any) string {
	out, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return out
}
