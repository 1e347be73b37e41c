package ota

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

// Command keys.
const (
	KeyUpdate    = "update"
	KeyRequestID = "requestId"
	KeyURL       = "url"
	KeySize      = "size"
	KeyMD5       = "md5"
	KeyRestart   = "restart"
)

type propType string

const (
	typeString   propType = "string"
	typeUnsigned propType = "unsigned integer"
	typeBool     propType = "bool"
)

// largest integer a JSON number carries without loss
const maxExactInteger = 1 << 53

// UpdateRequest is an accepted update command.
type UpdateRequest struct {
	URL       string
	Size      uint64
	MD5       string
	Restart   bool
	RequestID string
}

func missingProperty(key string, t propType) *Error {
	return newError(ReasonValidation, fmt.Sprintf("Missing property: %s (%s)", key, t), nil)
}

// ParseUpdateRequest validates the value of the "update" key. Fields are
// checked in the order url, size, md5, restart and the first bad one is
// reported.
func ParseUpdateRequest(update *structpb.Value, requestID string) (*UpdateRequest, error) {
	fields := update.GetStructValue().GetFields()

	url, ok := fields[KeyURL].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil, missingProperty(KeyURL, typeString)
	}

	size, ok := unsignedValue(fields[KeySize])
	if !ok {
		return nil, missingProperty(KeySize, typeUnsigned)
	}

	md5, ok := fields[KeyMD5].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil, missingProperty(KeyMD5, typeString)
	}

	restart, ok := fields[KeyRestart].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return nil, missingProperty(KeyRestart, typeBool)
	}

	return &UpdateRequest{
		URL:       url.StringValue,
		Size:      size,
		MD5:       md5.StringValue,
		Restart:   restart.BoolValue,
		RequestID: requestID,
	}, nil
}

func unsignedValue(v *structpb.Value) (uint64, bool) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	f := n.NumberValue
	if f < 0 || f > maxExactInteger || f != math.Trunc(f) {
		return 0, false
	}
	return uint64(f), true
}
