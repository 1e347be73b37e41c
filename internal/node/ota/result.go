package ota

import (
	"google.golang.org/protobuf/types/known/structpb"
)

type Status string

const (
	StatusStart    Status = "start"
	StatusUpdating Status = "updating"
	StatusFinish   Status = "finish"
	StatusFail     Status = "fail"
)

// ResultType is the top-level type tag of every result message.
const ResultType = "result"

const (
	keyType   = "type"
	keyStatus = "status"
	keyDetail = "detail"
)

// Result is one outbound update result.
type Result struct {
	Status    Status
	Detail    string
	RequestID string
}

// Struct renders the result as
// {"type":"result","requestId":?,"update":{"status":..,"detail":?}}.
// Empty optional fields are omitted.
func (r Result) Struct() *structpb.Struct {
	update := map[string]*structpb.Value{
		keyStatus: structpb.NewStringValue(string(r.Status)),
	}
	if r.Detail != "" {
		update[keyDetail] = structpb.NewStringValue(r.Detail)
	}

	fields := map[string]*structpb.Value{
		keyType:   structpb.NewStringValue(ResultType),
		KeyUpdate: structpb.NewStructValue(&structpb.Struct{Fields: update}),
	}
	if r.RequestID != "" {
		fields[KeyRequestID] = structpb.NewStringValue(r.RequestID)
	}
	return &structpb.Struct{Fields: fields}
}
