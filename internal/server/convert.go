package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/m3n3sx/faktulove3-sub000/internal/common"
)

// toStruct renders v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

func str(in *structpb.Struct, key string) string {
	if v, ok := in.GetFields()[key]; ok {
		return strings.TrimSpace(v.GetStringValue())
	}
	return ""
}

func uuidField(in *structpb.Struct, key string) (uuid.UUID, error) {
	s := str(in, key)
	if s == "" {
		return uuid.Nil, common.NewValidationError(key + " is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, common.NewValidationError(key + " must be a UUID")
	}
	return id, nil
}

func dateField(in *structpb.Struct, key string) (*time.Time, error) {
	s := str(in, key)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, common.NewValidationError(key + " must be YYYY-MM-DD")
	}
	return &t, nil
}

func bytesField(in *structpb.Struct, key string) ([]byte, error) {
	s := str(in, key)
	if s == "" {
		return nil, common.NewValidationError(key + " is required")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, common.NewValidationError(key + " must be base64")
	}
	return b, nil
}

// stringMap reads a nested object of string values.
func stringMap(in *structpb.Struct, key string) (map[string]string, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return nil, common.NewValidationError(key + " is required")
	}
	obj := v.GetStructValue()
	if obj == nil {
		return nil, common.NewValidationError(key + " must be an object")
	}
	out := make(map[string]string, len(obj.GetFields()))
	for k, f := range obj.GetFields() {
		s, ok := f.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, common.NewValidationError(fmt.Sprintf("%s.%s must be a string", key, k))
		}
		out[k] = s.StringValue
	}
	return out, nil
}

func optionalInt(in *structpb.Struct, key string) *int {
	v, ok := in.GetFields()[key]
	if !ok {
		return nil
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return nil
	}
	n := int(v.GetNumberValue())
	return &n
}
