package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxRequestBody caps request bodies for both protobuf and JSON payloads.
const maxRequestBody = 64 << 10

const contentTypeProtobuf = "application/x-protobuf"

// isProtobuf reports whether the request body is a protobuf payload.
func isProtobuf(r *http.Request) bool {
	return isProtoMediaType(r.Header.Get("Content-Type"))
}

// wantsProtobuf reports whether the client asked for a protobuf response.
func wantsProtobuf(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if isProtoMediaType(part) {
			return true
		}
	}
	return false
}

func isProtoMediaType(v string) bool {
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	return mt == contentTypeProtobuf || mt == "application/protobuf"
}

// readProto reads a binary google.protobuf.Struct body and decodes it into
// dst with the same strict field rules as the JSON path.
func readProto(r *http.Request, dst any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("unmarshal struct: %w", err)
	}
	return fromStruct(&msg, dst)
}

// writeProto encodes v as a binary google.protobuf.Struct.
func writeProto(w http.ResponseWriter, status int, v any) {
	msg, err := toStruct(v)
	if err != nil {
		http.Error(w, "proto encode error", http.StatusInternalServerError)
		return
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeProtobuf)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// toStruct converts any JSON-object-shaped value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("response is not an object: %w", err)
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes a Struct into dst via its canonical JSON form.
func fromStruct(msg *structpb.Struct, dst any) error {
	b, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}
	return decodeJSON(bytes.NewReader(b), dst)
}
