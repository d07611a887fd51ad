package ws

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Frames holds one message rendered for each subprotocol.
type Frames struct {
	JSON   []byte
	Binary []byte
}

func (f Frames) forProtocol(p protocol) []byte {
	if p == protocolProtobuf {
		return f.Binary
	}
	return f.JSON
}

// Encoder renders messages as JSON text or Zstd-compressed protobuf Structs.
type Encoder struct {
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
}

// NewEncoder creates a new Encoder with Zstd compression.
func NewEncoder() (*Encoder, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Encoder{zstdEncoder: enc, zstdDecoder: dec}, nil
}

// Frames renders msg for both subprotocols.
func (e *Encoder) Frames(msg map[string]any) (Frames, error) {
	js, err := json.Marshal(msg)
	if err != nil {
		return Frames{}, fmt.Errorf("marshal json: %w", err)
	}
	bin, err := e.encodeBinary(msg)
	if err != nil {
		return Frames{}, err
	}
	return Frames{JSON: js, Binary: bin}, nil
}

func (e *Encoder) encode(p protocol, msg map[string]any) ([]byte, error) {
	if p == protocolProtobuf {
		return e.encodeBinary(msg)
	}
	return json.Marshal(msg)
}

func (e *Encoder) encodeBinary(msg map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(msg)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}
	return e.zstdEncoder.EncodeAll(pbData, nil), nil
}

// DecodeBinary reverses a binary frame back into its fields.
func (e *Encoder) DecodeBinary(frame []byte) (map[string]any, error) {
	pbData, err := e.zstdDecoder.DecodeAll(frame, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}
	var s structpb.Struct
	if err := proto.Unmarshal(pbData, &s); err != nil {
		return nil, fmt.Errorf("unmarshal protobuf: %w", err)
	}
	return s.AsMap(), nil
}

// toFields converts any JSON-serializable value into Struct-compatible
// fields.
func toFields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Close releases encoder resources.
func (e *Encoder) Close() {
	if e.zstdEncoder != nil {
		e.zstdEncoder.Close()
	}
	if e.zstdDecoder != nil {
		e.zstdDecoder.Close()
	}
}
