package qobserve

import (
	"encoding/json"

	cbor "github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Codec marshals evaluation reports. Implementations are deterministic.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Report is the exportable form of one scheduling call.
type Report struct {
	Kernel     string             `json:"kernel" cbor:"1,keyasint"`
	Observable string             `json:"observable" cbor:"2,keyasint"`
	Mode       string             `json:"mode" cbor:"3,keyasint"`
	Devices    int                `json:"devices" cbor:"4,keyasint"`
	Shots      int                `json:"shots" cbor:"5,keyasint"`
	Results    []EvaluationResult `json:"results" cbor:"6,keyasint"`
}

type jsonCodec struct{}

// JSON returns the JSON codec.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) ContentType() string                { return "application/json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.MarshalIndent(v, "", "  ") }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a canonical CBOR codec (RFC 8949 core deterministic encoding).
func CBOR() (Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, errors.Wrap(err, "cbor encode mode")
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, errors.Wrap(err, "cbor decode mode")
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (cborCodec) Name() string                         { return "cbor" }
func (cborCodec) ContentType() string                  { return "application/cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// CodecRegistry maps codec names to codecs.
type CodecRegistry struct {
	byName map[string]Codec
}

// NewCodecRegistry returns a registry holding the JSON and CBOR codecs.
func NewCodecRegistry() (*CodecRegistry, error) {
	r := &CodecRegistry{byName: make(map[string]Codec)}
	r.Register(JSON())

	c, err := CBOR()
	if err != nil {
		return nil, err
	}
	r.Register(c)
	return r, nil
}

// Register adds a codec.
func (r *CodecRegistry) Register(c Codec) { r.byName[c.Name()] = c }

// Get returns a codec by name.
func (r *CodecRegistry) Get(name string) (Codec, error) {
	c, ok := r.byName[name]
	if !ok {
		return nil, errors.Errorf("unknown format %q", name)
	}
	return c, nil
}
