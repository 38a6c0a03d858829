// Package datauri implements the self-describing payload codec carried in
// packet contents.
//
// A payload is encoded as
//
//	data:<mediatype>[;key=value]*[;base64],<payload>
//
// Text is percent-escaped, byte slices are base64 encoded and any other Go
// value is serialized with CBOR under the private "object/go" media type.
package datauri

import (
	"encoding/base64"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/ZentaChain/palladium/pkg/errs"
)

const (
	scheme     = "data:"
	base64Flag = "base64"

	// CharsetKey is attached to text payloads.
	CharsetKey = "charset"
	// FilenameKey names the file a binary payload was loaded from.
	FilenameKey = "filename"
	// TypeKey records the detected MIME type of a loaded file.
	TypeKey = "type"
)

var pattern = regexp.MustCompile(`^data:([^,]*),(\S*)$`)

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// DataURI is a typed payload with ordered metadata.
type DataURI struct {
	Type     MediaType
	Metadata Metadata

	data any
	raw  []byte // CBOR form of an Object payload
}

// New returns a DataURI holding v.
func New(v any) (*DataURI, error) {
	d := &DataURI{}
	if err := d.SetData(v); err != nil {
		return nil, err
	}
	return d, nil
}

// Text returns a TextPlain DataURI for s.
func Text(s string) *DataURI {
	d := &DataURI{}
	d.setText(s)
	return d
}

// Bytes returns an ApplicationOctet DataURI for b.
func Bytes(b []byte) *DataURI {
	d := &DataURI{}
	d.setBytes(b)
	return d
}

// SetData replaces the payload and derives the media type from v's type.
// Metadata belonging to the previous payload is discarded.
func (d *DataURI) SetData(v any) error {
	switch x := v.(type) {
	case string:
		d.setText(x)
	case []byte:
		d.setBytes(x)
	case nil:
		return errs.New(errs.Argument, "data must not be nil")
	default:
		raw, err := cbor.Marshal(x)
		if err != nil {
			return errs.Wrap(errs.Serialization, "failed to encode object", err)
		}
		d.Type = Object
		d.Metadata = Metadata{}
		d.data = x
		d.raw = raw
	}
	return nil
}

func (d *DataURI) setText(s string) {
	d.Type = TextPlain
	d.Metadata = Metadata{}
	d.Metadata.Set(CharsetKey, "utf-8")
	d.data = s
	d.raw = nil
}

func (d *DataURI) setBytes(b []byte) {
	d.Type = ApplicationOctet
	d.Metadata = Metadata{}
	d.data = b
	d.raw = nil
}

// Data returns the payload: a string, a []byte, a decoded object or nil.
func (d *DataURI) Data() any {
	return d.data
}

// Text returns the payload when it is text.
func (d *DataURI) Text() (string, bool) {
	s, ok := d.data.(string)
	return s, ok
}

// Bytes returns the payload when it is binary.
func (d *DataURI) Bytes() ([]byte, bool) {
	b, ok := d.data.([]byte)
	return b, ok
}

// DecodeObject decodes an Object payload into v.
func (d *DataURI) DecodeObject(v any) error {
	if d.Type != Object {
		return errs.Newf(errs.Argument, "payload is %s, not an object", d.Type)
	}
	if len(d.raw) == 0 {
		return errs.New(errs.Argument, "object payload is empty")
	}
	if err := cbor.Unmarshal(d.raw, v); err != nil {
		return errs.Wrap(errs.Serialization, "failed to decode object", err)
	}
	return nil
}

// String encodes the DataURI.
func (d *DataURI) String() string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString(d.Type.String())
	for _, k := range d.Metadata.keys {
		b.WriteByte(';')
		b.WriteString(escape(k))
		b.WriteByte('=')
		b.WriteString(escape(d.Metadata.values[k]))
	}

	var payload string
	if d.Type == Object {
		b.WriteString(";" + base64Flag)
		payload = base64.StdEncoding.EncodeToString(d.raw)
	} else {
		switch x := d.data.(type) {
		case string:
			payload = escape(x)
		case []byte:
			b.WriteString(";" + base64Flag)
			payload = base64.StdEncoding.EncodeToString(x)
		default:
			if d.Type != TextPlain {
				b.WriteString(";" + base64Flag)
			}
		}
	}
	b.WriteByte(',')
	b.WriteString(payload)
	return b.String()
}

// Encode is String with an error return for symmetry with Parse.
func Encode(d *DataURI) (string, error) {
	if d == nil {
		return "", errs.New(errs.Argument, "data uri is nil")
	}
	return d.String(), nil
}

// Parse decodes s.
func Parse(s string) (*DataURI, error) {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return nil, errs.New(errs.Format, "not a data uri")
	}
	header, payload := m[1], m[2]

	parts := strings.Split(header, ";")
	d := &DataURI{Type: TextPlain}
	if parts[0] != "" {
		mt, ok := LookupMediaType(strings.ToLower(parts[0]))
		if !ok {
			return nil, errs.Newf(errs.Format, "unknown media type %q", parts[0])
		}
		d.Type = mt
	}

	attrs := parts[1:]
	isBase64 := false
	if n := len(attrs); n > 0 && strings.EqualFold(attrs[n-1], base64Flag) {
		isBase64 = true
		attrs = attrs[:n-1]
	}
	for _, attr := range attrs {
		k, v, ok := strings.Cut(attr, "=")
		if !ok || k == "" {
			return nil, errs.Newf(errs.Format, "malformed attribute %q", attr)
		}
		key, err := url.PathUnescape(k)
		if err != nil {
			return nil, errs.Wrap(errs.Format, "malformed attribute key", err)
		}
		value, err := url.PathUnescape(v)
		if err != nil {
			return nil, errs.Wrap(errs.Format, "malformed attribute value", err)
		}
		d.Metadata.Set(key, value)
	}

	switch {
	case d.Type == Object:
		if payload == "" {
			return d, nil
		}
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, errs.Wrap(errs.Format, "malformed base64 payload", err)
		}
		var v any
		if err := decMode.Unmarshal(raw, &v); err != nil {
			return nil, errs.Wrap(errs.Format, "malformed object payload", err)
		}
		d.data = v
		d.raw = raw
	case isBase64:
		if payload == "" {
			return d, nil
		}
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, errs.Wrap(errs.Format, "malformed base64 payload", err)
		}
		d.data = raw
	default:
		text, err := url.PathUnescape(payload)
		if err != nil {
			return nil, errs.Wrap(errs.Format, "malformed escaped payload", err)
		}
		d.data = text
	}
	return d, nil
}

// TryParse is Parse without the error.
func TryParse(s string) (*DataURI, bool) {
	d, err := Parse(s)
	if err != nil {
		return nil, false
	}
	return d, true
}

// escape percent-encodes everything outside the RFC 3986 unreserved set.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
