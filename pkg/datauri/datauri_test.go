package datauri

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZentaChain/palladium/pkg/errs"
)

func TestTextEncoding(t *testing.T) {
	d := Text("Hello world")

	want := "data:text/plain;charset=utf-8,Hello%20world"
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data any
	}{
		{"plain text", "Hello world"},
		{"reserved characters", "a,b;c=d%e+f/g?h#i"},
		{"unicode", "grüße, 世界 🙂"},
		{"empty text", ""},
		{"bytes", []byte{0x00, 0xff, 0x10, 0x20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.data)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			parsed, err := Parse(d.String())
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", d.String(), err)
			}
			if parsed.Type != d.Type {
				t.Errorf("Type = %v, want %v", parsed.Type, d.Type)
			}

			switch want := tt.data.(type) {
			case string:
				if got, ok := parsed.Text(); !ok || got != want {
					t.Errorf("Text() = %q, %v, want %q", got, ok, want)
				}
			case []byte:
				if got, ok := parsed.Bytes(); !ok || !bytes.Equal(got, want) {
					t.Errorf("Bytes() = %v, %v, want %v", got, ok, want)
				}
			}
		})
	}
}

type note struct {
	Title string
	Tags  []string
	Count int
}

func TestObjectRoundTrip(t *testing.T) {
	in := note{Title: "groceries", Tags: []string{"milk", "eggs"}, Count: 2}

	d, err := New(in)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if d.Type != Object {
		t.Fatalf("Type = %v, want Object", d.Type)
	}

	parsed, err := Parse(d.String())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	var out note
	if err := parsed.DecodeObject(&out); err != nil {
		t.Fatalf("DecodeObject() error = %v", err)
	}
	if out.Title != in.Title || out.Count != in.Count || len(out.Tags) != 2 || out.Tags[1] != "eggs" {
		t.Errorf("DecodeObject() = %+v, want %+v", out, in)
	}

	generic, ok := parsed.Data().(map[string]any)
	if !ok {
		t.Fatalf("Data() = %T, want map[string]any", parsed.Data())
	}
	if generic["Title"] != "groceries" {
		t.Errorf("Data()[Title] = %v, want groceries", generic["Title"])
	}
}

func TestMetadataOrder(t *testing.T) {
	d := Bytes([]byte("x"))
	d.Metadata.Set("Zeta", "1")
	d.Metadata.Set("alpha", "two words")
	d.Metadata.Set("ZETA", "3")

	want := "data:application/octet;zeta=3;alpha=two%20words;base64,eA=="
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	parsed, err := Parse(want)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	keys := parsed.Metadata.Keys()
	if len(keys) != 2 || keys[0] != "zeta" || keys[1] != "alpha" {
		t.Errorf("Keys() = %v, want [zeta alpha]", keys)
	}
	if v, _ := parsed.Metadata.Get("ALPHA"); v != "two words" {
		t.Errorf("Get(ALPHA) = %q, want %q", v, "two words")
	}
}

func TestMetadataReservedKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"semicolon", "a;b"},
		{"comma", "a,b"},
		{"equals", "a=b"},
		{"percent", "100%"},
		{"space", "file name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Text("hi")
			d.Metadata.Set(tt.key, "v;=,")

			parsed, err := Parse(d.String())
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", d.String(), err)
			}
			if v, ok := parsed.Metadata.Get(tt.key); !ok || v != "v;=," {
				t.Errorf("Get(%q) = %q, %v, want %q", tt.key, v, ok, "v;=,")
			}
			if parsed.Metadata.Len() != 2 {
				t.Errorf("Len() = %d, want 2", parsed.Metadata.Len())
			}
			if text, _ := parsed.Text(); text != "hi" {
				t.Errorf("Text() = %q, want %q", text, "hi")
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no scheme", "text/plain,hello"},
		{"no comma", "data:text/plain;base64"},
		{"whitespace payload", "data:text/plain,hello world"},
		{"unknown type", "data:video/mp4;base64,AAAA"},
		{"bad attribute", "data:text/plain;charset,hi"},
		{"bad base64", "data:application/octet;base64,@@@"},
		{"bad escape", "data:text/plain,%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			if err == nil {
				t.Fatalf("Parse(%q) error = nil, want format error", tt.input)
			}
			if !errs.IsKind(err, errs.Format) {
				t.Errorf("Parse(%q) error = %v, want format error", tt.input, err)
			}
			if _, ok := TryParse(tt.input); ok {
				t.Errorf("TryParse(%q) ok = true, want false", tt.input)
			}
		})
	}
}

func TestEmptyPayload(t *testing.T) {
	tests := []struct {
		input string
		want  any
	}{
		{"data:text/plain,", ""},
		{"data:,", ""},
		{"data:application/octet;base64,", nil},
		{"data:object/go;base64,", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if d.Data() != tt.want {
				t.Errorf("Data() = %#v, want %#v", d.Data(), tt.want)
			}
		})
	}
}

func TestSetDataDerivesType(t *testing.T) {
	d := Text("hi")
	if err := d.SetData([]byte("hi")); err != nil {
		t.Fatalf("SetData() error = %v", err)
	}
	if d.Type != ApplicationOctet {
		t.Errorf("Type = %v, want ApplicationOctet", d.Type)
	}
	if _, ok := d.Metadata.Get(CharsetKey); ok {
		t.Error("charset metadata survived a binary assignment")
	}
	if err := d.SetData(nil); !errs.IsKind(err, errs.Argument) {
		t.Errorf("SetData(nil) error = %v, want argument error", err)
	}
}

func TestFileRoundTrip(t *testing.T) {
	src := filepath.Join(t.TempDir(), "HelloWorld.txt")
	content := []byte("Hello world\n")
	if err := os.WriteFile(src, content, 0644); err != nil {
		t.Fatal(err)
	}

	d, err := LoadFile(src)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if name, _ := d.Metadata.Get(FilenameKey); name != "HelloWorld.txt" {
		t.Errorf("filename = %q, want HelloWorld.txt", name)
	}
	if typ, _ := d.Metadata.Get(TypeKey); typ != "text/plain; charset=utf-8" {
		t.Errorf("type = %q, want text/plain; charset=utf-8", typ)
	}

	parsed, err := Parse(d.String())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	dir := t.TempDir()
	ok, err := parsed.WriteFile(dir)
	if err != nil || !ok {
		t.Fatalf("WriteFile() = %v, %v, want true, nil", ok, err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "HelloWorld.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("written file = %q, want %q", got, content)
	}
}

func TestWriteFileRequiresFilename(t *testing.T) {
	ok, err := Bytes([]byte("x")).WriteFile(t.TempDir())
	if ok || !errs.IsKind(err, errs.Argument) {
		t.Errorf("WriteFile() = %v, %v, want false, argument error", ok, err)
	}
}

func TestWriteFileStripsDirectories(t *testing.T) {
	d := Bytes([]byte("x"))
	d.Metadata.Set(FilenameKey, "../../escape.txt")

	dir := t.TempDir()
	if ok, err := d.WriteFile(dir); err != nil || !ok {
		t.Fatalf("WriteFile() = %v, %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); err != nil {
		t.Errorf("expected file inside target dir: %v", err)
	}
}
