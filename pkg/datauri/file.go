package datauri

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ZentaChain/palladium/pkg/errs"
)

// LoadFile reads path into an ApplicationOctet DataURI tagged with the
// file's base name and detected MIME type.
func LoadFile(path string) (*DataURI, error) {
	if path == "" {
		return nil, errs.New(errs.Argument, "path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	d := Bytes(data)
	d.Metadata.Set(FilenameKey, filepath.Base(path))
	d.Metadata.Set(TypeKey, mimetype.Detect(data).String())
	return d, nil
}

// WriteFile writes the payload to dir/<filename> and reports whether the
// file exists afterwards. The filename metadata is required.
func (d *DataURI) WriteFile(dir string) (bool, error) {
	name, ok := d.Metadata.Get(FilenameKey)
	if !ok || name == "" {
		return false, errs.New(errs.Argument, "filename metadata is missing")
	}
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return false, errs.Newf(errs.Argument, "invalid filename %q", name)
	}

	var data []byte
	switch x := d.data.(type) {
	case []byte:
		data = x
	case string:
		data = []byte(x)
	case nil:
	default:
		data = d.raw
	}

	target := filepath.Join(dir, name)
	if err := os.WriteFile(target, data, 0644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", target, err)
	}

	_, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
