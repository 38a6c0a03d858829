package datauri

// MediaType identifies the kind of payload carried by a DataURI.
type MediaType int

const (
	Object MediaType = iota
	TextPlain
	ImageGif
	ImageJpg
	ImagePng
	ImageSvg
	ApplicationOctet
)

// ObjectToken is the private media type used for CBOR encoded values.
const ObjectToken = "object/go"

var mediaTypes = map[MediaType]string{
	Object:           ObjectToken,
	TextPlain:        "text/plain",
	ImageGif:         "image/gif",
	ImageJpg:         "image/jpg",
	ImagePng:         "image/png",
	ImageSvg:         "image/svg+xml",
	ApplicationOctet: "application/octet",
}

var mediaTokens = func() map[string]MediaType {
	m := make(map[string]MediaType, len(mediaTypes))
	for k, v := range mediaTypes {
		m[v] = k
	}
	return m
}()

// String returns the wire token of the media type.
func (m MediaType) String() string {
	if s, ok := mediaTypes[m]; ok {
		return s
	}
	return "unknown"
}

// LookupMediaType maps a wire token to a MediaType.
func LookupMediaType(token string) (MediaType, bool) {
	m, ok := mediaTokens[token]
	return m, ok
}
