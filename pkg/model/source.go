package model

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
)

var ErrNotDataURL = errors.New("not a base64 data URL")

// SourceKind tells how an image's bytes are reached.
type SourceKind int

const (
	SourceNone   SourceKind = iota
	SourceLinked            // fetched from a URL, absolute or relative to the static base
	SourceInline            // embedded in the record
)

func (k SourceKind) String() string {
	switch k {
	case SourceLinked:
		return "linked"
	case SourceInline:
		return "inline"
	default:
		return "none"
	}
}

// Source is either Linked(url) or Inline(bytes, mime). The zero value holds neither.
type Source struct {
	kind SourceKind
	url  string
	data []byte
	mime string
}

// Linked returns a Source pointing at url. An empty url yields the zero Source.
func Linked(url string) Source {
	if url == "" {
		return Source{}
	}
	return Source{kind: SourceLinked, url: url}
}

// Inline returns a Source carrying data directly.
func Inline(data []byte, mime string) Source {
	return Source{kind: SourceInline, data: data, mime: mime}
}

func (s Source) Kind() SourceKind { return s.kind }

// URL returns the link for Linked sources and a data URL for Inline ones.
func (s Source) URL() string {
	switch s.kind {
	case SourceLinked:
		return s.url
	case SourceInline:
		return DataURL(s.data, s.mime)
	default:
		return ""
	}
}

// Data returns the embedded bytes and MIME type of an Inline source.
func (s Source) Data() ([]byte, string) {
	return s.data, s.mime
}

// Equal lets go-cmp compare sources without reaching into unexported fields.
func (s Source) Equal(o Source) bool {
	return s.kind == o.kind && s.url == o.url && s.mime == o.mime && bytes.Equal(s.data, o.data)
}

// Resolve makes a Linked source absolute. http(s) URLs pass through, data
// URLs become Inline, and anything else is joined onto staticBase.
func (s Source) Resolve(staticBase string) Source {
	if s.kind != SourceLinked {
		return s
	}
	u := s.url
	switch {
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		return s
	case strings.HasPrefix(u, "data:"):
		data, mime, err := ParseDataURL(u)
		if err != nil {
			return s
		}
		return Inline(data, mime)
	}
	base := strings.TrimRight(staticBase, "/")
	if strings.HasPrefix(u, "/") {
		return Linked(base + u)
	}
	return Linked(base + "/" + u)
}

// DataURL encodes data as "data:<mime>;base64,<payload>".
func DataURL(data []byte, mime string) string {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL decodes a base64 data URL produced by DataURL.
func ParseDataURL(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, "", ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrNotDataURL
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, "", ErrNotDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return data, mime, nil
}
