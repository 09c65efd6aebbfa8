// Package blocks defines the typed payload of each content block kind.
//
// Blocks are stored as a single string column: raw HTML for BODY and a JSON
// object for every other type. Parse validates client input against the
// block type; Decode reads stored rows back, tolerating legacy plain text.
package blocks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Type string

const (
	Heading1 Type = "HEADING1"
	Heading2 Type = "HEADING2"
	Heading3 Type = "HEADING3"
	Body     Type = "BODY"
	Image    Type = "IMAGE"
	Video    Type = "VIDEO"
	Table    Type = "TABLE"
	Code     Type = "CODE"
	Divider  Type = "DIVIDER"
)

var ErrInvalidContent = errors.New("invalid block content")

// Content is implemented by every block payload.
type Content interface {
	Kind() Type
}

type HeadingContent struct {
	Level int    `json:"-"`
	Text  string `json:"text"`
}

type BodyContent struct {
	HTML string `json:"-"`
}

type ImageContent struct {
	URL     string `json:"url"`
	Alt     string `json:"alt,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type VideoContent struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

type TableContent struct {
	Rows      [][]string `json:"rows"`
	HasHeader bool       `json:"hasHeader"`
}

type CodeContent struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

type DividerContent struct{}

func (h HeadingContent) Kind() Type {
	switch h.Level {
	case 2:
		return Heading2
	case 3:
		return Heading3
	default:
		return Heading1
	}
}
func (BodyContent) Kind() Type    { return Body }
func (ImageContent) Kind() Type   { return Image }
func (VideoContent) Kind() Type   { return Video }
func (TableContent) Kind() Type   { return Table }
func (CodeContent) Kind() Type    { return Code }
func (DividerContent) Kind() Type { return Divider }

func ParseType(value string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(value)))
	switch t {
	case Heading1, Heading2, Heading3, Body, Image, Video, Table, Code, Divider:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown block type %q", ErrInvalidContent, value)
	}
}

// Parse validates raw client content for t. An empty string yields the
// empty payload of the type so editors can create blank blocks. Unknown
// JSON fields are rejected.
func Parse(t Type, raw string) (Content, error) {
	return parse(t, raw, true)
}

func parse(t Type, raw string, strict bool) (Content, error) {
	trimmed := strings.TrimSpace(raw)
	switch t {
	case Heading1, Heading2, Heading3:
		h := HeadingContent{Level: headingLevel(t)}
		if trimmed == "" {
			return h, nil
		}
		if err := decodeObject(trimmed, strict, &h); err != nil {
			return nil, err
		}
		return h, nil
	case Body:
		return BodyContent{HTML: raw}, nil
	case Image:
		var img ImageContent
		if trimmed == "" {
			return img, nil
		}
		if err := decodeObject(trimmed, strict, &img); err != nil {
			return nil, err
		}
		if err := validateURL(img.URL); err != nil {
			return nil, err
		}
		return img, nil
	case Video:
		var v VideoContent
		if trimmed == "" {
			return v, nil
		}
		if err := decodeObject(trimmed, strict, &v); err != nil {
			return nil, err
		}
		if err := validateURL(v.URL); err != nil {
			return nil, err
		}
		return v, nil
	case Table:
		tbl := TableContent{Rows: [][]string{}}
		if trimmed == "" {
			return tbl, nil
		}
		if err := decodeObject(trimmed, strict, &tbl); err != nil {
			return nil, err
		}
		if tbl.Rows == nil {
			tbl.Rows = [][]string{}
		}
		for i, row := range tbl.Rows {
			if len(row) != len(tbl.Rows[0]) {
				return nil, fmt.Errorf("%w: table row %d has %d cells, expected %d", ErrInvalidContent, i, len(row), len(tbl.Rows[0]))
			}
		}
		return tbl, nil
	case Code:
		var c CodeContent
		if trimmed == "" {
			return c, nil
		}
		if err := decodeObject(trimmed, strict, &c); err != nil {
			return nil, err
		}
		return c, nil
	case Divider:
		if trimmed != "" && trimmed != "{}" {
			return nil, fmt.Errorf("%w: divider takes no content", ErrInvalidContent)
		}
		return DividerContent{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown block type %q", ErrInvalidContent, t)
	}
}

// Encode returns the storage form of c.
func Encode(c Content) (string, error) {
	switch v := c.(type) {
	case BodyContent:
		return v.HTML, nil
	case DividerContent:
		return "{}", nil
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		// Stored text stays literal so substring search can match it.
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return "", fmt.Errorf("encode block: %w", err)
		}
		return strings.TrimSuffix(buf.String(), "\n"), nil
	}
}

// Normalize parses raw and re-encodes it, returning the stored form.
func Normalize(t Type, raw string) (string, error) {
	c, err := Parse(t, raw)
	if err != nil {
		return "", err
	}
	return Encode(c)
}

// Decode reads a stored block. Rows written before payloads were validated
// may hold plain text; headings and code accept that as their text.
func Decode(t Type, stored string) (Content, error) {
	c, err := parse(t, stored, false)
	if err == nil {
		return c, nil
	}
	switch t {
	case Heading1, Heading2, Heading3:
		return HeadingContent{Level: headingLevel(t), Text: stored}, nil
	case Code:
		return CodeContent{Code: stored}, nil
	}
	return nil, err
}

func headingLevel(t Type) int {
	switch t {
	case Heading2:
		return 2
	case Heading3:
		return 3
	default:
		return 1
	}
}

func decodeObject(raw string, strict bool, target any) error {
	if !strings.HasPrefix(raw, "{") {
		return fmt.Errorf("%w: expected a JSON object", ErrInvalidContent)
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", ErrInvalidContent)
	}
	return nil
}

// Retype converts stored content of type from into the storage form of type
// to. Headings keep their text across levels; other conversions need new
// content from the caller.
func Retype(from, to Type, stored string) (string, error) {
	if from == to {
		return stored, nil
	}
	if isHeading(from) && isHeading(to) {
		c, err := Decode(from, stored)
		if err != nil {
			return "", err
		}
		h, _ := c.(HeadingContent)
		return Encode(HeadingContent{Level: headingLevel(to), Text: h.Text})
	}
	return "", fmt.Errorf("%w: content is required when changing a %s block to %s", ErrInvalidContent, from, to)
}

func isHeading(t Type) bool {
	return t == Heading1 || t == Heading2 || t == Heading3
}

func validateURL(u string) error {
	u = strings.TrimSpace(u)
	if u == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidContent)
	}
	lower := strings.ToLower(u)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(u, "/") {
		return nil
	}
	return fmt.Errorf("%w: url must be absolute http(s) or a site path", ErrInvalidContent)
}
