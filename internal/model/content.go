package model

import (
	"errors"
	"strings"
)

// ErrEmptyContent is returned when a message would carry neither text
// nor media.
var ErrEmptyContent = errors.New("message content: no text and no media")

// ContentKind tags the shape of a message body.
type ContentKind int

const (
	TextOnly ContentKind = iota
	MediaOnly
	TextWithMedia
)

// Content is what a message carries: text, media, or both — never
// neither. Values are only constructible through NewContent, which makes
// the invariant structural rather than a scattered runtime check.
type Content struct {
	text  string
	media *Media
}

// NewContent builds a content value. Text is kept verbatim, but a body
// that is blank after trimming counts as absent; with no media either,
// ErrEmptyContent is returned.
func NewContent(text string, media *Media) (Content, error) {
	if strings.TrimSpace(text) == "" && media == nil {
		return Content{}, ErrEmptyContent
	}
	return Content{text: text, media: media}, nil
}

// Kind returns the shape tag of the content.
func (c Content) Kind() ContentKind {
	switch {
	case c.media == nil:
		return TextOnly
	case strings.TrimSpace(c.text) == "":
		return MediaOnly
	default:
		return TextWithMedia
	}
}

// Text returns the text body, possibly empty for media-only content.
func (c Content) Text() string { return c.text }

// Media returns the attachment, nil for text-only content.
func (c Content) Media() *Media { return c.media }
