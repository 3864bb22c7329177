package transport

import "strings"

// Kind tags a Content variant. The values are stored in broadcast logs.
type Kind string

const (
	KindText      Kind = "text"
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindDocument  Kind = "document"
	KindAnimation Kind = "animation"
)

// Content is a sealed set of message payloads: TextContent or MediaContent.
type Content interface {
	Kind() Kind
	// Body is the message text or media caption.
	Body() string
	content()
}

type TextContent struct {
	Text string
}

func (TextContent) Kind() Kind { return KindText }
func (c TextContent) Body() string { return c.Text }
func (TextContent) content() {}

// MediaContent references an already uploaded file by its platform file id.
type MediaContent struct {
	MediaKind Kind
	FileID    string
	Caption   string
}

func (c MediaContent) Kind() Kind { return c.MediaKind }
func (c MediaContent) Body() string { return c.Caption }
func (MediaContent) content() {}

func Text(body string) Content { return TextContent{Text: body} }

func Photo(fileID, caption string) Content {
	return MediaContent{MediaKind: KindPhoto, FileID: fileID, Caption: caption}
}

func Video(fileID, caption string) Content {
	return MediaContent{MediaKind: KindVideo, FileID: fileID, Caption: caption}
}

func Document(fileID, caption string) Content {
	return MediaContent{MediaKind: KindDocument, FileID: fileID, Caption: caption}
}

func Animation(fileID, caption string) Content {
	return MediaContent{MediaKind: KindAnimation, FileID: fileID, Caption: caption}
}

// IsEmpty reports whether c carries nothing deliverable.
func IsEmpty(c Content) bool {
	switch v := c.(type) {
	case nil:
		return true
	case TextContent:
		return strings.TrimSpace(v.Text) == ""
	case MediaContent:
		return strings.TrimSpace(v.FileID) == ""
	default:
		return false
	}
}

// Button is an inline keyboard button: a link when URL is set, a callback otherwise.
type Button struct {
	Text string
	URL  string
	Data string
}

// Keyboard is a list of button rows.
type Keyboard [][]Button

func (k Keyboard) Empty() bool {
	for _, row := range k {
		if len(row) > 0 {
			return false
		}
	}
	return true
}
