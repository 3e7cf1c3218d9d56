package shopassist

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultImageMimeType is assumed for images that arrive without a data URL prefix.
const DefaultImageMimeType = "image/jpeg"

// ContentPart is one piece of a multipart message.
// The only implementations are TextPart and ImagePart.
type ContentPart interface {
	isContentPart()
}

// TextPart is a plain text segment of a message.
type TextPart struct {
	Text string
}

// ImagePart is an inline image with its raw (decoded) bytes.
type ImagePart struct {
	MimeType string
	Data     []byte
}

func (TextPart) isContentPart()  {}
func (ImagePart) isContentPart() {}

// Text wraps a string into single-part content.
func Text(s string) []ContentPart {
	return []ContentPart{TextPart{Text: s}}
}

// Base64 returns the image bytes encoded with standard base64.
func (p ImagePart) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// DataURL renders the image as a data URL, e.g. "data:image/png;base64,....".
func (p ImagePart) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", p.mimeType(), p.Base64())
}

func (p ImagePart) mimeType() string {
	if p.MimeType == "" {
		return DefaultImageMimeType
	}
	return p.MimeType
}

// ParseImage decodes base64 image input. Both a bare base64 payload and a
// "data:<mime>;base64,<payload>" URL are accepted; bare payloads default to image/jpeg.
func ParseImage(encoded string) (ImagePart, error) {
	encoded = strings.TrimSpace(encoded)
	mimeType := DefaultImageMimeType

	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return ImagePart{}, fmt.Errorf("malformed image data url")
		}
		if mt := strings.TrimSuffix(header, ";base64"); mt != "" {
			mimeType = mt
		}
		encoded = payload
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ImagePart{}, fmt.Errorf("failed to decode image: %w", err)
	}
	if len(data) == 0 {
		return ImagePart{}, fmt.Errorf("image is empty")
	}

	return ImagePart{MimeType: mimeType, Data: data}, nil
}

// HasContent reports whether parts carry anything worth sending to a model:
// a text part with non-blank text or an image part with data.
func HasContent(parts []ContentPart) bool {
	for _, part := range parts {
		switch p := part.(type) {
		case TextPart:
			if strings.TrimSpace(p.Text) != "" {
				return true
			}
		case ImagePart:
			if len(p.Data) > 0 {
				return true
			}
		}
	}
	return false
}

// JoinText concatenates all text parts with newlines.
func JoinText(parts []ContentPart) string {
	var texts []string
	for _, part := range parts {
		switch p := part.(type) {
		case TextPart:
			if strings.TrimSpace(p.Text) != "" {
				texts = append(texts, p.Text)
			}
		case ImagePart:
		}
	}
	return strings.Join(texts, "\n")
}

// FirstImage returns the first non-empty image part, if any.
func FirstImage(parts []ContentPart) *ImagePart {
	for _, part := range parts {
		switch p := part.(type) {
		case ImagePart:
			if len(p.Data) > 0 {
				img := p
				return &img
			}
		case TextPart:
		}
	}
	return nil
}

// contentPartJSON is the storage encoding of a ContentPart.
// []byte fields are base64-encoded by encoding/json.
type contentPartJSON struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

func marshalContent(parts []ContentPart) ([]byte, error) {
	encoded := make([]contentPartJSON, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case TextPart:
			encoded = append(encoded, contentPartJSON{Type: "text", Text: p.Text})
		case ImagePart:
			encoded = append(encoded, contentPartJSON{Type: "image", MimeType: p.MimeType, Data: p.Data})
		default:
			return nil, fmt.Errorf("unsupported content part %T", part)
		}
	}
	return json.Marshal(encoded)
}

// unmarshalContent decodes stored content. A bare JSON string is read as a single text part.
func unmarshalContent(data []byte) ([]ContentPart, error) {
	if len(data) == 0 {
		return []ContentPart{}, nil
	}

	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		return Text(plain), nil
	}

	var encoded []contentPartJSON
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message content: %w", err)
	}

	parts := make([]ContentPart, 0, len(encoded))
	for _, p := range encoded {
		switch p.Type {
		case "text":
			parts = append(parts, TextPart{Text: p.Text})
		case "image":
			parts = append(parts, ImagePart{MimeType: p.MimeType, Data: p.Data})
		default:
			return nil, fmt.Errorf("unknown content part type %q", p.Type)
		}
	}
	return parts, nil
}
