package chat

import "errors"

var (
	// ErrInvalidPayload is returned when a payload does not carry exactly one
	// of text / attachment URL.
	ErrInvalidPayload = errors.New("message payload must carry exactly one of text or attachment")
)

// Payload is the validated content of a message: either text or an attachment
// URL, never both and never neither. The zero value is invalid, so a Payload
// that reaches Append was necessarily built through one of the constructors.
type Payload struct {
	text          string
	attachmentURL string
	valid         bool
}

// TextPayload builds a text payload.
func TextPayload(text string) (Payload, error) {
	if text == "" {
		return Payload{}, ErrInvalidPayload
	}
	return Payload{text: text, valid: true}, nil
}

// AttachmentPayload builds an attachment payload from an already-uploaded URL.
func AttachmentPayload(url string) (Payload, error) {
	if url == "" {
		return Payload{}, ErrInvalidPayload
	}
	return Payload{attachmentURL: url, valid: true}, nil
}

// NewPayload builds a payload from raw client input. Exactly one of the two
// fields must be non-empty.
func NewPayload(text, attachmentURL string) (Payload, error) {
	switch {
	case text != "" && attachmentURL != "":
		return Payload{}, ErrInvalidPayload
	case text != "":
		return TextPayload(text)
	case attachmentURL != "":
		return AttachmentPayload(attachmentURL)
	default:
		return Payload{}, ErrInvalidPayload
	}
}

func (p Payload) Text() string          { return p.text }
func (p Payload) AttachmentURL() string { return p.attachmentURL }

// Empty reports whether both fields are empty. Used by the session controller
// to treat a blank send as user-input noise rather than an error.
func (p Payload) Empty() bool { return p.text == "" && p.attachmentURL == "" }
