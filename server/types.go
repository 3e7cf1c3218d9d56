package server

import (
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/shaharia-lab/shopassist"
)

const (
	// MaxMessageBytes bounds the text of a chat message.
	MaxMessageBytes = 32 * 1024
	// MaxImageBase64Bytes bounds the encoded image, about 8MB once decoded.
	MaxImageBase64Bytes = 11 * 1024 * 1024
	// maxRequestBytes bounds the whole request body.
	maxRequestBytes = MaxImageBase64Bytes + MaxMessageBytes + 64*1024
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("sessionid", func(fl validator.FieldLevel) bool {
		return sessionIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxMessageBytes
	})
	return v
}

// chatRequest is the body of POST /api/chat. Presence of the session id and of some content
// is checked by the orchestrator so the rejection messages stay in one place.
type chatRequest struct {
	Message   string `json:"message" validate:"maxbytes"`
	Model     string `json:"model" validate:"max=100"`
	SessionID string `json:"sessionId" validate:"omitempty,sessionid"`
	UserID    string `json:"userId" validate:"omitempty,max=128"`
	// Image is base64, optionally as a data URL.
	Image string `json:"image" validate:"omitempty,max=11534336"`
}

type chatResponse struct {
	Response   string                `json:"response"`
	SessionID  string                `json:"sessionId"`
	Products   []shopassist.Product  `json:"products,omitempty"`
	IntentType shopassist.IntentType `json:"intentType,omitempty"`
}

type historyResponse struct {
	SessionID string                   `json:"sessionId"`
	Messages  []shopassist.ChatMessage `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}
