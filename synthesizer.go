package shopassist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shaharia-lab/shopassist/observability"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultMaxProductsInPrompt is how many products the summary prompt lists.
	DefaultMaxProductsInPrompt = 5
	// maxPromptDescription is the rune limit for a product description in the prompt.
	maxPromptDescription = 100

	defaultRetryDelay = 250 * time.Millisecond
)

// Reply is the user-facing answer of one turn.
type Reply struct {
	Text     string
	Products []Product
}

const (
	noMessagesReply = "I don't have anything to respond to yet. What are you looking for?"

	shoppingAssistantPrompt = `You are a friendly shopping assistant for an online store. ` +
		`Help the customer find products, answer questions about shopping, and keep replies short and helpful. ` +
		`If the customer shares an image, describe what you see only as far as it helps them shop.`
)

// NoProductsReply is the templated answer for a search with no results.
func NoProductsReply(category string) string {
	return fmt.Sprintf("Sorry, I couldn't find any products for %s.", category)
}

// ResponseSynthesizer turns search results or conversation history into reply text.
type ResponseSynthesizer struct {
	provider    LLMProvider
	maxProducts int
	retryDelay  time.Duration
	log         Logger
}

// SynthesizerOption configures a ResponseSynthesizer.
type SynthesizerOption func(*ResponseSynthesizer)

// WithMaxProductsInPrompt limits the products listed in the summary prompt. Values below 1 are ignored.
func WithMaxProductsInPrompt(n int) SynthesizerOption {
	return func(s *ResponseSynthesizer) {
		if n > 0 {
			s.maxProducts = n
		}
	}
}

// WithRetryDelay sets the pause before retrying a transient failure.
func WithRetryDelay(d time.Duration) SynthesizerOption {
	return func(s *ResponseSynthesizer) {
		s.retryDelay = d
	}
}

// WithSynthesizerLogger sets the logger.
func WithSynthesizerLogger(log Logger) SynthesizerOption {
	return func(s *ResponseSynthesizer) {
		s.log = log
	}
}

// NewResponseSynthesizer creates a synthesizer answering through provider.
func NewResponseSynthesizer(provider LLMProvider, opts ...SynthesizerOption) *ResponseSynthesizer {
	s := &ResponseSynthesizer{
		provider:    provider,
		maxProducts: DefaultMaxProductsInPrompt,
		retryDelay:  defaultRetryDelay,
		log:         NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RespondToProductQuery summarizes products for the customer. With no products it returns
// the templated not-found reply without calling the model. The full product list is
// returned even when only the first few are described.
func (s *ResponseSynthesizer) RespondToProductQuery(ctx context.Context, intent Intent, products []Product) (Reply, error) {
	if len(products) == 0 {
		return Reply{Text: NoProductsReply(intent.PrimaryCategory()), Products: []Product{}}, nil
	}

	ctx, span := observability.StartSpan(ctx, "ResponseSynthesizer.RespondToProductQuery")
	defer span.End()
	span.SetAttributes(attribute.Int("product_count", len(products)))

	prompt := s.productSummaryPrompt(products)
	text, err := s.generate(ctx, []LLMMessage{NewTextMessage(UserRole, prompt)}, NewRequestConfig())
	if err != nil {
		span.RecordError(err)
		return Reply{}, err
	}

	return Reply{Text: text, Products: products}, nil
}

// RespondGeneral answers free-form conversation over the valid history, oldest first,
// with the current message last.
func (s *ResponseSynthesizer) RespondGeneral(ctx context.Context, validMessages []ChatMessage) (Reply, error) {
	if len(validMessages) == 0 {
		return Reply{Text: noMessagesReply, Products: []Product{}}, nil
	}

	ctx, span := observability.StartSpan(ctx, "ResponseSynthesizer.RespondGeneral")
	defer span.End()
	span.SetAttributes(attribute.Int("message_count", len(validMessages)))

	messages := append([]LLMMessage{NewTextMessage(SystemRole, shoppingAssistantPrompt)}, ToLLMMessages(validMessages)...)
	text, err := s.generate(ctx, messages, NewRequestConfig())
	if err != nil {
		span.RecordError(err)
		return Reply{}, err
	}

	return Reply{Text: text, Products: []Product{}}, nil
}

func (s *ResponseSynthesizer) productSummaryPrompt(products []Product) string {
	var sb strings.Builder
	sb.WriteString("Here are the products found for the customer's request. ")
	sb.WriteString("Summarize them concisely and reply in a friendly way. ")
	sb.WriteString("Mention only the key details such as name, price and a short description. ")
	sb.WriteString("If there are many, pick a few representative ones.\n\nProducts:\n")

	for i, p := range products {
		if i == s.maxProducts {
			break
		}
		fmt.Fprintf(&sb, "- %s ($%.2f): %s\n", p.Name, p.Price, truncateRunes(p.Description, maxPromptDescription))
	}
	if extra := len(products) - s.maxProducts; extra > 0 {
		fmt.Fprintf(&sb, "(%d more products not listed)\n", extra)
	}
	return sb.String()
}

// generate calls the model, retrying once when the failure is transient.
// Failures are returned as *SynthesisError.
func (s *ResponseSynthesizer) generate(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (string, error) {
	resp, err := s.provider.GetResponse(ctx, messages, config)
	if err != nil && isTransient(err) && ctx.Err() == nil {
		s.log.WithErr(err).Warn("Transient chat backend failure, retrying once")

		timer := time.NewTimer(s.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", &SynthesisError{Err: ctx.Err()}
		case <-timer.C:
		}

		resp, err = s.provider.GetResponse(ctx, messages, config)
	}
	if err != nil {
		return "", &SynthesisError{Err: err}
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", &SynthesisError{Err: fmt.Errorf("chat backend returned no text")}
	}
	return text, nil
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
