package shopassist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shaharia-lab/shopassist/observability"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// IntentExtractor turns a user message (text and/or image) into an Intent with one forced tool call.
type IntentExtractor struct {
	llm       *LLMRequest
	extractor ResponseExtractor
	schema    *gojsonschema.Schema
	log       Logger
}

// NewIntentExtractor builds an extractor on top of provider. The provider is fixed for the
// extractor's lifetime; it does not follow the chat backend chosen per request.
func NewIntentExtractor(provider LLMProvider, log Logger) (*IntentExtractor, error) {
	if provider == nil {
		return nil, errors.New("intent extractor requires an LLM provider")
	}
	if log == nil {
		log = NewNullLogger()
	}

	tool := IntentParserTool()
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(tool.InputSchema))
	if err != nil {
		return nil, fmt.Errorf("invalid intent schema: %w", err)
	}

	return &IntentExtractor{
		llm:       NewLLMRequest(NewRequestConfig(WithTemperature(0), WithForcedTool(tool)), provider),
		extractor: NewJSONExtractor(tool.Name),
		schema:    schema,
		log:       log,
	}, nil
}

// ExtractIntent returns InvalidInputError when there is neither text nor image, and
// ExtractionFailedError when the model does not produce a valid intent payload.
func (e *IntentExtractor) ExtractIntent(ctx context.Context, text string, image *ImagePart) (Intent, error) {
	ctx, span := observability.StartSpan(ctx, "IntentExtractor.ExtractIntent")
	defer span.End()

	text = strings.TrimSpace(text)
	hasImage := image != nil && len(image.Data) > 0
	if text == "" && !hasImage {
		return Intent{}, &InvalidInputError{Message: "either text input or image input is required"}
	}

	content := []ContentPart{TextPart{Text: intentPrompt(text)}}
	if hasImage {
		content = append(content, *image)
	}

	resp, err := e.llm.Generate(ctx, []LLMMessage{{Role: UserRole, Content: content}})
	if err != nil {
		span.RecordError(err)
		return Intent{}, &ExtractionFailedError{Err: err}
	}

	payload, err := e.extractor.Extract(resp)
	if err != nil {
		span.RecordError(err)
		return Intent{}, &ExtractionFailedError{Err: err}
	}

	intent, err := e.decode(payload)
	if err != nil {
		e.log.WithFields(map[string]interface{}{"payload": string(payload)}).WithErr(err).Warn("Intent payload rejected")
		span.RecordError(err)
		return Intent{}, &ExtractionFailedError{Err: err}
	}

	span.SetAttributes(
		attribute.String("intent_type", string(intent.IntentType)),
		attribute.Int("category_count", len(intent.Categories)),
		attribute.Bool("has_image", hasImage),
	)
	e.log.WithFields(map[string]interface{}{
		"intentType": intent.IntentType,
		"categories": intent.Categories,
	}).Debug("Extracted intent")

	return intent, nil
}

func intentPrompt(text string) string {
	if text == "" {
		return `Please extract the intent based on the image content and user's request. Then call the intent_parser tool with the extracted information. User request: ""`
	}
	return fmt.Sprintf(`Analyze the user's request and call the intent_parser tool with the extracted information. User request: "%s"`, text)
}

// decode validates payload against the intent schema and unmarshals it. Null values are
// treated as absent, since models emit them for optional fields.
func (e *IntentExtractor) decode(payload json.RawMessage) (Intent, error) {
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Intent{}, fmt.Errorf("failed to unmarshal intent payload: %w", err)
	}
	doc = dropNulls(doc)

	result, err := e.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return Intent{}, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return Intent{}, fmt.Errorf("schema validation failed: %s", strings.Join(errorMessages, "; "))
	}

	cleaned, err := json.Marshal(doc)
	if err != nil {
		return Intent{}, err
	}

	var intent Intent
	if err := json.Unmarshal(cleaned, &intent); err != nil {
		return Intent{}, fmt.Errorf("failed to decode intent: %w", err)
	}
	// A range with neither bound carries nothing.
	if pr := intent.PriceRange; pr != nil && pr.Min == nil && pr.Max == nil {
		intent.PriceRange = nil
	}
	return intent, nil
}

func dropNulls(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if val == nil {
				delete(t, k)
				continue
			}
			t[k] = dropNulls(val)
		}
		return t
	case []interface{}:
		out := t[:0]
		for _, val := range t {
			if val != nil {
				out = append(out, dropNulls(val))
			}
		}
		return out
	default:
		return v
	}
}
