package shopassist

import (
	"encoding/json"
	"sync"
)

// IntentType classifies what the user wants from a chat turn.
type IntentType string

const (
	IntentProductQuery IntentType = "product_query"
	IntentUseCaseQuery IntentType = "use_case_query"
	IntentGiftQuery    IntentType = "gift_query"
	IntentGeneralChat  IntentType = "general_chat"
	// IntentError marks a turn whose intent could not be determined.
	IntentError IntentType = "error"
)

// IntentParserToolName is the name of the forced structured-output tool.
const IntentParserToolName = "intent_parser"

// Category is a standardized product category. The set is closed; see Categories.
type Category string

// Categories is the closed list of categories the intent parser may emit.
var Categories = []Category{
	"headphone",
	"smartphone",
	"tablet",
	"smart_speaker",
	"smart_home_device",
	"smart_tv",
	"smart_light",
	"smart_thermostat",
	"smart_security_camera",
	"smart_watche",
	"smart_bulb",
	"smart_plug",
	"smart_lock",
	"smart_fridge",
	"smart_microwaves",
	"smart_kettles",
	"smart_cookers",
	"smart_vacuums",
	"smart_robots",
	"smart_air_purifiers",
	"camera",
	"laptop",
	"keyboard",
	"mice",
	"tents",
	"backpack",
	"drones",
	"speaker",
	"smartwatch",
	"Women's Fashion",
	"Men's Fashion",
	"Electronics",
	"Home & Lifestyle",
	"Medicine",
	"Sports & Outdoors",
	"Baby's & Toys",
	"Groceries & Pets",
	"Beauty & Health",
	"Chair",
}

// PriceRange bounds are optional and independent.
type PriceRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Intent is the structured interpretation of one user message. It is never persisted.
type Intent struct {
	IntentType IntentType  `json:"intentType"`
	Categories []Category  `json:"categories,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
	PriceRange *PriceRange `json:"priceRange,omitempty"`
	UseCase    string      `json:"useCase,omitempty"`
	Recipient  string      `json:"recipient,omitempty"`
	Occasion   string      `json:"occasion,omitempty"`
}

// GeneralChatIntent is the degraded intent used when extraction fails.
func GeneralChatIntent() Intent {
	return Intent{IntentType: IntentGeneralChat}
}

// PrimaryCategory returns the first category, or "" when there is none.
func (i Intent) PrimaryCategory() string {
	if len(i.Categories) == 0 {
		return ""
	}
	return string(i.Categories[0])
}

// NeedsCategory reports whether the intent is a product query that lacks a category.
func (i Intent) NeedsCategory() bool {
	return i.IntentType == IntentProductQuery && len(i.Categories) == 0
}

// IsSearchable reports whether the intent drives a catalog search: a product query with
// at least one category. Other intent types are answered conversationally.
func (i Intent) IsSearchable() bool {
	return i.IntentType == IntentProductQuery && len(i.Categories) > 0
}

var intentSchema = sync.OnceValue(func() json.RawMessage {
	categories := make([]string, len(Categories))
	for i, c := range Categories {
		categories[i] = string(c)
	}

	schema := map[string]interface{}{
		"type":        "object",
		"description": "Parse the user's intent. If it's a general chat, only 'intentType' is needed.",
		"properties": map[string]interface{}{
			"intentType": map[string]interface{}{
				"type":        "string",
				"enum":        []string{string(IntentProductQuery), string(IntentUseCaseQuery), string(IntentGiftQuery), string(IntentGeneralChat)},
				"description": "The single most appropriate intent for the user's query.",
			},
			"priceRange": map[string]interface{}{
				"type":        "object",
				"description": "The price range specified by the user.",
				"properties": map[string]interface{}{
					"min": map[string]interface{}{"type": "number", "description": "The minimum price specified by the user."},
					"max": map[string]interface{}{"type": "number", "description": "The maximum price specified by the user."},
				},
			},
			"categories": map[string]interface{}{
				"type":        "array",
				"description": "Relevant for 'product_query' and 'use_case_query'. An array of standardized product categories.",
				"items": map[string]interface{}{
					"type":        "string",
					"enum":        categories,
					"description": "The standardized product category. Map user wording in any language to a value from this list.",
				},
			},
			"tags": map[string]interface{}{
				"type":        "array",
				"description": "Relevant for 'product_query' and 'use_case_query'. Specific attributes like 'wireless' or 'waterproof'.",
				"items":       map[string]interface{}{"type": "string"},
			},
			"useCase": map[string]interface{}{
				"type":        "string",
				"description": "ONLY for 'use_case_query'. The user's described activity, e.g., 'hiking' or 'gaming'.",
			},
			"recipient": map[string]interface{}{
				"type":        "string",
				"description": "ONLY for 'gift_query'. The recipient of the gift, e.g., 'girlfriend' or 'father'.",
			},
			"occasion": map[string]interface{}{
				"type":        "string",
				"description": "ONLY for 'gift_query'. The gifting occasion, e.g., 'birthday' or 'anniversary'.",
			},
		},
		"required": []string{"intentType"},
	}

	b, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	return b
})

// IntentParserTool is the tool definition the intent extractor forces the model to call.
func IntentParserTool() ToolDefinition {
	return ToolDefinition{
		Name:        IntentParserToolName,
		Description: "Parses the user's complete intent into a single, structured object.",
		InputSchema: intentSchema(),
	}
}
