package shopassist

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockClient interface for AWS Bedrock operations
type BedrockClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClientWrapper wraps the bedrockruntime.Client to implement the BedrockClient interface
type BedrockClientWrapper struct {
	client *bedrockruntime.Client
}

// NewBedrockClientWrapper wraps an SDK client.
func NewBedrockClientWrapper(client *bedrockruntime.Client) *BedrockClientWrapper {
	return &BedrockClientWrapper{client: client}
}

// Converse implements the BedrockClient interface
func (w *BedrockClientWrapper) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return w.client.Converse(ctx, params, optFns...)
}
