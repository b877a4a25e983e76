package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// bedrockAPI is the subset of the Bedrock runtime client we use
type bedrockAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient implements Client on the Bedrock Converse API
type BedrockClient struct {
	api    bedrockAPI
	config *Config
}

// NewBedrockClient loads AWS credentials from the default chain
func NewBedrockClient(ctx context.Context, config *Config) (*BedrockClient, error) {
	api, err := newBedrockRuntime(ctx, config.Region)
	if err != nil {
		return nil, err
	}
	return &BedrockClient{api: api, config: config}, nil
}

func newBedrockRuntime(ctx context.Context, region string) (*bedrockruntime.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

// GenerateContent generates text content using the specified model tier
func (c *BedrockClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	modelID := c.config.GetModel(tier)
	if modelID == "" {
		return "", fmt.Errorf("no model configured for tier %s", tier)
	}

	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelID),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(c.config.maxTokens())),
			Temperature: aws.Float32(c.config.Temperature),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to converse with bedrock: %w", err)
	}

	return extractConverseText(out)
}

// GenerateJSON generates JSON content using the specified model tier
func (c *BedrockClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	text, err := c.GenerateContent(ctx, prompt+jsonInstruction, tier)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

// GetModel returns the model id for a tier
func (c *BedrockClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close is a no-op; the AWS client holds no resources
func (c *BedrockClient) Close() error {
	return nil
}

func extractConverseText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", fmt.Errorf("empty bedrock response")
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("unexpected bedrock output type %T", out.Output)
	}

	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return sb.String(), nil
}
