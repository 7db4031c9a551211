package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockProvider generates emails through Claude on AWS Bedrock. Used by
// clients whose data must stay inside AWS.
type BedrockProvider struct {
	client  *bedrockruntime.Client
	modelID string
	region  string
}

// NewBedrockProvider creates a Bedrock provider. Static credentials take
// precedence; otherwise the default AWS credential chain applies.
func NewBedrockProvider(ctx context.Context, region, modelID, accessKey, secretKey string) (*BedrockProvider, error) {
	if region == "" {
		region = "us-east-1"
	}
	if modelID == "" {
		modelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &BedrockProvider{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
		region:  region,
	}, nil
}

// Name implements Provider.
func (b *BedrockProvider) Name() string { return "bedrock" }

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []anthropicMessage `json:"messages"`
	Temperature      float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func buildAnthropicRequest(prompt string, temperature float64, maxTokens int) ([]byte, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages:         []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature:      temperature,
	})
}

// GenerateEmail implements Provider.
func (b *BedrockProvider) GenerateEmail(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if b.client == nil {
		return nil, fmt.Errorf("bedrock client not initialized: %w", ErrNotConfigured)
	}

	modelID := req.Model
	if modelID == "" {
		modelID = b.modelID
	}

	body, err := buildAnthropicRequest(req.Prompt, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("marshal bedrock request: %w", err)
	}

	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		if strings.Contains(err.Error(), "ThrottlingException") {
			return nil, fmt.Errorf("bedrock throttled: %w", ErrRateLimited)
		}
		return nil, fmt.Errorf("invoke bedrock: %v: %w", err, ErrProvider)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("parse bedrock response: %v: %w", err, ErrProvider)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("bedrock returned no text content: %w", ErrProvider)
	}

	subject, bodyHTML := parseEmail(text.String())
	return &GenerateResult{
		Subject:          subject,
		BodyHTML:         bodyHTML,
		BodyText:         htmlToText(bodyHTML),
		Model:            modelID,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		CostUSD:          estimateCost(modelID, resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}, nil
}

// Ping implements Provider. A one-token invoke is the cheapest call that
// proves credentials, region, and model access all line up.
func (b *BedrockProvider) Ping(ctx context.Context) error {
	if b.client == nil {
		return fmt.Errorf("bedrock client not initialized: %w", ErrNotConfigured)
	}

	body, err := buildAnthropicRequest("ping", 0, 1)
	if err != nil {
		return err
	}

	_, err = b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("invoke bedrock: %v: %w", err, ErrProvider)
	}
	return nil
}

// ListModels implements Provider. Bedrock model discovery needs the
// control-plane API this service doesn't carry, so only the configured
// model is reported.
func (b *BedrockProvider) ListModels(_ context.Context) ([]string, error) {
	return []string{b.modelID}, nil
}
