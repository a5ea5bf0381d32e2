// Package vertex wraps Gemini models served by Vertex AI.
package vertex

import (
	"context"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/rotisserie/eris"
)

// Client generates text with a Gemini model.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Close() error
}

// GenerateRequest is a single-turn generation request.
type GenerateRequest struct {
	Model     string
	System    string
	Text      string
	MaxTokens int32
}

type genaiClient struct {
	base *genai.Client
}

// NewClient creates a Vertex AI client using application default credentials.
func NewClient(ctx context.Context, projectID, region string) (Client, error) {
	if projectID == "" || region == "" {
		return nil, eris.New("vertex: project id and region are required")
	}
	base, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, eris.Wrap(err, "vertex: new client")
	}
	return &genaiClient{base: base}, nil
}

func (c *genaiClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	model := c.base.GenerativeModel(req.Model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Text))
	if err != nil {
		return "", eris.Wrapf(err, "vertex: generate content with %s", req.Model)
	}
	return responseText(resp)
}

func (c *genaiClient) Close() error {
	return c.base.Close()
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", eris.New("vertex: no candidates returned")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", eris.Errorf("vertex: empty candidate (finish reason %v)", cand.FinishReason)
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String(), nil
}
