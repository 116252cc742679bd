package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/tybalt/worklog-classifier/internal/llm"
)

const DefaultModel = "gemini-2.5-flash"

var _ llm.Client = (*Client)(nil)

type Client struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg llm.Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = llm.DefaultTimeout
	}

	cc := &genai.ClientConfig{
		APIKey:     strings.TrimSpace(cfg.APIKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) Model() string { return c.model }

func (c *Client) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	contents, system := toContents(messages)
	config := &genai.GenerateContentConfig{
		CandidateCount: 1,
		Temperature:    genai.Ptr[float32](0),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", classifyErr(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", &llm.MalformedResponseError{Op: "generateContent", Reason: "no candidates in response"}
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &llm.MalformedResponseError{Op: "generateContent", Reason: "first candidate has no text parts"}
	}
	return text, nil
}

// toContents maps the conversation onto Gemini turns. System messages are
// folded into one system instruction; assistant turns use the "model" role.
func toContents(messages []llm.Message) ([]*genai.Content, string) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func classifyErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.Transport("generateContent", apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return llm.Transport("generateContent", apiErrPtr.Code, err)
	}
	return llm.Transport("generateContent", 0, err)
}
