package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"

	"github.com/palantir/palantir-compute-module-crop-yield/internal/pipeline"
	"github.com/palantir/palantir-compute-module-crop-yield/internal/report"
	"github.com/palantir/palantir-compute-module-crop-yield/pkg/pipeline/core"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

type Narrator struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Narrator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Narrator{
		client: client,
		model:  strings.TrimSpace(cfg.Model),
	}, nil
}

// Summarize asks the model for a plain-text summary of both reports.
func (n *Narrator) Summarize(ctx context.Context, reports pipeline.Reports) (string, error) {
	if len(reports.Averages) == 0 && len(reports.Dominant) == 0 {
		return "", errors.New("nothing to summarize: reports are empty")
	}

	resp, err := n.client.Models.GenerateContent(
		ctx,
		n.model,
		genai.Text(buildPrompt(reports)),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "text/plain",
		},
	)
	if err != nil {
		return "", classifyErr(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("gemini: empty summary")
	}
	return text, nil
}

func buildPrompt(r pipeline.Reports) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(`
You are an agronomy analyst. Summarize the crop yield results below for a farm operations audience.

Rules:
- Use at most two short paragraphs of plain text.
- Only refer to crops, regions and numbers that appear below.
- Do not invent causes; describe what the numbers show.
`))
	fmt.Fprintf(&b, "\n\nObservations: %d rows, %d crops, %d regions.\n", r.Rows, r.Crops, r.Regions)

	b.WriteString("\nAverage yield (tons/hectare):\n")
	for _, c := range r.Averages.Crops() {
		fmt.Fprintf(&b, "- %s: %s\n", c, report.FormatYield(r.Averages[c]))
	}
	b.WriteString("\nMost common crop by region:\n")
	for _, region := range r.Dominant.Regions() {
		fmt.Fprintf(&b, "- %s: %s\n", region, r.Dominant[region])
	}
	return b.String()
}

func classifyErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 {
			return &core.LimitedTransientError{Err: err, MaxRetries: 2}
		}
		if apiErr.Code/100 == 5 {
			return &core.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &core.TransientError{Err: err}
	}
	return err
}
