package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash-lite"

const systemInstruction = `You extract metadata for Arabic audio recordings (nasheeds, latmiyat, recitations, songs).
Input is two lines: "video_title: <raw video title>" and "channel: <channel name>".
The channel may be the performer's own name or a generic label or company channel.

Cleaning: drop noise from the video title such as "video clip", "exclusive", "lyrics", "HQ", "4K",
"Official", "Live", "Cover", "Remix", years (2024, 1442 ...), emoji and brackets holding secondary information.
Artist: prefer a performer named in the video title (after "-", "|", "by", "performed by", "al-radood",
"al-qari"); otherwise use the channel when it names a person.
Title: what remains once the artist and the noise are removed; short, without marketing words.

Answer with exactly two lines and nothing else, in Arabic when the input is Arabic:
title: <title>
artist: <artist>
Never output JSON, code fences, quotes or explanations. Give your best guess when unsure.`

// Gemini infers metadata with a Google Gemini model.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a Gemini backend. The client is reused for every call.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key not set")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create new gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}

	return &Gemini{client: client, model: model}, nil
}

// Infer sends the two-line request and parses the two-line answer.
func (g *Gemini) Infer(ctx context.Context, videoTitle, channel string) (Result, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(FormatRequest(videoTitle, channel)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: generate content: %w", ErrInference, err)
	}

	raw, err := responseText(resp)
	if err != nil {
		return Result{}, err
	}

	title, artist, err := ParseResponse(raw)
	if err != nil {
		return Result{Raw: raw}, err
	}
	return Result{Title: title, Artist: artist, Raw: raw}, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates returned from Gemini", ErrInference)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty content returned from Gemini", ErrInference)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: unexpected response format from Gemini", ErrInference)
	}
	return b.String(), nil
}
