// Package inference asks an external model to guess a track's title and
// artist from the raw video title and channel name.
//
// The exchange is a plain two-line text protocol:
//
//	request:  video_title: <value>\nchannel: <value>
//	response: title: <value>\nartist: <value>
//
// Any other response shape is an inference failure.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInference marks every inference failure: transport errors, timeouts and
// malformed responses.
var ErrInference = errors.New("inference failed")

// Result is a successful guess. Raw holds the unparsed backend response.
type Result struct {
	Title  string
	Artist string
	Raw    string
}

// Inferrer guesses metadata for one discovered file.
// On failure the returned Result may still carry Raw for debugging.
type Inferrer interface {
	Infer(ctx context.Context, videoTitle, channel string) (Result, error)
}

// FormatRequest renders the two-line request body.
func FormatRequest(videoTitle, channel string) string {
	return "video_title: " + oneLine(videoTitle) + "\nchannel: " + oneLine(channel)
}

// ParseResponse parses a two-line "title: ...\nartist: ..." response.
// Surrounding whitespace is ignored; keys are case-insensitive.
func ParseResponse(text string) (title, artist string, err error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	lines := strings.Split(text, "\n")
	if len(lines) != 2 {
		return "", "", fmt.Errorf("%w: expected 2 lines, got %d", ErrInference, len(lines))
	}

	title, err = field(lines[0], "title")
	if err != nil {
		return "", "", err
	}
	artist, err = field(lines[1], "artist")
	if err != nil {
		return "", "", err
	}
	return title, artist, nil
}

func field(line, key string) (string, error) {
	k, v, ok := strings.Cut(line, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(k), key) {
		return "", fmt.Errorf("%w: expected %q line, got %q", ErrInference, key, line)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: empty %s", ErrInference, key)
	}
	return v, nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// timeoutInferrer bounds every call of the wrapped Inferrer.
type timeoutInferrer struct {
	inner   Inferrer
	timeout time.Duration
}

// WithTimeout returns an Inferrer whose calls fail with ErrInference once d elapses.
// A non-positive d disables the bound.
func WithTimeout(inner Inferrer, d time.Duration) Inferrer {
	if d <= 0 {
		return inner
	}
	return &timeoutInferrer{inner: inner, timeout: d}
}

func (t *timeoutInferrer) Infer(ctx context.Context, videoTitle, channel string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := t.inner.Infer(ctx, videoTitle, channel)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && !errors.Is(o.err, ErrInference) {
			o.err = fmt.Errorf("%w: %w", ErrInference, o.err)
		}
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: timed out after %s: %w", ErrInference, t.timeout, ctx.Err())
	}
}
