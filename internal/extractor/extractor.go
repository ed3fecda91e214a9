/*
Copyright 2024 Confere Labs Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package extractor is the document-understanding boundary. It turns raw
// receipt images and statement files into structured JSON by calling an
// external model, and classifies every failure into a small taxonomy the
// callers can act on. The package performs no retries itself; retry policy
// is layered on with WithRetry.
package extractor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/conferelabs/confere/config"
)

// Kind classifies extraction failures.
type Kind string

const (
	// KindMalformedResponse means the service answered but its output could
	// not be parsed as structured data. Never silently coerced.
	KindMalformedResponse Kind = "malformed_response"
	// KindServiceError covers upstream failures: rate limit, auth, network,
	// timeout. The only retryable kind.
	KindServiceError Kind = "service_error"
	// KindUnexpected is everything else.
	KindUnexpected Kind = "unexpected"
)

// ExtractionError carries a machine-readable kind plus a human message.
type ExtractionError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an ExtractionError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind == kind
	}
	return false
}

func newError(kind Kind, message string, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, Message: message, Err: err}
}

// Document is one raw file handed to the extractor.
type Document struct {
	Name string
	MIME string
	Data []byte
}

// Extractor turns one document plus a natural-language schema instruction
// into a structured JSON payload. Implementations must return only the
// structured payload; callers re-validate shape before trusting it.
type Extractor interface {
	Extract(ctx context.Context, doc Document, instructions string) (json.RawMessage, error)
}

const systemPrompt = "Never wrap output in ```json fences. Always respond with bare JSON.\n"

// OpenAIExtractor calls a chat-completion model with temperature 0 and the
// document attached either inline (text formats) or as a base64 data URL
// (images and PDFs). The client is constructed explicitly from config; no
// process-wide key is ever set.
type OpenAIExtractor struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIExtractor builds an extractor from the extractor section of the
// configuration.
func NewOpenAIExtractor(cnf config.ExtractorConfig) *OpenAIExtractor {
	clientConfig := openai.DefaultConfig(cnf.ApiKey)
	if cnf.BaseUrl != "" {
		clientConfig.BaseURL = cnf.BaseUrl
	}
	return &OpenAIExtractor{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cnf.Model,
		timeout: time.Duration(cnf.TimeoutSec) * time.Second,
	}
}

// Extract sends the document to the model and returns the raw JSON payload.
// Timeout expiry surfaces as KindServiceError so a slow upstream can never
// hang a batch indefinitely.
func (e *OpenAIExtractor) Extract(ctx context.Context, doc Document, instructions string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt + instructions,
			},
			e.userMessage(doc),
		},
	}

	logrus.WithFields(logrus.Fields{"document": doc.Name, "mime": doc.MIME}).
		Info("sending extraction request")

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, newError(KindServiceError, "extraction call timed out", err)
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, newError(KindServiceError, fmt.Sprintf("extraction service error (status %d)", apiErr.HTTPStatusCode), err)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return nil, newError(KindServiceError, "extraction request failed", err)
		}
		return nil, newError(KindUnexpected, "extraction call failed", err)
	}

	if len(resp.Choices) == 0 {
		return nil, newError(KindMalformedResponse, "extraction service returned no choices", nil)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		return nil, newError(KindMalformedResponse, "extraction output is not valid JSON", nil)
	}

	logrus.WithField("document", doc.Name).Info("extraction completed")
	return json.RawMessage(content), nil
}

// userMessage packs the document into the user turn. Binary formats travel
// as data URLs; text formats are inlined after the filename.
func (e *OpenAIExtractor) userMessage(doc Document) openai.ChatCompletionMessage {
	if isBinaryPayload(doc.MIME) {
		return openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: fmt.Sprintf("Document: %s", doc.Name),
				},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: dataURL(doc),
					},
				},
			},
		}
	}
	return openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf("Document: %s\n\n%s", doc.Name, string(doc.Data)),
	}
}

func isBinaryPayload(mime string) bool {
	if strings.HasPrefix(mime, "image/") {
		return true
	}
	switch mime {
	case "application/pdf",
		"application/zip",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return true
	}
	return false
}

func dataURL(doc Document) string {
	return fmt.Sprintf("data:%s;base64,%s", doc.MIME, base64.StdEncoding.EncodeToString(doc.Data))
}
