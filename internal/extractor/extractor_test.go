package extractor

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T) *OpenAIExtractor {
	t.Helper()

	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	clientConfig := openai.DefaultConfig("sk-test")
	clientConfig.HTTPClient = httpClient

	return &OpenAIExtractor{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   "gpt-4o-mini",
		timeout: 5 * time.Second,
	}
}

func completionBody(content string) map[string]interface{} {
	return map[string]interface{}{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{
				"index": 0,
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
	}
}

func TestExtractReturnsStructuredPayload(t *testing.T) {
	e := newTestExtractor(t)

	httpmock.RegisterResponder("POST", "https://api.openai.com/v1/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			return httpmock.NewJsonResponse(200, completionBody(`{"valor": "150,00", "data": "02/05/2024"}`))
		})

	doc := Document{Name: "comprovante.jpg", MIME: "image/jpeg", Data: []byte{0xff, 0xd8}}
	out, err := e.Extract(context.Background(), doc, "Extract amount and date.")
	require.NoError(t, err)
	assert.JSONEq(t, `{"valor": "150,00", "data": "02/05/2024"}`, string(out))
}

func TestExtractMalformedResponse(t *testing.T) {
	e := newTestExtractor(t)

	httpmock.RegisterResponder("POST", "https://api.openai.com/v1/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			return httpmock.NewJsonResponse(200, completionBody("sorry, I cannot do that"))
		})

	doc := Document{Name: "comprovante.jpg", MIME: "image/jpeg", Data: []byte{0xff, 0xd8}}
	_, err := e.Extract(context.Background(), doc, "Extract amount and date.")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindMalformedResponse), "expected malformed_response, got %v", err)
}

func TestExtractServiceError(t *testing.T) {
	e := newTestExtractor(t)

	httpmock.RegisterResponder("POST", "https://api.openai.com/v1/chat/completions",
		httpmock.NewStringResponder(429, `{"error": {"message": "rate limited", "type": "requests"}}`))

	doc := Document{Name: "extrato.pdf", MIME: "application/pdf", Data: []byte("%PDF-1.4")}
	_, err := e.Extract(context.Background(), doc, "Extract the rows.")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindServiceError), "expected service_error, got %v", err)
}

func TestExtractSpreadsheetAsDataURL(t *testing.T) {
	e := newTestExtractor(t)

	var sawBody string
	httpmock.RegisterResponder("POST", "https://api.openai.com/v1/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			buf := make([]byte, req.ContentLength)
			_, _ = req.Body.Read(buf)
			sawBody = string(buf)
			return httpmock.NewJsonResponse(200, completionBody(`{"transfers": []}`))
		})

	// xlsx files are zip archives; raw bytes must never be inlined into the
	// chat message.
	doc := Document{
		Name: "extrato.xlsx",
		MIME: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Data: []byte("PK\x03\x04fakesheet"),
	}
	_, err := e.Extract(context.Background(), doc, "Extract the rows.")
	require.NoError(t, err)
	assert.Contains(t, sawBody, "data:application/vnd.openxmlformats-officedocument.spreadsheetml.sheet;base64,")
	assert.NotContains(t, sawBody, "fakesheet")

	doc = Document{Name: "extrato.zip", MIME: "application/zip", Data: []byte("PK\x03\x04archive")}
	_, err = e.Extract(context.Background(), doc, "Extract the rows.")
	require.NoError(t, err)
	assert.Contains(t, sawBody, "data:application/zip;base64,")
}

func TestExtractTextDocumentInlined(t *testing.T) {
	e := newTestExtractor(t)

	var sawBody string
	httpmock.RegisterResponder("POST", "https://api.openai.com/v1/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			buf := make([]byte, req.ContentLength)
			_, _ = req.Body.Read(buf)
			sawBody = string(buf)
			return httpmock.NewJsonResponse(200, completionBody(`{"registros": []}`))
		})

	doc := Document{Name: "extrato.csv", MIME: "text/csv", Data: []byte("valor,data\n100,2024-05-01")}
	_, err := e.Extract(context.Background(), doc, "Extract the rows.")
	require.NoError(t, err)
	assert.Contains(t, sawBody, "valor,data")
}
