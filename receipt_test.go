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

package confere

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conferelabs/confere/internal/extractor"
)

func TestIngestReceiptsPreservesOrder(t *testing.T) {
	svc := newTestConfere(func(doc extractor.Document, _ string) (json.RawMessage, error) {
		// Answer out of any fixed schedule; ordering must come from the
		// caller, not from extraction timing.
		return []byte(fmt.Sprintf(`{"amount":"%s,00","date":"10/03/2024","counterparty":"%s"}`,
			doc.Name, "cp-"+doc.Name)), nil
	})

	var files []ReceiptFile
	for i := 1; i <= 8; i++ {
		files = append(files, ReceiptFile{Path: fmt.Sprintf("%d", i), MIME: "image/png", Data: []byte("img")})
	}

	records := svc.IngestReceipts(context.Background(), files)
	require.Len(t, records, 8)
	for i, record := range records {
		assert.Equal(t, fmt.Sprintf("%d", i+1), record.SourceImagePath)
		assert.Equal(t, fmt.Sprintf("%d", i+1), record.Amount.String())
		assert.False(t, record.Unextracted)
	}
}

func TestIngestReceiptsIsolatesFailures(t *testing.T) {
	svc := newTestConfere(func(doc extractor.Document, _ string) (json.RawMessage, error) {
		if doc.Name == "broken.jpg" {
			return nil, &extractor.ExtractionError{Kind: extractor.KindServiceError, Message: "upstream down"}
		}
		return []byte(`{"amount":"100,00","date":"10/03/2024","counterparty":"Alice"}`), nil
	})

	records := svc.IngestReceipts(context.Background(), []ReceiptFile{
		{Path: "ok.jpg", Data: []byte("img")},
		{Path: "broken.jpg", Data: []byte("img")},
		{Path: "ok2.jpg", Data: []byte("img")},
	})

	require.Len(t, records, 3)
	assert.False(t, records[0].Unextracted)
	assert.True(t, records[1].Unextracted)
	assert.Contains(t, records[1].FailureReason, "upstream down")
	assert.Equal(t, "broken.jpg", records[1].SourceImagePath)
	assert.False(t, records[2].Unextracted)
}

func TestIngestReceiptSchemaMismatch(t *testing.T) {
	svc := newTestConfere(func(extractor.Document, string) (json.RawMessage, error) {
		return []byte(`[1,2,3]`), nil
	})

	records := svc.IngestReceipts(context.Background(), []ReceiptFile{{Path: "r.jpg", Data: []byte("img")}})
	require.Len(t, records, 1)
	assert.True(t, records[0].Unextracted)
	assert.Contains(t, records[0].FailureReason, "schema")
}

func TestIngestReceiptMissingMandatoryFields(t *testing.T) {
	svc := newTestConfere(func(doc extractor.Document, _ string) (json.RawMessage, error) {
		if doc.Name == "noamount.jpg" {
			return []byte(`{"amount":"","date":"10/03/2024","counterparty":"Alice"}`), nil
		}
		return []byte(`{"amount":"100,00","date":"","counterparty":"Alice"}`), nil
	})

	records := svc.IngestReceipts(context.Background(), []ReceiptFile{
		{Path: "noamount.jpg", Data: []byte("img")},
		{Path: "nodate.jpg", Data: []byte("img")},
	})
	require.Len(t, records, 2)
	assert.True(t, records[0].Unextracted)
	assert.Contains(t, records[0].FailureReason, "amount")
	assert.True(t, records[1].Unextracted)
	assert.Contains(t, records[1].FailureReason, "date")
}

func TestIngestReceiptDefaultsMIME(t *testing.T) {
	var gotMIME string
	svc := newTestConfere(func(doc extractor.Document, _ string) (json.RawMessage, error) {
		gotMIME = doc.MIME
		return []byte(`{"amount":"100,00","date":"10/03/2024","counterparty":"Alice"}`), nil
	})

	svc.IngestReceipts(context.Background(), []ReceiptFile{{Path: "r", Data: []byte("img")}})
	assert.Equal(t, "image/jpeg", gotMIME)
}
