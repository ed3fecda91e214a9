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
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/conferelabs/confere/internal/extractor"
	"github.com/conferelabs/confere/model"
)

// ReceiptFile is one uploaded receipt image handed in by the intake layer.
type ReceiptFile struct {
	Path string
	MIME string
	Data []byte
}

// receiptPayload is the schema the extractor is asked to produce for one
// receipt image.
type receiptPayload struct {
	Amount       string `json:"amount"`
	Date         string `json:"date"`
	Counterparty string `json:"counterparty"`
}

const receiptInstruction = `The image is a Brazilian payment receipt (comprovante de transferência).
Return a JSON object with: "amount" (transferred value as printed),
"date" (payment date as printed), "counterparty" (name of the beneficiary,
empty string if unreadable). Do not invent values.`

// IngestReceipts extracts structured records from a batch of receipt images.
// Images are processed concurrently up to the configured extractor
// concurrency; the returned slice preserves input order so downstream
// matching stays deterministic. One image's failure never aborts the batch:
// it yields an unextractable record the operator can see and retry.
func (s *Confere) IngestReceipts(ctx context.Context, receipts []ReceiptFile) []model.ReceiptRecord {
	records := make([]model.ReceiptRecord, len(receipts))

	sem := make(chan struct{}, s.config.Extractor.MaxConcurrency)
	var wg sync.WaitGroup

	for i, file := range receipts {
		wg.Add(1)
		go func(i int, file ReceiptFile) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			records[i] = s.ingestReceipt(ctx, file)
		}(i, file)
	}
	wg.Wait()

	return records
}

// ingestReceipt extracts one receipt. Every failure path returns a record
// carrying the image path and the reason, never an error.
func (s *Confere) ingestReceipt(ctx context.Context, file ReceiptFile) model.ReceiptRecord {
	record := model.ReceiptRecord{
		ReceiptID:       model.GenerateUUIDWithSuffix("receipt"),
		SourceImagePath: file.Path,
	}

	mimeType := file.MIME
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	raw, err := s.extractor.Extract(ctx, extractor.Document{Name: file.Path, MIME: mimeType, Data: file.Data}, receiptInstruction)
	if err != nil {
		logrus.WithField("image", file.Path).Warnf("receipt extraction failed: %v", err)
		record.Unextracted = true
		record.FailureReason = err.Error()
		return record
	}

	var payload receiptPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		record.Unextracted = true
		record.FailureReason = "extraction output does not match the receipt schema"
		return record
	}

	amount, err := parseAmount(payload.Amount)
	if err != nil {
		record.Unextracted = true
		record.FailureReason = "missing mandatory field amount"
		return record
	}
	date, err := parseDay(payload.Date)
	if err != nil {
		record.Unextracted = true
		record.FailureReason = "missing mandatory field date"
		return record
	}

	record.Amount = amount
	record.Date = date
	record.Counterparty = strings.TrimSpace(payload.Counterparty)
	return record
}
