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
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/conferelabs/confere/internal/extractor"
	"github.com/conferelabs/confere/model"
)

// statementPayload is the canonical schema every statement extraction is
// asked to produce, regardless of the originating bank layout. Callers
// re-validate the shape before trusting it.
type statementPayload struct {
	Transfers []statementRow `json:"transfers"`
}

type statementRow struct {
	Amount       string `json:"amount"`
	Date         string `json:"date"`
	Counterparty string `json:"counterparty"`
	Reference    string `json:"reference"`
}

const statementSchemaInstruction = `Return a JSON object with a "transfers" array. Each element has:
"amount" (transaction value as printed, keep sign), "date" (transaction date as printed),
"counterparty" (name of the other party, empty string if absent),
"reference" (document/row identifier, empty string if absent).
Include every transaction row in the document. Do not invent rows or fields.`

// statementInstructions describes each bank's layout to the extractor. The
// per-format hint is what lets one canonical schema absorb four unrelated
// export styles.
var statementInstructions = map[model.SourceBank]string{
	model.BankItau:    "The document is an Itaú bank statement exported as a tabular PDF. Each table row is one transaction; the value column uses Brazilian formatting (1.234,56) and dates are dd/mm/yyyy.\n" + statementSchemaInstruction,
	model.BankCorpx:   "The document is a CorpX bank statement exported as a tabular PDF. Each line holds date, description with the counterparty name, and signed value.\n" + statementSchemaInstruction,
	model.BankDigital: "The document is a digital-bank statement exported as a spreadsheet. The first row is a header; each following row is one transaction.\n" + statementSchemaInstruction,
	model.BankGeneric: "The document is a generic bank export (spreadsheet). The first row is a header; each following row is one transaction.\n" + statementSchemaInstruction,
}

// NormalizeStatement converts one bank-specific statement file into canonical
// transfer records, each tagged with its originating source bank. Rows missing
// a mandatory field (amount or date) are excluded and logged, never fabricated;
// remaining rows of the same file still go through.
func (s *Confere) NormalizeStatement(ctx context.Context, bank model.SourceBank, filename string, data []byte) ([]model.TransferRecord, error) {
	instruction, ok := statementInstructions[bank]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, bank)
	}

	fileType, err := detectFileType(data, filename)
	if err != nil {
		return nil, errors.Wrapf(err, "detecting file type of %s", filename)
	}
	if !formatAccepts(bank, fileType) {
		return nil, fmt.Errorf("%w: %s file uploaded under tag %q", ErrUnsupportedFormat, fileType, bank)
	}

	// CSV exports are segmented locally; everything else goes through the
	// extractor whole-document.
	if fileType == "text/csv" {
		return s.parseStatementCSV(bank, filename, bytes.NewReader(data))
	}

	raw, err := s.extractor.Extract(ctx, extractor.Document{Name: filename, MIME: fileType, Data: data}, instruction)
	if err != nil {
		return nil, err
	}

	var payload statementPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &extractor.ExtractionError{
			Kind:    extractor.KindMalformedResponse,
			Message: fmt.Sprintf("statement payload for %s does not match the canonical schema", filename),
			Err:     err,
		}
	}

	records := make([]model.TransferRecord, 0, len(payload.Transfers))
	excluded := 0
	for i, row := range payload.Transfers {
		record, err := buildTransferRecord(bank, filename, i, row)
		if err != nil {
			excluded++
			logrus.WithFields(logrus.Fields{"file": filename, "row": i, "bank": bank}).
				Warnf("excluding statement row: %v", err)
			continue
		}
		records = append(records, record)
	}
	if excluded > 0 {
		logrus.WithFields(logrus.Fields{"file": filename, "bank": bank}).
			Warnf("excluded %d rows missing mandatory fields", excluded)
	}
	return records, nil
}

// formatAccepts checks that the uploaded bytes look like the format the tag
// promises. PDF-based banks must upload PDFs; the spreadsheet banks accept
// spreadsheets and CSV.
func formatAccepts(bank model.SourceBank, fileType string) bool {
	switch bank {
	case model.BankItau, model.BankCorpx:
		return fileType == "application/pdf"
	case model.BankDigital, model.BankGeneric:
		return fileType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" ||
			fileType == "application/zip" ||
			fileType == "text/csv"
	}
	return false
}

// buildTransferRecord turns one extracted row into a canonical record,
// failing if amount or date cannot be parsed.
func buildTransferRecord(bank model.SourceBank, filename string, row int, in statementRow) (model.TransferRecord, error) {
	amount, err := parseAmount(in.Amount)
	if err != nil {
		return model.TransferRecord{}, errors.Wrap(err, "missing mandatory field amount")
	}
	date, err := parseDay(in.Date)
	if err != nil {
		return model.TransferRecord{}, errors.Wrap(err, "missing mandatory field date")
	}
	rawRef := strings.TrimSpace(in.Reference)
	if rawRef == "" {
		rawRef = fmt.Sprintf("%s#row-%d", filename, row)
	}
	return model.TransferRecord{
		TransferID:   model.GenerateUUIDWithSuffix("transfer"),
		SourceBank:   bank,
		Amount:       amount,
		Date:         date,
		Counterparty: strings.TrimSpace(in.Counterparty),
		RawRef:       rawRef,
	}, nil
}

// parseStatementCSV segments a CSV export locally using a header column map.
// Required columns are amount and date; counterparty and reference are
// optional. Bad rows are skipped, not fatal.
func (s *Confere) parseStatementCSV(bank model.SourceBank, filename string, reader io.Reader) ([]model.TransferRecord, error) {
	csvReader := csv.NewReader(bufio.NewReader(reader))

	headers, err := csvReader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "error reading CSV headers")
	}

	columnMap, err := createColumnMap(headers)
	if err != nil {
		return nil, err
	}

	var records []model.TransferRecord
	rowNum := 1
	for {
		row, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			logrus.WithField("file", filename).Warnf("error reading row %d: %v", rowNum, err)
			continue
		}

		in := statementRow{
			Amount:       fieldAt(row, columnMap, "amount"),
			Date:         fieldAt(row, columnMap, "date"),
			Counterparty: fieldAt(row, columnMap, "counterparty"),
			Reference:    fieldAt(row, columnMap, "reference"),
		}
		record, err := buildTransferRecord(bank, filename, rowNum, in)
		if err != nil {
			logrus.WithFields(logrus.Fields{"file": filename, "row": rowNum}).
				Warnf("excluding statement row: %v", err)
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// columnAliases maps canonical column names to the header spellings seen in
// real exports, including the Portuguese ones.
var columnAliases = map[string][]string{
	"amount":       {"amount", "valor"},
	"date":         {"date", "data"},
	"counterparty": {"counterparty", "contraparte", "nome", "name", "description", "descricao"},
	"reference":    {"reference", "referencia", "id", "documento"},
}

// createColumnMap associates canonical column names with their indices based
// on the headers row. Amount and date are required.
func createColumnMap(headers []string) (map[string]int, error) {
	indexByHeader := make(map[string]int)
	for i, header := range headers {
		indexByHeader[strings.ToLower(strings.TrimSpace(header))] = i
	}

	columnMap := make(map[string]int)
	for canonical, aliases := range columnAliases {
		for _, alias := range aliases {
			if idx, ok := indexByHeader[alias]; ok {
				columnMap[canonical] = idx
				break
			}
		}
	}

	for _, required := range []string{"amount", "date"} {
		if _, ok := columnMap[required]; !ok {
			return nil, fmt.Errorf("required column '%s' not found in CSV", required)
		}
	}
	return columnMap, nil
}

func fieldAt(record []string, columnMap map[string]int, field string) string {
	if index, ok := columnMap[field]; ok && index < len(record) {
		return strings.TrimSpace(record[index])
	}
	return ""
}

// detectFileType attempts to detect the file type based on its extension or
// content.
func detectFileType(data []byte, filename string) (string, error) {
	if mimeType := detectByExtension(filename); mimeType != "" {
		return mimeType, nil
	}
	return detectByContent(data)
}

func detectByExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv"
	}
	return mime.TypeByExtension(ext)
}

func detectByContent(data []byte) (string, error) {
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf", nil
	}

	mimeType := http.DetectContentType(data)
	switch mimeType {
	case "application/octet-stream", "text/plain", "text/plain; charset=utf-8":
		return analyzeTextContent(data)
	case "text/csv; charset=utf-8":
		return "text/csv", nil
	default:
		return mimeType, nil
	}
}

func analyzeTextContent(data []byte) (string, error) {
	if looksLikeCSV(data) {
		return "text/csv", nil
	}
	if json.Valid(data) {
		return "application/json", nil
	}
	return "text/plain", nil
}

// looksLikeCSV checks for multiple lines with a consistent comma field count.
func looksLikeCSV(data []byte) bool {
	lines := bytes.Split(data, []byte("\n"))
	if len(lines) < 2 {
		return false
	}

	fields := bytes.Count(lines[0], []byte(",")) + 1
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		if bytes.Count(line, []byte(","))+1 != fields {
			return false
		}
	}
	return fields > 1
}

// parseAmount parses monetary values as they appear in Brazilian bank
// exports: "R$ 1.234,56", "1234,56", "-250,00" or plain "1234.56".
func parseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "R$")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("empty amount")
	}
	if strings.Contains(cleaned, ",") {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

var dayLayouts = []string{"02/01/2006", "2006-01-02", "02-01-2006", time.RFC3339}

// parseDay parses a calendar date and truncates any time component.
func parseDay(s string) (time.Time, error) {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
