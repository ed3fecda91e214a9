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
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceBank identifies the bank-specific statement format a transfer record
// was extracted from. It doubles as the format tag the intake layer passes
// when uploading a statement file.
type SourceBank string

const (
	BankItau    SourceBank = "itau"    // tabular PDF export
	BankCorpx   SourceBank = "corpx"   // tabular PDF export
	BankDigital SourceBank = "digital" // spreadsheet export
	BankGeneric SourceBank = "generic" // spreadsheet or CSV export
)

// KnownSourceBanks lists every statement format the normalizer accepts, in a
// fixed order so validation messages and statement iteration stay stable.
func KnownSourceBanks() []SourceBank {
	return []SourceBank{BankItau, BankCorpx, BankDigital, BankGeneric}
}

// TransferRecord is one canonical bank transaction derived from a statement.
// Records are immutable once extracted and live only for the duration of a
// reconciliation session batch.
type TransferRecord struct {
	TransferID   string          `json:"transfer_id"`
	SourceBank   SourceBank      `json:"source_bank"`
	Amount       decimal.Decimal `json:"amount"`
	Date         time.Time       `json:"date"`
	Counterparty string          `json:"counterparty"`
	RawRef       string          `json:"raw_ref"`
}

// ReceiptRecord is the structured data extracted from one receipt image.
// When extraction fails, Unextracted is set and FailureReason carries the
// error so the operator can see the receipt was attempted, not dropped.
type ReceiptRecord struct {
	ReceiptID       string          `json:"receipt_id"`
	Amount          decimal.Decimal `json:"amount"`
	Date            time.Time       `json:"date"`
	Counterparty    string          `json:"counterparty"`
	SourceImagePath string          `json:"source_image_path"`
	Unextracted     bool            `json:"unextracted,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
}

// MatchStatus classifies a match result as valid or invalid.
type MatchStatus string

const (
	MatchValid   MatchStatus = "valid"
	MatchInvalid MatchStatus = "invalid"
)

// Machine-readable reasons attached to invalid match results. Failing to find
// a match is an expected business outcome, not a system fault, so these are
// carried on results rather than returned as errors.
const (
	ReasonNoMatchingTransfer = "no_matching_transfer"
	ReasonAmbiguousMatch     = "ambiguous_match"
	ReasonUnextractable      = "unextractable_receipt"
)

// MatchResult is the outcome of pairing one receipt against the transfer
// pool. A valid result always carries a non-nil Transfer; each transfer is
// claimed by at most one receipt.
type MatchResult struct {
	MatchID  string          `json:"match_id"`
	Receipt  ReceiptRecord   `json:"receipt"`
	Transfer *TransferRecord `json:"transfer,omitempty"`
	Status   MatchStatus     `json:"status"`
	Reason   string          `json:"reason,omitempty"`
}

// Report is the finalize() snapshot handed to the presentation layer:
// operator decisions plus the full valid-match set for audit.
type Report struct {
	SessionID   string        `json:"session_id"`
	Approved    []MatchResult `json:"approved"`
	Rejected    []MatchResult `json:"rejected"`
	AllValid    []MatchResult `json:"all_valid"`
	FinalizedAt *time.Time    `json:"finalized_at,omitempty"`
}
