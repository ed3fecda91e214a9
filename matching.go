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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/conferelabs/confere/config"
	"github.com/conferelabs/confere/model"
)

// MatchPolicy holds the tolerance windows the classifier applies. Thresholds
// are policy, not constants: date drift absorbs settlement delays, name drift
// absorbs extraction noise in counterparty names.
type MatchPolicy struct {
	// DateDriftDays is the ± window, in days, for candidate transfers whose
	// date does not exactly equal the receipt date.
	DateDriftDays int
	// NameDrift is the allowable Levenshtein drift between counterparty
	// names, as a percentage of the longer name.
	NameDrift float64
	// AmountDrift is the absolute amount slack. Zero means exact minor-unit
	// equality, the default for reconciliation.
	AmountDrift decimal.Decimal
}

// PolicyFromConfig converts the matching config section into a MatchPolicy.
// Unset drift fields fall back to the config defaults; an explicit zero is a
// strict same-day, exact-name policy.
func PolicyFromConfig(cnf config.MatchingConfig) MatchPolicy {
	policy := MatchPolicy{
		DateDriftDays: config.DefaultDateDriftDays,
		NameDrift:     config.DefaultNameDrift,
		AmountDrift:   decimal.NewFromFloat(cnf.AmountDrift),
	}
	if cnf.DateDriftDays != nil {
		policy.DateDriftDays = *cnf.DateDriftDays
	}
	if cnf.NameDrift != nil {
		policy.NameDrift = *cnf.NameDrift
	}
	return policy
}

// candidate is one transfer still available for a receipt, with the ranking
// facts precomputed.
type candidate struct {
	idx       int
	exactDate bool
	nameOK    bool
	nameScore float64
}

// ClassifyReceipts pairs each receipt against the transfer pool and
// classifies the pairing. The algorithm is pure and deterministic: receipts
// are processed in input order, each claimed transfer leaves the pool
// (one-to-one), and every receipt appears in exactly one result. Transfers
// with no receipt are simply left unclaimed; they are not results.
//
// Ranking among candidates with matching amount: exact date beats
// date-within-window, counterparty similarity above the drift threshold beats
// below, then higher similarity, then earlier transfer date. A tie that
// survives all of that is ambiguous and yields an invalid result rather than
// a guess.
func ClassifyReceipts(receipts []model.ReceiptRecord, transfers []model.TransferRecord, policy MatchPolicy) []model.MatchResult {
	results := make([]model.MatchResult, 0, len(receipts))
	claimed := make([]bool, len(transfers))

	for _, receipt := range receipts {
		results = append(results, classifyOne(receipt, transfers, claimed, policy))
	}
	return results
}

func classifyOne(receipt model.ReceiptRecord, transfers []model.TransferRecord, claimed []bool, policy MatchPolicy) model.MatchResult {
	result := model.MatchResult{
		MatchID: model.GenerateUUIDWithSuffix("match"),
		Receipt: receipt,
	}

	if receipt.Unextracted {
		result.Status = model.MatchInvalid
		result.Reason = model.ReasonUnextractable
		return result
	}

	candidates := collectCandidates(receipt, transfers, claimed, policy)
	if len(candidates) == 0 {
		result.Status = model.MatchInvalid
		result.Reason = model.ReasonNoMatchingTransfer
		return result
	}

	// Exact-date candidates preempt the tolerance window entirely.
	if exact := filterExactDate(candidates); len(exact) > 0 {
		candidates = exact
	}

	rankCandidates(candidates, transfers)

	if len(candidates) > 1 && tied(candidates[0], candidates[1], transfers) {
		result.Status = model.MatchInvalid
		result.Reason = model.ReasonAmbiguousMatch
		return result
	}

	best := candidates[0]
	claimed[best.idx] = true
	transfer := transfers[best.idx]
	result.Transfer = &transfer
	result.Status = model.MatchValid
	result.Reason = fmt.Sprintf("matched %s transfer %s", transfer.SourceBank, transfer.RawRef)
	return result
}

// collectCandidates walks the unclaimed pool picking transfers whose amount
// matches within AmountDrift and whose date falls inside the window. Sign
// must agree; drift is absolute, not percentage.
func collectCandidates(receipt model.ReceiptRecord, transfers []model.TransferRecord, claimed []bool, policy MatchPolicy) []candidate {
	var out []candidate
	for i, transfer := range transfers {
		if claimed[i] {
			continue
		}
		if transfer.Amount.Sign() != receipt.Amount.Sign() {
			continue
		}
		if transfer.Amount.Sub(receipt.Amount).Abs().GreaterThan(policy.AmountDrift) {
			continue
		}
		days := daysBetween(receipt.Date, transfer.Date)
		if days > policy.DateDriftDays {
			continue
		}
		score := nameSimilarity(receipt.Counterparty, transfer.Counterparty)
		out = append(out, candidate{
			idx:       i,
			exactDate: days == 0,
			nameOK:    score >= 1.0-(policy.NameDrift/100),
			nameScore: score,
		})
	}
	return out
}

func filterExactDate(candidates []candidate) []candidate {
	var exact []candidate
	for _, c := range candidates {
		if c.exactDate {
			exact = append(exact, c)
		}
	}
	return exact
}

// rankCandidates orders best-first. The index comparison at the end only
// stabilizes the sort; the ambiguity check runs before the index can decide
// a winner.
func rankCandidates(candidates []candidate, transfers []model.TransferRecord) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.nameOK != b.nameOK {
			return a.nameOK
		}
		if a.nameScore != b.nameScore {
			return a.nameScore > b.nameScore
		}
		da, db := transfers[a.idx].Date, transfers[b.idx].Date
		if !da.Equal(db) {
			return da.Before(db)
		}
		return a.idx < b.idx
	})
}

// tied reports whether the two top candidates cannot be told apart by any
// ranking fact. Claiming either would be a guess.
func tied(a, b candidate, transfers []model.TransferRecord) bool {
	return a.nameOK == b.nameOK &&
		a.nameScore == b.nameScore &&
		transfers[a.idx].Date.Equal(transfers[b.idx].Date)
}

func daysBetween(a, b time.Time) int {
	diff := int(a.Sub(b).Hours() / 24)
	if diff < 0 {
		return -diff
	}
	return diff
}

// nameSimilarity scores two counterparty names in [0,1]. Case-folded
// equality is 1; containment of one name in the other floors the score at
// 0.9; otherwise the score decays with Levenshtein distance relative to the
// longer name.
func nameSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}

	distance := levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	maxLength := len([]rune(a))
	if l := len([]rune(b)); l > maxLength {
		maxLength = l
	}
	score := 1.0 - float64(distance)/float64(maxLength)
	if score < 0 {
		score = 0
	}

	if (strings.Contains(a, b) || strings.Contains(b, a)) && score < 0.9 {
		return 0.9
	}
	return score
}
