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
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"

	"github.com/conferelabs/confere/model"
)

// SessionState is the lifecycle phase of a reconciliation session.
type SessionState string

const (
	StateEmpty     SessionState = "empty"
	StateLoaded    SessionState = "loaded"
	StateValidated SessionState = "validated"
	StateFinalized SessionState = "finalized"
)

// StatementFile is one uploaded statement export handed in by the intake
// layer together with its explicit format tag.
type StatementFile struct {
	Filename string
	Data     []byte
}

// Session owns one batch's reconciliation lifecycle:
// load → validate → approve/reject → finalize, with clear() returning to the
// initial empty state from anywhere. A single mutex serializes all mutations;
// concurrent approve/reject calls cannot break the one-of-two-lists
// invariant.
type Session struct {
	SessionID string

	svc    *Confere
	policy MatchPolicy

	mu          sync.Mutex
	state       SessionState
	receipts    []model.ReceiptRecord
	transfers   []model.TransferRecord
	valid       []model.MatchResult
	invalid     []model.MatchResult
	validByID   map[string]model.MatchResult
	approved    []model.MatchResult
	rejected    []model.MatchResult
	finalizedAt *time.Time
}

func newSession(svc *Confere) *Session {
	return &Session{
		SessionID: model.GenerateUUIDWithSuffix("session"),
		svc:       svc,
		policy:    svc.MatchPolicy(),
		state:     StateEmpty,
	}
}

// Load ingests a batch of receipt images and statement files into the
// session. Statements are normalized in the fixed bank order so record order
// is reproducible regardless of map iteration. A hard failure (unsupported
// format, extractor unreachable) leaves the session exactly as it was;
// loading on top of an existing batch appends to it and invalidates any
// previous validation and decisions.
func (s *Session) Load(ctx context.Context, receipts []ReceiptFile, statements map[model.SourceBank]StatementFile) error {
	for bank := range statements {
		if _, known := statementInstructions[bank]; !known {
			return fmt.Errorf("%w: %q", ErrUnsupportedFormat, bank)
		}
	}

	// Normalize everything before touching session state.
	var newTransfers []model.TransferRecord
	for _, bank := range model.KnownSourceBanks() {
		file, ok := statements[bank]
		if !ok {
			continue
		}
		records, err := s.svc.NormalizeStatement(ctx, bank, file.Filename, file.Data)
		if err != nil {
			return fmt.Errorf("normalizing %s statement: %w", bank, err)
		}
		newTransfers = append(newTransfers, records...)
	}

	newReceipts := s.svc.IngestReceipts(ctx, receipts)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, newReceipts...)
	s.transfers = append(s.transfers, newTransfers...)
	s.valid = nil
	s.invalid = nil
	s.validByID = nil
	s.approved = nil
	s.rejected = nil
	s.finalizedAt = nil
	s.state = StateLoaded

	logrus.WithFields(logrus.Fields{
		"session":   s.SessionID,
		"receipts":  len(s.receipts),
		"transfers": len(s.transfers),
	}).Info("batch loaded")
	return nil
}

// Validate runs the matching engine over the loaded batch and stores the
// valid/invalid partitions. Both partitions are returned; the session moves
// to Validated. Calling it again re-runs classification from scratch.
func (s *Session) Validate(ctx context.Context) (valid, invalid []model.MatchResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEmpty {
		return nil, nil, ErrNotLoaded
	}

	results := ClassifyReceipts(s.receipts, s.transfers, s.policy)

	s.valid = nil
	s.invalid = nil
	s.validByID = make(map[string]model.MatchResult)
	for _, result := range results {
		if result.Status == model.MatchValid {
			s.valid = append(s.valid, result)
			s.validByID[result.MatchID] = result
		} else {
			s.invalid = append(s.invalid, result)
		}
	}
	s.approved = nil
	s.rejected = nil
	s.state = StateValidated

	logrus.WithFields(logrus.Fields{
		"session": s.SessionID,
		"valid":   len(s.valid),
		"invalid": len(s.invalid),
	}).Info("batch validated")
	return append([]model.MatchResult(nil), s.valid...), append([]model.MatchResult(nil), s.invalid...), nil
}

// Approve records an operator approval for a valid match. Approving a match
// that was previously rejected moves it between lists; a match id is never
// in both lists at once, and re-approving is a no-op.
func (s *Session) Approve(matchID string) error {
	return s.decide(matchID, true)
}

// Reject records an operator rejection for a valid match, with the same move
// semantics as Approve.
func (s *Session) Reject(matchID string) error {
	return s.decide(matchID, false)
}

func (s *Session) decide(matchID string, approve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateValidated && s.state != StateFinalized {
		return ErrNotValidated
	}

	match, ok := s.validByID[matchID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMatchID, matchID)
	}

	if approve {
		s.rejected = removeMatch(s.rejected, matchID)
		if !containsMatch(s.approved, matchID) {
			s.approved = append(s.approved, match)
		}
	} else {
		s.approved = removeMatch(s.approved, matchID)
		if !containsMatch(s.rejected, matchID) {
			s.rejected = append(s.rejected, match)
		}
	}
	return nil
}

// Finalize returns a snapshot of the operator decisions plus the full
// valid-match set for audit. It never mutates the lists, so repeated calls
// without intervening decisions return identical reports; the finalized
// timestamp is set once.
func (s *Session) Finalize() model.Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalizedAt == nil && s.state == StateValidated {
		s.finalizedAt = ptr.Time(time.Now())
		s.state = StateFinalized
	}

	return model.Report{
		SessionID:   s.SessionID,
		Approved:    append([]model.MatchResult{}, s.approved...),
		Rejected:    append([]model.MatchResult{}, s.rejected...),
		AllValid:    append([]model.MatchResult{}, s.valid...),
		FinalizedAt: s.finalizedAt,
	}
}

// Clear discards all loaded records, matches and decisions, returning the
// session to its initial empty state. This is the only destruction path:
// everything is dropped together.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receipts = nil
	s.transfers = nil
	s.valid = nil
	s.invalid = nil
	s.validByID = nil
	s.approved = nil
	s.rejected = nil
	s.finalizedAt = nil
	s.state = StateEmpty

	logrus.WithField("session", s.SessionID).Info("session cleared")
}

// SessionSummary is the read-only view handed to the presentation layer.
type SessionSummary struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	Receipts  int          `json:"receipts"`
	Transfers int          `json:"transfers"`
	Valid     int          `json:"valid"`
	Invalid   int          `json:"invalid"`
	Approved  int          `json:"approved"`
	Rejected  int          `json:"rejected"`
}

// Summary returns the current session counts and state.
func (s *Session) Summary() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSummary{
		SessionID: s.SessionID,
		State:     s.state,
		Receipts:  len(s.receipts),
		Transfers: len(s.transfers),
		Valid:     len(s.valid),
		Invalid:   len(s.invalid),
		Approved:  len(s.approved),
		Rejected:  len(s.rejected),
	}
}

func containsMatch(list []model.MatchResult, matchID string) bool {
	for _, m := range list {
		if m.MatchID == matchID {
			return true
		}
	}
	return false
}

func removeMatch(list []model.MatchResult, matchID string) []model.MatchResult {
	out := list[:0]
	for _, m := range list {
		if m.MatchID != matchID {
			out = append(out, m)
		}
	}
	return out
}
