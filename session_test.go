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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conferelabs/confere/internal/extractor"
	"github.com/conferelabs/confere/model"
)

// receiptStub answers every receipt image with the same extracted payload.
func receiptStub(amount, date, counterparty string) func(extractor.Document, string) (json.RawMessage, error) {
	return func(extractor.Document, string) (json.RawMessage, error) {
		return []byte(`{"amount":"` + amount + `","date":"` + date + `","counterparty":"` + counterparty + `"}`), nil
	}
}

func loadedSession(t *testing.T, svc *Confere) *Session {
	t.Helper()
	session := svc.CreateSession()
	err := session.Load(context.Background(),
		[]ReceiptFile{{Path: "r1.jpg", Data: []byte("img")}},
		map[model.SourceBank]StatementFile{
			model.BankGeneric: {
				Filename: "extrato.csv",
				Data: []byte("amount,date,name\n" +
					"100.00,2024-03-10,Alice\n" +
					"999.00,2024-03-10,Nobody\n"),
			},
		})
	require.NoError(t, err)
	return session
}

func TestSessionLifecycle(t *testing.T) {
	svc := newTestConfere(receiptStub("100,00", "10/03/2024", "Alice"))
	session := loadedSession(t, svc)

	assert.Equal(t, StateLoaded, session.Summary().State)
	assert.Equal(t, 1, session.Summary().Receipts)
	assert.Equal(t, 2, session.Summary().Transfers)

	valid, invalid, err := session.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, valid, 1)
	assert.Empty(t, invalid)
	assert.Equal(t, StateValidated, session.Summary().State)

	require.NoError(t, session.Approve(valid[0].MatchID))

	report := session.Finalize()
	assert.Equal(t, StateFinalized, session.Summary().State)
	require.Len(t, report.Approved, 1)
	assert.Empty(t, report.Rejected)
	require.Len(t, report.AllValid, 1)
	require.NotNil(t, report.FinalizedAt)
}

func TestSessionValidateRequiresLoad(t *testing.T) {
	svc := newTestConfere(nil)
	session := svc.CreateSession()

	_, _, err := session.Validate(context.Background())
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestSessionDecisionsRequireValidation(t *testing.T) {
	svc := newTestConfere(receiptStub("100,00", "10/03/2024", "Alice"))
	session := loadedSession(t, svc)

	assert.ErrorIs(t, session.Approve("match_x"), ErrNotValidated)
	assert.ErrorIs(t, session.Reject("match_x"), ErrNotValidated)
}

func TestSessionUnknownMatchID(t *testing.T) {
	svc := newTestConfere(receiptStub("100,00", "10/03/2024", "Alice"))
	session := loadedSession(t, svc)
	_, _, err := session.Validate(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, session.Approve("match_missing"), ErrUnknownMatchID)
	assert.ErrorIs(t, session.Reject("match_missing"), ErrUnknownMatchID)
}

func TestSessionDecisionMoveSemantics(t *testing.T) {
	svc := newTestConfere(receiptStub("100,00", "10/03/2024", "Alice"))
	session := loadedSession(t, svc)
	valid, _, err := session.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, valid, 1)
	id := valid[0].MatchID

	require.NoError(t, session.Approve(id))
	summary := session.Summary()
	assert.Equal(t, 1, summary.Approved)
	assert.Equal(t, 0, summary.Rejected)

	// Re-approving is a no-op.
	require.NoError(t, session.Approve(id))
	assert.Equal(t, 1, session.Summary().Approved)

	// Rejecting moves the match; it is never in both lists.
	require.NoError(t, session.Reject(id))
	summary = session.Summary()
	assert.Equal(t, 0, summary.Approved)
	assert.Equal(t, 1, summary.Rejected)

	require.NoError(t, session.Approve(id))
	summary = session.Summary()
	assert.Equal(t, 1, summary.Approved)
	assert.Equal(t, 0, summary.Rejected)
}

func TestSessionFinalizeIdempotent(t *testing.T) {
	svc := newTestConfere(receiptStub("100,00", "10/03/2024", "Alice"))
	session := loadedSession(t, svc)
	valid, _, err := session.Validate(context.Background())
	require.NoError(t, err)
	require.NoError(t, session.Approve(valid[0].MatchID))

	first := session.Finalize()
	second := session.Finalize()

	require.NotNil(t, first.FinalizedAt)
	require.NotNil(t, second.FinalizedAt)
	assert.True(t, first.FinalizedAt.Equal(*second.FinalizedAt))
	assert.Equal(t, first.Approved, second.Approved)
	assert.Equal(t, first.AllValid, second.AllValid)
}

func TestSessionDecisionsAfterFinalize(t *testing.T) {
	svc := newTestConfere(receiptStub("100,00", "10/03/2024", "Alice"))
	session := loadedSession(t, svc)
	valid, _, err := session.Validate(context.Background())
	require.NoError(t, err)

	session.Finalize()
	require.NoError(t, session.Reject(valid[0].MatchID))
	assert.Equal(t, 1, session.Summary().Rejected)
}

func TestSessionClear(t *testing.T) {
	svc := newTestConfere(receiptStub("100,00", "10/03/2024", "Alice"))
	session := loadedSession(t, svc)
	valid, _, err := session.Validate(context.Background())
	require.NoError(t, err)
	require.NoError(t, session.Approve(valid[0].MatchID))
	session.Finalize()

	session.Clear()

	summary := session.Summary()
	assert.Equal(t, StateEmpty, summary.State)
	assert.Zero(t, summary.Receipts)
	assert.Zero(t, summary.Transfers)
	assert.Zero(t, summary.Valid)
	assert.Zero(t, summary.Invalid)
	assert.Zero(t, summary.Approved)
	assert.Zero(t, summary.Rejected)

	_, _, err = session.Validate(context.Background())
	assert.ErrorIs(t, err, ErrNotLoaded)

	report := session.Finalize()
	assert.Empty(t, report.Approved)
	assert.Empty(t, report.Rejected)
	assert.Empty(t, report.AllValid)
	assert.Nil(t, report.FinalizedAt)
}

func TestSessionLoadUnknownTagLeavesStateUntouched(t *testing.T) {
	svc := newTestConfere(receiptStub("100,00", "10/03/2024", "Alice"))
	session := svc.CreateSession()

	err := session.Load(context.Background(), nil, map[model.SourceBank]StatementFile{
		model.SourceBank("nubank"): {Filename: "x.csv", Data: []byte("a,b\n")},
	})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, StateEmpty, session.Summary().State)
}

func TestSessionLoadFailureLeavesBatchIntact(t *testing.T) {
	svc := newTestConfere(receiptStub("100,00", "10/03/2024", "Alice"))
	session := loadedSession(t, svc)
	before := session.Summary()

	// Statement bytes do not match the tag's expected format; the loaded
	// batch survives untouched.
	err := session.Load(context.Background(), nil, map[model.SourceBank]StatementFile{
		model.BankItau: {Filename: "extrato.csv", Data: []byte("valor,data\n1,2\n")},
	})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, before, session.Summary())
}

func TestSessionReloadAppendsAndResets(t *testing.T) {
	svc := newTestConfere(receiptStub("100,00", "10/03/2024", "Alice"))
	session := loadedSession(t, svc)
	valid, _, err := session.Validate(context.Background())
	require.NoError(t, err)
	require.NoError(t, session.Approve(valid[0].MatchID))

	err = session.Load(context.Background(), nil, map[model.SourceBank]StatementFile{
		model.BankGeneric: {
			Filename: "extrato2.csv",
			Data:     []byte("amount,date,name\n500.00,2024-03-15,Dora\n"),
		},
	})
	require.NoError(t, err)

	summary := session.Summary()
	assert.Equal(t, StateLoaded, summary.State)
	assert.Equal(t, 1, summary.Receipts)
	assert.Equal(t, 3, summary.Transfers)
	// Prior validation and decisions are invalidated by the new batch.
	assert.Zero(t, summary.Valid)
	assert.Zero(t, summary.Approved)
	assert.ErrorIs(t, session.Approve(valid[0].MatchID), ErrNotValidated)
}
