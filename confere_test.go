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
	"github.com/wacul/ptr"

	"github.com/conferelabs/confere/config"
	"github.com/conferelabs/confere/internal/extractor"
)

// stubExtractor routes each extraction through a caller-supplied function,
// keyed off the document it receives.
type stubExtractor struct {
	fn func(doc extractor.Document, instruction string) (json.RawMessage, error)
}

func (s *stubExtractor) Extract(_ context.Context, doc extractor.Document, instruction string) (json.RawMessage, error) {
	return s.fn(doc, instruction)
}

func testConfiguration() *config.Configuration {
	return &config.Configuration{
		ProjectName: "confere-test",
		DataDir:     "./data",
		Extractor: config.ExtractorConfig{
			ApiKey:         "test-key",
			Model:          "gpt-4o-mini",
			TimeoutSec:     5,
			MaxConcurrency: 2,
		},
		Matching: config.MatchingConfig{
			DateDriftDays: ptr.Int(2),
			NameDrift:     ptr.Float64(30.0),
		},
	}
}

func newTestConfere(fn func(doc extractor.Document, instruction string) (json.RawMessage, error)) *Confere {
	if fn == nil {
		fn = func(extractor.Document, string) (json.RawMessage, error) {
			return []byte(`{}`), nil
		}
	}
	return NewConfereWithExtractor(testConfiguration(), &stubExtractor{fn: fn})
}

func TestSessionRegistry(t *testing.T) {
	svc := newTestConfere(nil)

	session := svc.CreateSession()
	require.NotEmpty(t, session.SessionID)

	got, err := svc.GetSession(session.SessionID)
	require.NoError(t, err)
	assert.Same(t, session, got)

	require.NoError(t, svc.DeleteSession(session.SessionID))
	_, err = svc.GetSession(session.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionRegistryUnknownID(t *testing.T) {
	svc := newTestConfere(nil)

	_, err := svc.GetSession("session_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = svc.DeleteSession("session_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionsAreIndependent(t *testing.T) {
	svc := newTestConfere(nil)

	a := svc.CreateSession()
	b := svc.CreateSession()
	require.NotEqual(t, a.SessionID, b.SessionID)

	require.NoError(t, svc.DeleteSession(a.SessionID))
	_, err := svc.GetSession(b.SessionID)
	assert.NoError(t, err)
}
