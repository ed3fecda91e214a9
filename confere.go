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
	"sync"

	"github.com/conferelabs/confere/config"
	"github.com/conferelabs/confere/internal/extractor"
)

// Confere is the main service struct. It owns the document extractor, the
// runtime configuration and the registry of live reconciliation sessions.
// Sessions are independent; the registry is the only process-wide state.
type Confere struct {
	extractor extractor.Extractor
	config    *config.Configuration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewConfere initializes a new instance of Confere from the fetched
// configuration, wiring the OpenAI-backed extractor behind the configured
// retry policy.
//
// Returns:
// - *Confere: A pointer to the newly created Confere instance.
// - error: An error if configuration has not been loaded.
func NewConfere() (*Confere, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	ext := extractor.WithRetry(extractor.NewOpenAIExtractor(configuration.Extractor), configuration.Extractor.MaxRetries)
	return NewConfereWithExtractor(configuration, ext), nil
}

// NewConfereWithExtractor wires an explicit extractor. Used by tests and by
// callers that want their own retry or instrumentation layers.
func NewConfereWithExtractor(configuration *config.Configuration, ext extractor.Extractor) *Confere {
	return &Confere{
		extractor: ext,
		config:    configuration,
		sessions:  make(map[string]*Session),
	}
}

// CreateSession registers a new empty reconciliation session and returns it.
func (s *Confere) CreateSession() *Session {
	session := newSession(s)
	s.mu.Lock()
	s.sessions[session.SessionID] = session
	s.mu.Unlock()
	return session
}

// GetSession looks up a live session by id.
func (s *Confere) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, nil
}

// DeleteSession drops a session from the registry, discarding its state.
func (s *Confere) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

// DataDir is the root directory for persisted uploads.
func (s *Confere) DataDir() string {
	return s.config.DataDir
}

// MatchPolicy returns the matching tolerance policy derived from config.
func (s *Confere) MatchPolicy() MatchPolicy {
	return PolicyFromConfig(s.config.Matching)
}
