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

import "errors"

// Domain errors surfaced by the reconciliation core. These are sentinel
// values so callers can branch with errors.Is; extraction failures carry
// their own taxonomy in internal/extractor.
var (
	// ErrUnsupportedFormat is returned when a statement is uploaded under an
	// unknown format tag or its bytes do not look like that format.
	ErrUnsupportedFormat = errors.New("unsupported statement format")

	// ErrUnknownMatchID is returned when approve/reject references a match id
	// that is not in the valid-match set.
	ErrUnknownMatchID = errors.New("unknown match id")

	// ErrSessionNotFound is returned by the session registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotLoaded is returned when validate is called before any batch has
	// been loaded.
	ErrNotLoaded = errors.New("no batch loaded")

	// ErrNotValidated is returned when approve/reject is called before
	// validation has produced the valid-match set.
	ErrNotValidated = errors.New("batch not validated")
)
