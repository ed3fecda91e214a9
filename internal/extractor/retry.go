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

package extractor

import (
	"context"
	"encoding/json"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// RetryExtractor wraps another Extractor with exponential backoff. Only
// KindServiceError is retried; malformed responses and unexpected failures
// are permanent.
type RetryExtractor struct {
	inner      Extractor
	maxRetries uint64
}

// WithRetry decorates an extractor with a bounded retry policy. A
// maxRetries of 0 returns the extractor unchanged.
func WithRetry(inner Extractor, maxRetries int) Extractor {
	if maxRetries <= 0 {
		return inner
	}
	return &RetryExtractor{inner: inner, maxRetries: uint64(maxRetries)}
}

func (r *RetryExtractor) Extract(ctx context.Context, doc Document, instructions string) (json.RawMessage, error) {
	var out json.RawMessage

	operation := func() error {
		res, err := r.inner.Extract(ctx, doc, instructions)
		if err != nil {
			if IsKind(err, KindServiceError) {
				logrus.WithField("document", doc.Name).Warnf("transient extraction failure, retrying: %v", err)
				return err
			}
			return backoff.Permanent(err)
		}
		out = res
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return out, nil
}
