package ocrqueue

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// maxRetryLanguages is the "...≤4" cap of spec.md section 6's
// `POST /api/documents/{id}/ocr/retry` body.
const maxRetryLanguages = 4

// RetryRequest is the body of spec.md section 6's single-document OCR
// retry request. Language is a legacy singular field kept for backward
// compatibility with callers that predate Languages.
type RetryRequest struct {
	Language  string   `json:"language,omitempty" validate:"omitempty,len=3,alpha"`
	Languages []string `json:"languages,omitempty" validate:"omitempty,max=4,dive,len=3,alpha"`
}

var retryValidate = validator.New()

// Validate checks RetryRequest against spec.md section 6: each language
// code is a 3-letter Tesseract-style code (e.g. "eng", "spa"), and at most
// maxRetryLanguages may be given. Returns a descriptive error fit for a 400
// response; the caller decides the transport.
func (r RetryRequest) Validate() error {
	if err := retryValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid ocr retry request: %w", err)
	}
	return nil
}

// ResolveLanguages returns Languages when it is non-empty, otherwise the
// legacy singular Language as a one-element list, so downstream code only
// ever has to deal with one list. The two fields are not combined.
func (r RetryRequest) ResolveLanguages() []string {
	if len(r.Languages) > 0 {
		return r.Languages
	}
	if r.Language != "" {
		return []string{r.Language}
	}
	return nil
}
