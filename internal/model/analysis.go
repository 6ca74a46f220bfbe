package model

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// AnalysisResult is the structured summary produced by the analyzer. The
// payload is kept verbatim; only the error indicator is lifted into a typed
// field because the pipeline branches on it.
type AnalysisResult struct {
	Raw   json.RawMessage
	Error string
}

// ParseAnalysisResult validates that raw is a JSON object and extracts the
// error indicator. The returned result owns a copy of raw.
func ParseAnalysisResult(raw []byte) (*AnalysisResult, error) {
	raw = bytes.TrimSpace(raw)
	if !gjson.ValidBytes(raw) {
		return nil, eris.New("model: analysis payload is not valid JSON")
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return nil, eris.New("model: analysis payload is not a JSON object")
	}

	res := &AnalysisResult{Raw: append(json.RawMessage(nil), raw...)}
	if v := gjson.GetBytes(raw, "error"); v.Exists() {
		switch v.Type {
		case gjson.Null, gjson.False:
		case gjson.String:
			res.Error = v.String()
			if res.Error == "" {
				res.Error = "analysis reported an empty error"
			}
		default:
			res.Error = v.Raw
		}
	}
	return res, nil
}

// Failed reports whether the payload carries an error indicator.
func (r *AnalysisResult) Failed() bool {
	return r != nil && r.Error != ""
}

// CompanyName returns company.name from the payload, if present.
func (r *AnalysisResult) CompanyName() string {
	if r == nil {
		return ""
	}
	return gjson.GetBytes(r.Raw, "company.name").String()
}

// ConfidenceScore returns confidence_score from the payload, or -1.
func (r *AnalysisResult) ConfidenceScore() float64 {
	if r == nil {
		return -1
	}
	v := gjson.GetBytes(r.Raw, "confidence_score")
	if v.Type != gjson.Number {
		return -1
	}
	return v.Float()
}

// MarshalJSON emits the stored payload unchanged.
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

// UnmarshalJSON accepts any JSON object and re-derives the error indicator.
func (r *AnalysisResult) UnmarshalJSON(data []byte) error {
	parsed, err := ParseAnalysisResult(data)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}
