// Package cspreport receives Content-Security-Policy violation reports.
//
// Both the legacy report-uri format (application/csp-report, a single
// {"csp-report": {...}} object) and the Reporting API format
// (application/reports+json, an array of reports) are accepted and
// normalised into Violation values.
package cspreport

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"strings"

	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

// Violation is one normalised violation report. URLs are kept as sent by
// the browser, which already strips them to origin for cross-origin cases.
type Violation struct {
	DocumentURI        string `json:"document_uri"`
	Referrer           string `json:"referrer,omitempty"`
	BlockedURI         string `json:"blocked_uri"`
	ViolatedDirective  string `json:"violated_directive"`
	EffectiveDirective string `json:"effective_directive,omitempty"`
	OriginalPolicy     string `json:"original_policy,omitempty"`
	Disposition        string `json:"disposition,omitempty"`
	SourceFile         string `json:"source_file,omitempty"`
	LineNumber         int    `json:"line_number,omitempty"`
	ColumnNumber       int    `json:"column_number,omitempty"`
	StatusCode         int    `json:"status_code,omitempty"`
}

// Directive returns the directive name the violation is attributed to.
func (v Violation) Directive() string {
	d := v.EffectiveDirective
	if d == "" {
		d = v.ViolatedDirective
	}
	d, _, _ = strings.Cut(strings.TrimSpace(d), " ")
	return strings.ToLower(d)
}

type legacyBody struct {
	Report *struct {
		DocumentURI        string `json:"document-uri"`
		Referrer           string `json:"referrer"`
		BlockedURI         string `json:"blocked-uri"`
		ViolatedDirective  string `json:"violated-directive"`
		EffectiveDirective string `json:"effective-directive"`
		OriginalPolicy     string `json:"original-policy"`
		Disposition        string `json:"disposition"`
		SourceFile         string `json:"source-file"`
		LineNumber         int    `json:"line-number"`
		ColumnNumber       int    `json:"column-number"`
		StatusCode         int    `json:"status-code"`
	} `json:"csp-report"`
}

type reportingEntry struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Body struct {
		DocumentURL        string `json:"documentURL"`
		Referrer           string `json:"referrer"`
		BlockedURL         string `json:"blockedURL"`
		EffectiveDirective string `json:"effectiveDirective"`
		OriginalPolicy     string `json:"originalPolicy"`
		Disposition        string `json:"disposition"`
		SourceFile         string `json:"sourceFile"`
		LineNumber         int    `json:"lineNumber"`
		ColumnNumber       int    `json:"columnNumber"`
		StatusCode         int    `json:"statusCode"`
	} `json:"body"`
}

var (
	ErrUnsupportedType = errors.New("unsupported report content type")
	ErrMalformed       = errors.New("malformed report")
)

// Parse decodes body according to contentType. Reporting API entries that
// are not csp-violation reports are skipped. A body that decodes to no
// violations at all is malformed.
func Parse(contentType string, body []byte) ([]Violation, error) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, ErrUnsupportedType
	}
	body = bytes.TrimSpace(body)

	switch mt {
	case "application/csp-report":
		return parseLegacy(body)
	case "application/reports+json":
		return parseReporting(body)
	case "application/json":
		// some agents send either shape as plain json
		if len(body) > 0 && body[0] == '[' {
			return parseReporting(body)
		}
		return parseLegacy(body)
	default:
		return nil, ErrUnsupportedType
	}
}

func parseLegacy(body []byte) ([]Violation, error) {
	var lb legacyBody
	if err := json.Unmarshal(body, &lb); err != nil {
		return nil, xerrors.Wrapf(ErrMalformed, "decode: %v", err)
	}
	if lb.Report == nil {
		return nil, xerrors.Wrap(ErrMalformed, `missing "csp-report"`)
	}
	r := lb.Report
	return []Violation{{
		DocumentURI:        r.DocumentURI,
		Referrer:           r.Referrer,
		BlockedURI:         r.BlockedURI,
		ViolatedDirective:  r.ViolatedDirective,
		EffectiveDirective: r.EffectiveDirective,
		OriginalPolicy:     r.OriginalPolicy,
		Disposition:        r.Disposition,
		SourceFile:         r.SourceFile,
		LineNumber:         r.LineNumber,
		ColumnNumber:       r.ColumnNumber,
		StatusCode:         r.StatusCode,
	}}, nil
}

func parseReporting(body []byte) ([]Violation, error) {
	var entries []reportingEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, xerrors.Wrapf(ErrMalformed, "decode: %v", err)
	}
	out := make([]Violation, 0, len(entries))
	for _, e := range entries {
		if e.Type != "csp-violation" {
			continue
		}
		doc := e.Body.DocumentURL
		if doc == "" {
			doc = e.URL
		}
		out = append(out, Violation{
			DocumentURI:        doc,
			Referrer:           e.Body.Referrer,
			BlockedURI:         e.Body.BlockedURL,
			ViolatedDirective:  e.Body.EffectiveDirective,
			EffectiveDirective: e.Body.EffectiveDirective,
			OriginalPolicy:     e.Body.OriginalPolicy,
			Disposition:        e.Body.Disposition,
			SourceFile:         e.Body.SourceFile,
			LineNumber:         e.Body.LineNumber,
			ColumnNumber:       e.Body.ColumnNumber,
			StatusCode:         e.Body.StatusCode,
		})
	}
	if len(out) == 0 {
		return nil, xerrors.Wrap(ErrMalformed, "no csp-violation entries")
	}
	return out, nil
}
