// Package provider is the HTTP client for the external document locker:
// the OAuth token endpoint, the user profile and the documents API.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nikilm-offx/TNEA-Insight/internal/common"
)

// Scopes requested on the authorization redirect.
const Scopes = "profile email certificates"

// Client is the subset of the document locker API used by the services.
type Client interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
	GetUser(ctx context.Context, accessToken string) (*UserInfo, error)
	ListDocuments(ctx context.Context, accessToken string) ([]*Document, error)
	GetDocument(ctx context.Context, accessToken string, id string) (*Document, error)
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id,omitempty"`
}

type UserInfo struct {
	UID   string `json:"uid"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Document is one entry of the documents API. Raw keeps every attribute
// the provider sent, including ones not modelled here.
type Document struct {
	ID         string         `json:"id"`
	DocType    string         `json:"docType"`
	DocName    string         `json:"docName"`
	IssuerName string         `json:"issuerName"`
	IssueDate  string         `json:"issueDate"`
	ExpiryDate string         `json:"expiryDate,omitempty"`
	IssuedTo   string         `json:"issuedTo,omitempty"`
	Category   string         `json:"category,omitempty"`
	Marks      *float64       `json:"marks,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Signature  string         `json:"signature,omitempty"`

	Raw map[string]any `json:"-"`
}

func (d *Document) UnmarshalJSON(b []byte) error {
	type plain Document
	var p struct {
		plain
		Marks json.RawMessage `json:"marks,omitempty"`
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*d = Document(p.plain)
	d.Marks = parseMarks(p.Marks)
	d.Raw = raw
	return nil
}

// parseMarks accepts a JSON number or a numeric string. Anything else
// (grades such as "A+", null) yields nil.
func parseMarks(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &n
}

// SignedPayload is the part of the document covered by its detached
// signature: everything the provider sent except the signature itself.
func (d *Document) SignedPayload() map[string]any {
	out := make(map[string]any, len(d.Raw))
	for k, v := range d.Raw {
		if k == "signature" {
			continue
		}
		out[k] = v
	}
	return out
}

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("document locker responded %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return common.ErrProviderUnavailable
}

// StatusCode extracts the provider status from err, or 0 when the failure
// happened before a response was received.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func buildAuthorizationURL(authURL, clientID, redirectURI, state string) string {
	v := url.Values{}
	v.Set("client_id", clientID)
	v.Set("redirect_uri", redirectURI)
	v.Set("response_type", "code")
	v.Set("scope", Scopes)
	v.Set("state", state)
	return authURL + "?" + v.Encode()
}
