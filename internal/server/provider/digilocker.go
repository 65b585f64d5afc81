package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nikilm-offx/TNEA-Insight/internal/common"
	"github.com/nikilm-offx/TNEA-Insight/internal/logging"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
)

type Options struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	APIBase      string
	RedirectURI  string
	Timeout      time.Duration
	Logger       logging.Logger
}

// DigiLockerClient talks to the document locker over resty. It is safe for
// concurrent use.
type DigiLockerClient struct {
	opts   Options
	http   *resty.Client
	logger logging.Logger
}

func NewDigiLockerClient(opts Options) *DigiLockerClient {
	c := resty.New().
		SetBaseURL(opts.APIBase).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &DigiLockerClient{opts: opts, http: c, logger: logger.With("component", "provider")}
}

func (c *DigiLockerClient) AuthorizationURL(state string) string {
	return buildAuthorizationURL(c.opts.AuthURL, c.opts.ClientID, c.opts.RedirectURI, state)
}

func (c *DigiLockerClient) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	return c.token(ctx, map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"client_id":     c.opts.ClientID,
		"client_secret": c.opts.ClientSecret,
		"redirect_uri":  c.opts.RedirectURI,
	})
}

func (c *DigiLockerClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.token(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     c.opts.ClientID,
		"client_secret": c.opts.ClientSecret,
	})
}

func (c *DigiLockerClient) token(ctx context.Context, form map[string]string) (*TokenResponse, error) {
	var out TokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		Post(c.opts.TokenURL)
	if err != nil {
		return nil, fmt.Errorf("token request: %w: %v", common.ErrProviderUnavailable, err)
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("token response: %w: empty access token", common.ErrProviderUnavailable)
	}
	if out.TokenType == "" {
		out.TokenType = "Bearer"
	}
	return &out, nil
}

func (c *DigiLockerClient) GetUser(ctx context.Context, accessToken string) (*UserInfo, error) {
	var out UserInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&out).
		Get("user")
	if err != nil {
		return nil, fmt.Errorf("user request: %w: %v", common.ErrProviderUnavailable, err)
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return &out, nil
}

// ListDocuments accepts both {"certificates": [...]} and a bare array.
func (c *DigiLockerClient) ListDocuments(ctx context.Context, accessToken string) ([]*Document, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		Get("documents")
	if err != nil {
		return nil, fmt.Errorf("documents request: %w: %v", common.ErrProviderUnavailable, err)
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return c.decodeDocumentList(ctx, resp.Body())
}

// decodeDocumentList decodes each entry on its own. Entries with an
// unmapped docType are dropped before their attributes are looked at; a
// mapped entry that still fails to decode is logged and dropped. Only a
// malformed envelope is an error.
func (c *DigiLockerClient) decodeDocumentList(ctx context.Context, body []byte) ([]*Document, error) {
	var entries []json.RawMessage
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("decode documents: %w", err)
		}
	} else {
		var wrapped struct {
			Certificates []json.RawMessage `json:"certificates"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("decode documents: %w", err)
		}
		entries = wrapped.Certificates
	}

	docs := make([]*Document, 0, len(entries))
	for i, entry := range entries {
		var head struct {
			ID      any `json:"id"`
			DocType any `json:"docType"`
		}
		if err := json.Unmarshal(entry, &head); err != nil {
			c.logger.Warn(ctx, "skipping malformed document entry", "index", i, "error", err)
			continue
		}
		docType, _ := head.DocType.(string)
		if _, ok := models.MapDocumentType(docType); !ok {
			continue
		}
		var d Document
		if err := json.Unmarshal(entry, &d); err != nil {
			c.logger.Warn(ctx, "skipping undecodable document", "index", i, "id", head.ID, "doc_type", docType, "error", err)
			continue
		}
		docs = append(docs, &d)
	}
	return docs, nil
}

func (c *DigiLockerClient) GetDocument(ctx context.Context, accessToken string, id string) (*Document, error) {
	var out Document
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&out).
		Get("documents/" + url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("document request: %w: %v", common.ErrProviderUnavailable, err)
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return &out, nil
}
