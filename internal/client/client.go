// Package client talks to the sharing API. Encryption and decryption happen
// here, on the caller's machine; the server only ever sees envelopes.
package client

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"

	"zk.share/internal/crypto"
)

var (
	ErrUnavailable = errors.New("secret is no longer available")
	ErrNotFound    = errors.New("secret not found")
	ErrKeyMismatch = errors.New("key does not match this secret")
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

type Config struct {
	Server  string
	OrgID   string
	UserID  string
	Role    string
	Timeout time.Duration
}

type Client struct {
	http     *resty.Client
	provider *crypto.Provider
}

func New(cfg Config, provider *crypto.Provider) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if provider == nil {
		provider = crypto.NewProvider(nil)
	}

	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Server, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "sharectl")

	if cfg.OrgID != "" {
		r.SetHeader("X-Org-ID", cfg.OrgID)
	}
	if cfg.UserID != "" {
		r.SetHeader("X-User-ID", cfg.UserID)
	}
	if cfg.Role != "" {
		r.SetHeader("X-User-Role", cfg.Role)
	}

	return &Client{http: r, provider: provider}
}

type CreateOptions struct {
	Password   string
	MaxViews   *int
	ExpiresIn  string
	BurnOnRead bool
}

type Created struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	MaxViews   *int       `json:"maxViews"`
	BurnOnRead bool       `json:"burnOnRead"`

	// ShareURL is URL with the key in the fragment. Password-protected
	// secrets have no key to share, so it equals URL.
	ShareURL string `json:"-"`
}

type Status struct {
	ID                string     `json:"id"`
	State             string     `json:"state"`
	CanView           bool       `json:"canView"`
	Reason            string     `json:"reason"`
	ViewCount         int        `json:"viewCount"`
	MaxViews          *int       `json:"maxViews"`
	ViewsRemaining    *int       `json:"viewsRemaining"`
	ExpiresAt         *time.Time `json:"expiresAt"`
	BurnOnRead        bool       `json:"burnOnRead"`
	PasswordProtected bool       `json:"passwordProtected"`
	CreatedAt         time.Time  `json:"createdAt"`
	DeletedAt         *time.Time `json:"deletedAt"`
}

type Revealed struct {
	Plaintext      string
	ViewsRemaining *int
	BurnOnRead     bool
}

type createRequest struct {
	Envelope   *crypto.Envelope `json:"envelope"`
	MaxViews   *int             `json:"maxViews,omitempty"`
	ExpiresIn  string           `json:"expiresIn,omitempty"`
	BurnOnRead bool             `json:"burnOnRead"`
}

type revealResponse struct {
	Envelope       crypto.Envelope `json:"envelope"`
	ViewsRemaining *int            `json:"viewsRemaining"`
	BurnOnRead     bool            `json:"burnOnRead"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Create encrypts plaintext locally and uploads only the envelope.
func (c *Client) Create(ctx context.Context, plaintext string, opts CreateOptions) (*Created, error) {
	var (
		env *crypto.Envelope
		key crypto.Key
		err error
	)
	if opts.Password != "" {
		env, err = c.provider.EncryptWithPassword(plaintext, opts.Password)
	} else {
		if key, err = c.provider.RandomKey(); err == nil {
			defer crypto.Wipe(key)
			env, err = c.provider.Encrypt(plaintext, key)
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "encrypting secret")
	}

	var out Created
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(createRequest{
			Envelope:   env,
			MaxViews:   opts.MaxViews,
			ExpiresIn:  opts.ExpiresIn,
			BurnOnRead: opts.BurnOnRead,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/secrets")
	if err := check(resp, err, &apiErr); err != nil {
		return nil, err
	}

	out.ShareURL = out.URL
	if key != nil {
		out.ShareURL = out.URL + "#" + key.Encode()
	}
	return &out, nil
}

// Reveal consumes one view of the secret behind link. link may carry the key
// in its fragment; otherwise password is used.
func (c *Client) Reveal(ctx context.Context, link, password string) (*Revealed, error) {
	id, encodedKey, err := ParseLink(link)
	if err != nil {
		return nil, err
	}

	var out revealResponse
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/secrets/{id}")
	if err := check(resp, err, &apiErr); err != nil {
		return nil, err
	}

	var plaintext string
	switch {
	case out.Envelope.PasswordProtected():
		if password == "" {
			return nil, errors.WithHint(crypto.ErrInvalidInput, "this secret needs --password")
		}
		plaintext, err = crypto.DecryptWithPassword(&out.Envelope, password)
	case encodedKey == "":
		return nil, errors.WithHint(crypto.ErrInvalidInput, "link has no #key fragment")
	default:
		key, perr := crypto.ParseKey(encodedKey)
		if perr != nil {
			return nil, perr
		}
		defer crypto.Wipe(key)
		if !crypto.VerifyKey(&out.Envelope, key) {
			return nil, ErrKeyMismatch
		}
		plaintext, err = crypto.Decrypt(&out.Envelope, key)
	}
	if err != nil {
		return nil, err
	}

	return &Revealed{
		Plaintext:      plaintext,
		ViewsRemaining: out.ViewsRemaining,
		BurnOnRead:     out.BurnOnRead,
	}, nil
}

func (c *Client) Status(ctx context.Context, id string) (*Status, error) {
	var out Status
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/secrets/{id}/status")
	if err := check(resp, err, &apiErr); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetError(&apiErr).
		Delete("/api/secrets/{id}")
	return check(resp, err, &apiErr)
}

// ParseLink splits a share link into the secret id (last path segment) and
// the encoded key from the fragment. A bare id is accepted too.
func ParseLink(link string) (id, key string, err error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", "", errors.Wrap(crypto.ErrInvalidInput, "malformed link")
	}
	path := strings.TrimRight(u.Path, "/")
	id = path[strings.LastIndex(path, "/")+1:]
	if id == "" {
		return "", "", errors.Wrap(crypto.ErrInvalidInput, "link has no secret id")
	}
	return id, u.Fragment, nil
}

func check(resp *resty.Response, err error, apiErr *errorResponse) error {
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	if !resp.IsError() {
		return nil
	}

	msg := apiErr.Error
	if msg == "" {
		msg = resp.Status()
	}
	e := &APIError{Status: resp.StatusCode(), Message: msg}
	switch resp.StatusCode() {
	case 404:
		return errors.Mark(e, ErrNotFound)
	case 410:
		return errors.Mark(e, ErrUnavailable)
	default:
		return e
	}
}
