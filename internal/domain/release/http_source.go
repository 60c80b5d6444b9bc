package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type holdResponse struct {
	Active *bool  `json:"active"`
	Reason string `json:"reason"`
}

// HTTPSource asks a remote hold service about a case:
// GET {base}/holds/{case_code} -> {"active": bool, "reason": string}.
type HTTPSource struct {
	name   string
	reason Reason
	client *resty.Client
}

func NewHTTPSource(name string, reason Reason, baseURL string, timeout time.Duration, retries int) *HTTPSource {
	return &HTTPSource{name: name, reason: reason, client: newClient(baseURL, timeout, retries)}
}

func newClient(baseURL string, timeout time.Duration, retries int) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) Check(ctx context.Context, ref CaseRef) (Hold, bool, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("case_code", ref.Code).
		Get("/holds/{case_code}")
	if err != nil {
		return Hold{}, false, fmt.Errorf("query %s: %w", s.name, err)
	}
	if !resp.IsSuccess() {
		return Hold{}, false, fmt.Errorf("query %s: unexpected status %d", s.name, resp.StatusCode())
	}

	var body holdResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return Hold{}, false, fmt.Errorf("decode %s response: %w", s.name, err)
	}
	if body.Active == nil {
		return Hold{}, false, errors.New("decode " + s.name + " response: missing active flag")
	}
	if !*body.Active {
		return Hold{}, false, nil
	}
	return Hold{Reason: s.reason, Source: s.name, Message: body.Reason}, true, nil
}

type authorizationResponse struct {
	Authorized *bool  `json:"authorized"`
	Reason     string `json:"reason"`
}

// LegalAuthorizationSource holds legal cases until the legal authority has
// authorized the release of the body:
// GET {base}/authorizations/{case_code} -> {"authorized": bool, "reason": string}.
// Cases that are not legal cases never hold and are not queried.
type LegalAuthorizationSource struct {
	client *resty.Client
}

func NewLegalAuthorizationSource(baseURL string, timeout time.Duration, retries int) *LegalAuthorizationSource {
	return &LegalAuthorizationSource{client: newClient(baseURL, timeout, retries)}
}

func (s *LegalAuthorizationSource) Name() string { return "legal_authority" }

func (s *LegalAuthorizationSource) Check(ctx context.Context, ref CaseRef) (Hold, bool, error) {
	if !ref.LegalCase {
		return Hold{}, false, nil
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("case_code", ref.Code).
		Get("/authorizations/{case_code}")
	if err != nil {
		return Hold{}, false, fmt.Errorf("query legal authority: %w", err)
	}
	if !resp.IsSuccess() {
		return Hold{}, false, fmt.Errorf("query legal authority: unexpected status %d", resp.StatusCode())
	}

	var body authorizationResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return Hold{}, false, fmt.Errorf("decode legal authority response: %w", err)
	}
	if body.Authorized == nil {
		return Hold{}, false, errors.New("decode legal authority response: missing authorized flag")
	}
	if *body.Authorized {
		return Hold{}, false, nil
	}
	msg := body.Reason
	if msg == "" {
		msg = "release not yet authorized by the legal authority"
	}
	return Hold{Reason: ReasonLegalAuthorization, Source: s.Name(), Message: msg}, true, nil
}
