package freelancer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

const (
	DefaultBaseURL = "https://www.freelancer.com"

	authHeader          = "Freelancer-OAuth-V1"
	maxResponseBytes    = 4 << 20
	defaultTimeout      = 30 * time.Second
	milestonePercentage = 100

	searchPath = "/api/projects/0.1/projects/active/"
	bidsPath   = "/api/projects/0.1/bids/"
	selfPath   = "/api/users/0.1/self/"
)

type Config struct {
	BaseURL        string
	Token          string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Client talks to the Freelancer REST API with one session's OAuth token.
type Client struct {
	base           *url.URL
	token          string
	httpClient     *http.Client
	requestTimeout time.Duration
}

var _ ports.Marketplace = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("marketplace token is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse marketplace base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.New("marketplace base url must use http or https")
	}
	if base.Host == "" {
		return nil, errors.New("marketplace base url host is required")
	}

	client := &Client{
		base:           base,
		token:          cfg.Token,
		httpClient:     cfg.HTTPClient,
		requestTimeout: cfg.RequestTimeout,
	}
	if client.httpClient == nil {
		client.httpClient = http.DefaultClient
	}
	if client.requestTimeout <= 0 {
		client.requestTimeout = defaultTimeout
	}
	return client, nil
}

// Factory returns a ports.MarketplaceFactory bound to one API endpoint.
func Factory(baseURL string, httpClient *http.Client) ports.MarketplaceFactory {
	return func(_ domain.Session, token string) (ports.Marketplace, error) {
		return New(Config{BaseURL: baseURL, Token: token, HTTPClient: httpClient})
	}
}

// Search reads one page of active projects, newest update first, with the
// owner's country resolved from the user details of the same response.
func (c *Client) Search(ctx context.Context, filter ports.SearchFilter) ([]domain.Project, error) {
	query := url.Values{}
	query.Set("query", filter.Query)
	query.Set("limit", strconv.Itoa(filter.Limit))
	query.Set("offset", strconv.Itoa(filter.Offset))
	query.Set("sort_field", "time_updated")
	query.Set("or_search_query", "true")
	query.Set("full_description", "true")
	query.Set("upgrade_details", "true")
	query.Set("user_details", "true")
	query.Set("user_country_details", "true")
	for _, id := range filter.SkillIDs {
		query.Add("jobs[]", strconv.Itoa(id))
	}
	for _, code := range filter.LanguageCodes {
		query.Add("languages[]", code)
	}

	var result searchResult
	if err := c.do(ctx, http.MethodGet, searchPath, query, nil, &result); err != nil {
		return nil, fmt.Errorf("search projects: %w", err)
	}

	projects := make([]domain.Project, 0, len(result.Projects))
	for _, p := range result.Projects {
		projects = append(projects, toProject(p, result.Users))
	}
	return projects, nil
}

func (c *Client) ExistingBids(ctx context.Context, projectID domain.ProjectID) ([]domain.ExistingBid, error) {
	query := url.Values{}
	query.Add("projects[]", strconv.FormatInt(int64(projectID), 10))

	var result bidsResult
	if err := c.do(ctx, http.MethodGet, bidsPath, query, nil, &result); err != nil {
		return nil, fmt.Errorf("list bids for project %d: %w", projectID, err)
	}

	bids := make([]domain.ExistingBid, 0, len(result.Bids))
	for _, b := range result.Bids {
		bids = append(bids, domain.ExistingBid{
			ID:        b.ID,
			BidderID:  domain.UserID(b.BidderID),
			ProjectID: domain.ProjectID(b.ProjectID),
		})
	}
	return bids, nil
}

func (c *Client) SubmitBid(ctx context.Context, bid ports.BidSubmission) (ports.BidAck, error) {
	body := placeBidRequest{
		ProjectID:           int64(bid.ProjectID),
		BidderID:            int64(bid.BidderID),
		Amount:              bid.Amount,
		Period:              bid.Period,
		MilestonePercentage: milestonePercentage,
		Description:         bid.Description,
	}

	var result bidPayload
	if err := c.do(ctx, http.MethodPost, bidsPath, nil, body, &result); err != nil {
		return ports.BidAck{}, fmt.Errorf("place bid on project %d: %w", bid.ProjectID, err)
	}
	return ports.BidAck{BidID: result.ID}, nil
}

func (c *Client) SelfIdentity(ctx context.Context) (domain.UserID, error) {
	var result selfResult
	if err := c.do(ctx, http.MethodGet, selfPath, nil, nil, &result); err != nil {
		return 0, fmt.Errorf("get self user: %w", err)
	}
	if result.ID == 0 {
		return 0, errors.New("get self user: response has no user id")
	}
	return domain.UserID(result.ID), nil
}

// SealBid applies the seal upgrade to a placed bid.
func (c *Client) SealBid(ctx context.Context, bidID int64) error {
	query := url.Values{}
	query.Set("action", "seal")

	path := bidsPath + strconv.FormatInt(bidID, 10) + "/"
	if err := c.do(ctx, http.MethodPut, path, query, nil, nil); err != nil {
		return fmt.Errorf("seal bid %d: %w", bidID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.base.JoinPath(path)
	if strings.HasSuffix(path, "/") && !strings.HasSuffix(endpoint.Path, "/") {
		endpoint.Path += "/"
	}
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(authHeader, c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer func() { _ = resp.Body.Close() }()

	var payload envelope
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := fmt.Errorf("status %d%s", resp.StatusCode, describe(payload))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return domain.Transient(statusErr)
		}
		return statusErr
	}
	if decodeErr != nil {
		if out == nil && errors.Is(decodeErr, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if payload.Status != "" && payload.Status != "success" {
		return fmt.Errorf("api status %q%s", payload.Status, describe(payload))
	}
	if out == nil || len(payload.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

func describe(payload envelope) string {
	switch {
	case payload.Message != "" && payload.ErrorCode != "":
		return ": " + payload.ErrorCode + ": " + payload.Message
	case payload.Message != "":
		return ": " + payload.Message
	default:
		return ""
	}
}

func toProject(p projectPayload, users map[string]userPayload) domain.Project {
	description := p.Description
	if description == "" {
		description = p.PreviewDescription
	}

	project := domain.Project{
		ID:           domain.ProjectID(p.ID),
		OwnerID:      domain.UserID(p.OwnerID),
		Title:        p.Title,
		Description:  description,
		Status:       strings.ToLower(p.Status),
		Type:         domain.ContractType(strings.ToLower(p.Type)),
		Currency:     p.Currency.Code,
		ExchangeRate: p.Currency.ExchangeRate,
		MinBudget:    p.Budget.Minimum,
		MaxBudget:    p.Budget.Maximum,
		NDA:          p.Upgrades.NDA,
		SEOURL:       p.SEOURL,
	}
	if p.SubmitDate > 0 {
		project.SubmittedAt = time.Unix(p.SubmitDate, 0).UTC()
	}
	if owner, ok := users[strconv.FormatInt(p.OwnerID, 10)]; ok {
		project.OwnerCountry = strings.ToLower(owner.Location.Country.Name)
	}
	return project
}
