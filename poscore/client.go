package poscore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/iancoleman/strcase"
	"github.com/tidwall/gjson"
)

const (
	// DefaultPageSize is the number of records requested per listing page.
	DefaultPageSize = 250

	// DefaultOrderBy is the default campaign listing order.
	DefaultOrderBy = "created desc"
)

// Client issues authenticated calls against the campaign, installation and
// document endpoints. It never stores tokens itself; every call asks the
// injected Credentials for a currently valid token immediately before the
// request. Instances may be shared across goroutines as long as they share
// one Credentials.
type Client struct {
	credentials  *Credentials
	client       *http.Client
	exportClient *http.Client
	transport    http.RoundTripper
}

// ClientOption is a functional option for NewClient.
type ClientOption func(*Client)

// ClientWithHTTPClient overrides the http.Client used for every call,
// including exports. Callers needing their own timeout or proxy semantics
// configure them here.
func ClientWithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
		c.exportClient = client
	}
}

// ClientWithTransport sets a transport for every call, e.g. requests.Record
// or requests.Replay.
func ClientWithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.transport = rt
	}
}

// NewClient creates a client that authenticates with the given credentials.
func NewClient(credentials *Credentials, opts ...ClientOption) *Client {
	c := &Client{
		credentials:  credentials,
		client:       &http.Client{Timeout: HTTPRequestTimeout},
		exportClient: &http.Client{Timeout: ExportRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// api returns a fresh requests.Builder for the given endpoint path.
func (c *Client) api(path string, client *http.Client) *requests.Builder {
	b := requests.
		URL(c.credentials.BaseURL() + path).
		Client(client).
		AddValidator(statusValidator)
	if c.transport != nil {
		b = b.Transport(c.transport)
	}
	return b
}

// fetch runs one request with a valid bearer token attached, recovering at
// most once from a 401 by forcing a token refresh before resending. A 401
// on the resent request surfaces as *AuthError; there are no further
// retries of any kind.
func (c *Client) fetch(build func(token string) *requests.Builder, ctx context.Context) error {
	token, err := c.credentials.Token(ctx)
	if err != nil {
		return err
	}
	err = build(token).Fetch(ctx)
	if !hasStatus(err, http.StatusUnauthorized) {
		return err
	}

	// The service rejected a token the cache still considered valid, e.g.
	// revoked server-side or expired against the service clock.
	c.credentials.Invalidate()
	if token, err = c.credentials.Token(ctx); err != nil {
		return err
	}
	err = build(token).Fetch(ctx)
	if hasStatus(err, http.StatusUnauthorized) {
		return &AuthError{Username: c.credentials.Username(), Err: err}
	}
	return err
}

// CampaignQuery controls a campaign listing request. The zero value asks
// for the first page of DefaultPageSize expanded campaigns in
// DefaultOrderBy order.
type CampaignQuery struct {
	Size     int               // records per page
	Page     int               // 1-based page number
	OrderBy  string            // e.g. "created desc"
	NoExpand bool              // disable expansion of related entities
	Filters  map[string]string // extra query parameters
}

func (q CampaignQuery) withDefaults() CampaignQuery {
	if q.Size <= 0 {
		q.Size = DefaultPageSize
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.OrderBy == "" {
		q.OrderBy = DefaultOrderBy
	}
	return q
}

// normalizeOrderBy converts the field part of an ordering expression to the
// API's lowerCamel convention, so "created_at desc" and "CreatedAt desc"
// both become "createdAt desc".
func normalizeOrderBy(s string) string {
	field, dir, found := strings.Cut(strings.TrimSpace(s), " ")
	field = strcase.ToLowerCamel(field)
	if !found {
		return field
	}
	return field + " " + strings.ToLower(strings.TrimSpace(dir))
}

func (c *Client) campaignsBuilder(token string, q CampaignQuery, body *string) *requests.Builder {
	b := c.api("/cm/campaigns", c.client).
		Bearer(token).
		Param("size", strconv.Itoa(q.Size)).
		Param("page", strconv.Itoa(q.Page)).
		Param("orderby", normalizeOrderBy(q.OrderBy)).
		Param("expand", strconv.FormatBool(!q.NoExpand)).
		ToString(body)
	for k, v := range q.Filters {
		b = b.Param(strcase.ToLowerCamel(k), v)
	}
	return b
}

// GetCampaigns retrieves a single page of campaigns together with the
// cursor metadata needed to request further pages manually.
func (c *Client) GetCampaigns(query CampaignQuery, ctx context.Context) (*CampaignPage, error) {
	q := query.withDefaults()

	var body string
	err := c.fetch(func(token string) *requests.Builder {
		return c.campaignsBuilder(token, q, &body)
	}, ctx)
	if err != nil {
		return nil, fmt.Errorf("poscore: fetch campaigns page %d: %w", q.Page, err)
	}
	return decodeCampaignPage(body)
}

// GetAllCampaigns walks every page of the campaign listing starting at page
// 1 and concatenates the results in page order. When the service reports a
// page count the loop trusts it over the page length, so a final
// exactly-full page is neither refetched nor truncated. All-or-nothing: an
// error on any page discards the pages already fetched.
func (c *Client) GetAllCampaigns(query CampaignQuery, ctx context.Context) ([]Campaign, error) {
	q := query.withDefaults()
	q.Page = 1

	var campaigns []Campaign
	for {
		page, err := c.GetCampaigns(q, ctx)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, page.Campaigns...)

		if page.PageCount > 0 {
			if page.CurrentPage >= page.PageCount {
				break
			}
		} else if len(page.Campaigns) < q.Size {
			// No explicit total, fall back to the short-page signal.
			break
		}
		if len(page.Campaigns) == 0 {
			break
		}
		q.Page++
	}
	return campaigns, nil
}

// decodeCampaignPage validates and decodes one listing response, attaching
// the raw item JSON to each campaign's Source.
func decodeCampaignPage(body string) (*CampaignPage, error) {
	if !gjson.Valid(body) {
		log.Printf("poscore: invalid campaigns response:\n%s", body)
		return nil, errors.New("poscore: invalid json response")
	}
	var page CampaignPage
	if err := json.Unmarshal([]byte(body), &page); err != nil {
		return nil, fmt.Errorf("poscore: decode campaigns response: %w", err)
	}
	items := gjson.Get(body, "data").Array()
	for i := range page.Campaigns {
		if i < len(items) {
			page.Campaigns[i].Source = Source{data: items[i]}
		}
	}
	return &page, nil
}

// GetCampaignInstallations fetches a campaign's installation progress
// summary, optionally narrowed by filter.
func (c *Client) GetCampaignInstallations(campaignID int, filter InstallationFilter, ctx context.Context) (*InstallationSummary, error) {
	body, err := filter.payload()
	if err != nil {
		return nil, fmt.Errorf("poscore: build installation filter: %w", err)
	}

	var summary InstallationSummary
	err = c.fetch(func(token string) *requests.Builder {
		return c.api(fmt.Sprintf("/cm/campaigns/%d/installationprogresssummary", campaignID), c.client).
			Bearer(token).
			Post().
			BodyBytes([]byte(body)).
			ContentType("application/json").
			ToJSON(&summary)
	}, ctx)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return nil, &NotFoundError{Resource: fmt.Sprintf("campaign %d", campaignID), Status: statusOf(err)}
		}
		return nil, fmt.Errorf("poscore: fetch installation summary for campaign %d: %w", campaignID, err)
	}
	return &summary, nil
}
