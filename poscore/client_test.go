package poscore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/tidwall/gjson"
)

// campaignListing serves a paginated /cm/campaigns listing over a fixed
// number of campaigns, recording every request it receives.
type campaignListing struct {
	total        int
	reportCount  bool            // include currentPage/pageCount metadata
	rejectTokens map[string]bool // Authorization header values to 401

	mu      sync.Mutex
	queries []url.Values
}

func (l *campaignListing) handle(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	l.mu.Lock()
	l.queries = append(l.queries, r.URL.Query())
	rejected := auth == "" || l.rejectTokens[auth]
	l.mu.Unlock()
	if rejected {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"token expired"}`)
		return
	}

	q := r.URL.Query()
	size, _ := strconv.Atoi(q.Get("size"))
	page, _ := strconv.Atoi(q.Get("page"))

	start := (page-1)*size + 1
	end := page * size
	if end > l.total {
		end = l.total
	}
	items := []map[string]interface{}{}
	for id := start; id <= end; id++ {
		items = append(items, map[string]interface{}{
			"id":      id,
			"name":    fmt.Sprintf("Campaign %03d", id),
			"created": "2026-01-01T00:00:00Z",
		})
	}

	resp := map[string]interface{}{
		"data":     items,
		"pageSize": size,
		"rowCount": l.total,
	}
	if l.reportCount {
		resp["currentPage"] = page
		resp["pageCount"] = (l.total + size - 1) / size
	}
	json.NewEncoder(w).Encode(resp)
}

func (l *campaignListing) requestCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queries)
}

func (l *campaignListing) query(i int) url.Values {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queries[i]
}

func newListingClient(t *testing.T, listing *campaignListing) (*testAPI, *Client) {
	t.Helper()
	api := &testAPI{routes: listing.handle}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	creds := NewCredentials("tester", "secret", WithBaseURL(srv.URL))
	return api, NewClient(creds)
}

func TestGetAllCampaignsPaginates(t *testing.T) {
	listing := &campaignListing{total: 120, reportCount: true}
	_, client := newListingClient(t, listing)

	campaigns, err := client.GetAllCampaigns(CampaignQuery{Size: 50}, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(campaigns) != 120 {
		t.Fatalf("expected 120 campaigns, got %d", len(campaigns))
	}
	for i, c := range campaigns {
		if c.ID != i+1 {
			t.Fatalf("expected campaigns in page order, got id %d at index %d", c.ID, i)
		}
	}
	if listing.requestCount() != 3 {
		t.Errorf("expected 3 page requests, got %d", listing.requestCount())
	}
	for i, page := range []string{"1", "2", "3"} {
		q := listing.query(i)
		if q.Get("page") != page || q.Get("size") != "50" {
			t.Errorf("request %d asked for page=%s size=%s", i, q.Get("page"), q.Get("size"))
		}
	}
}

func TestGetAllCampaignsShortPageFallback(t *testing.T) {
	listing := &campaignListing{total: 120, reportCount: false}
	_, client := newListingClient(t, listing)

	campaigns, err := client.GetAllCampaigns(CampaignQuery{Size: 50}, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(campaigns) != 120 {
		t.Fatalf("expected 120 campaigns, got %d", len(campaigns))
	}
	if listing.requestCount() != 3 {
		t.Errorf("expected 3 page requests, got %d", listing.requestCount())
	}
}

func TestGetCampaignsSinglePage(t *testing.T) {
	listing := &campaignListing{total: 120, reportCount: true}
	_, client := newListingClient(t, listing)

	page, err := client.GetCampaigns(CampaignQuery{Size: 50, Page: 2}, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if listing.requestCount() != 1 {
		t.Fatalf("expected exactly one request, got %d", listing.requestCount())
	}
	if len(page.Campaigns) != 50 {
		t.Fatalf("expected 50 campaigns, got %d", len(page.Campaigns))
	}
	if page.Campaigns[0].ID != 51 || page.Campaigns[49].ID != 100 {
		t.Errorf("expected ids 51..100, got %d..%d", page.Campaigns[0].ID, page.Campaigns[49].ID)
	}
	if page.CurrentPage != 2 || page.PageCount != 3 || page.RowCount != 120 {
		t.Errorf("unexpected cursor metadata %+v", page)
	}
	if !page.HasMore() {
		t.Error("expected more pages after page 2 of 3")
	}
}

func TestCampaignQueryParams(t *testing.T) {
	listing := &campaignListing{total: 5, reportCount: true}
	_, client := newListingClient(t, listing)
	ctx := context.Background()

	if _, err := client.GetCampaigns(CampaignQuery{}, ctx); err != nil {
		t.Fatal(err)
	}
	q := listing.query(0)
	if q.Get("size") != "250" || q.Get("page") != "1" {
		t.Errorf("unexpected default paging size=%s page=%s", q.Get("size"), q.Get("page"))
	}
	if q.Get("orderby") != "created desc" {
		t.Errorf("unexpected default orderby %q", q.Get("orderby"))
	}
	if q.Get("expand") != "true" {
		t.Errorf("expected expand=true by default, got %q", q.Get("expand"))
	}

	query := CampaignQuery{
		Size:     5,
		OrderBy:  "created_at desc",
		NoExpand: true,
		Filters:  map[string]string{"sales_employee": "5"},
	}
	if _, err := client.GetCampaigns(query, ctx); err != nil {
		t.Fatal(err)
	}
	q = listing.query(1)
	if q.Get("orderby") != "createdAt desc" {
		t.Errorf("expected a lowerCamel orderby field, got %q", q.Get("orderby"))
	}
	if q.Get("expand") != "false" {
		t.Errorf("expected expand=false, got %q", q.Get("expand"))
	}
	if q.Get("salesEmployee") != "5" {
		t.Errorf("expected filter key normalized to salesEmployee, got %v", q)
	}
}

func TestCampaignSourceKeepsExpandedFields(t *testing.T) {
	api := &testAPI{routes: func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"currentPage": 1, "pageSize": 250, "rowCount": 1, "pageCount": 1,
			"data": [{
				"id": 7, "name": "Spring Launch", "created": "2026-02-01T09:30:00Z",
				"dunnhumbyId": 42,
				"company": {"id": 3, "name": "Acme", "currency": "CZK", "companyCode": "ACM", "countryCode": "CZ"}
			}]
		}`)
	}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	client := NewClient(NewCredentials("tester", "secret", WithBaseURL(srv.URL)))

	page, err := client.GetCampaigns(CampaignQuery{}, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Campaigns) != 1 {
		t.Fatalf("expected 1 campaign, got %d", len(page.Campaigns))
	}
	c := page.Campaigns[0]
	if c.Company == nil || c.Company.Name != "Acme" {
		t.Errorf("expected expanded company, got %+v", c.Company)
	}
	id, exists := c.Source.IntForPath("dunnhumbyId")
	if !exists || id != 42 {
		t.Errorf("expected dunnhumbyId reachable through Source, got %d (%t)", id, exists)
	}
}

func TestUnauthorizedTriggersSingleRefreshRetry(t *testing.T) {
	listing := &campaignListing{
		total:        5,
		reportCount:  true,
		rejectTokens: map[string]bool{"Bearer token-1": true},
	}
	api, client := newListingClient(t, listing)

	page, err := client.GetCampaigns(CampaignQuery{}, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Campaigns) != 5 {
		t.Errorf("expected campaigns after the retried request, got %d", len(page.Campaigns))
	}
	if listing.requestCount() != 2 {
		t.Errorf("expected the request to be sent exactly twice, got %d", listing.requestCount())
	}
	if api.refreshCount() != 1 {
		t.Errorf("expected exactly one token refresh, got %d", api.refreshCount())
	}
	if api.loginCount() != 1 {
		t.Errorf("expected no extra login, got %d", api.loginCount())
	}
}

func TestUnauthorizedTwiceFails(t *testing.T) {
	listing := &campaignListing{
		total:       5,
		reportCount: true,
		rejectTokens: map[string]bool{
			"Bearer token-1": true,
			"Bearer token-2": true,
		},
	}
	_, client := newListingClient(t, listing)

	_, err := client.GetCampaigns(CampaignQuery{}, context.Background())
	if err == nil {
		t.Fatal("expected an error when the retried request is rejected too")
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
	if listing.requestCount() != 2 {
		t.Errorf("expected no retries beyond the single refresh, got %d requests", listing.requestCount())
	}
}

const installationSummaryFixture = `{
	"inProgress": [],
	"pendingReview": [],
	"partiallyInstalled": [],
	"unsuccessful": [],
	"missed": [],
	"installed": [{
		"id": 11, "identifier": "PRG-001", "city": "Praha", "street": "Na Příkopě 1", "zip": "11000",
		"rows": [{
			"campaignRowId": 91, "carrierName": "Shelf stopper", "componentName": "Poster A4",
			"quantityInstalled": 2, "quantityToInstall": 2,
			"responses": [{"type": 1, "photoId": "dc85d712-dc49-4e07-bb6c-876a6aa97ec6", "photoName": "front.jpg"}]
		}]
	}]
}`

func TestGetCampaignInstallations(t *testing.T) {
	var body []byte
	api := &testAPI{routes: func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/cm/campaigns/42/installationprogresssummary" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, installationSummaryFixture)
	}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	client := NewClient(NewCredentials("tester", "secret", WithBaseURL(srv.URL)))

	filter := InstallationFilter{CMCarriers: []int{7, 9}}
	summary, err := client.GetCampaignInstallations(42, filter, context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if gjson.GetBytes(body, "locations").Exists() {
		t.Errorf("empty locations filter must not be sent, body: %s", body)
	}
	if got := gjson.GetBytes(body, "cmCarriers").Raw; got != "[7,9]" {
		t.Errorf("expected cmCarriers [7,9], got %s", got)
	}

	if len(summary.Installed) != 1 {
		t.Fatalf("expected one installed location, got %+v", summary)
	}
	loc := summary.Installed[0]
	if loc.Identifier != "PRG-001" || len(loc.Rows) != 1 {
		t.Errorf("unexpected location %+v", loc)
	}
	if loc.Rows[0].Responses[0].PhotoID != "dc85d712-dc49-4e07-bb6c-876a6aa97ec6" {
		t.Errorf("unexpected response %+v", loc.Rows[0].Responses[0])
	}
}

func TestGetCampaignInstallationsEmptyFilter(t *testing.T) {
	var body []byte
	api := &testAPI{routes: func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, installationSummaryFixture)
	}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	client := NewClient(NewCredentials("tester", "secret", WithBaseURL(srv.URL)))

	_, err := client.GetCampaignInstallations(42, InstallationFilter{}, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "{}" {
		t.Errorf("expected an empty JSON body for an empty filter, got %s", body)
	}
}
