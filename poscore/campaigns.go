package poscore

import (
	"fmt"
	"strings"
	"time"

	"github.com/biter777/countries"
	"github.com/tidwall/gjson"
	"github.com/ttacon/libphonenumber"
)

// Timestamp decodes the API's datetime values, which omit the timezone
// suffix on some deployments.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts
			return nil
		}
	}
	return fmt.Errorf("poscore: cannot parse timestamp %q", s)
}

// Source wraps the raw JSON of a response item so callers can reach
// expanded fields the typed models do not cover.
type Source struct {
	data gjson.Result
}

func (s Source) StringForPath(path string) (string, bool) {
	result := s.data.Get(path)
	return result.String(), result.Exists() && (result.Value() != nil)
}

func (s Source) IntForPath(path string) (int64, bool) {
	result := s.data.Get(path)
	return result.Int(), result.Exists() && (result.Value() != nil)
}

func (s Source) BoolForPath(path string) (bool, bool) {
	result := s.data.Get(path)
	return result.Bool(), result.Exists() && (result.Value() != nil)
}

func (s Source) Data() map[string]interface{} {
	if v := s.data.Value(); v != nil {
		if m, ok := v.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

// Campaign is a read-only projection of a campaign as returned by the
// listing endpoint. Identity is the ID; pointer fields are only populated
// when the listing is requested with expand.
type Campaign struct {
	ID       int        `json:"id"`
	Name     string     `json:"name"`
	PNumber  string     `json:"pNumber,omitempty"`
	Created  Timestamp  `json:"created"`
	Modified *Timestamp `json:"modified,omitempty"`
	From     Timestamp  `json:"from"`
	To       Timestamp  `json:"to"`
	Currency string     `json:"currency"`

	CMContact       *Contact           `json:"cmContact,omitempty"`
	Company         *Company           `json:"company,omitempty"`
	InvoiceTo       *CustomerReference `json:"invoiceTo,omitempty"`
	CampaignFrom    *CustomerReference `json:"campaignFrom,omitempty"`
	AMSalesEmployee *SalesEmployee     `json:"amSalesEmployee,omitempty"`
	CampaignRows    []CampaignRow      `json:"campaignRows,omitempty"`
	CampaignStatus  *CampaignStatus    `json:"campaignStatus,omitempty"`

	CampaignLocks []map[string]interface{} `json:"campaignLocks,omitempty"`

	IsYearlyCampaign     *bool    `json:"isYearlyCampaign,omitempty"`
	IsCanceled           bool     `json:"isCanceled"`
	CMContactID          int      `json:"cmContactId"`
	CompanyID            int      `json:"companyId"`
	InvCustomerID        int      `json:"invCustomerId"`
	CampCustomerID       int      `json:"campCustomerId"`
	AMSaleID             int      `json:"amSaleId"`
	InvoiceStatus        int      `json:"invoiceStatus"`
	TotalAmount          float64  `json:"totalAmount"`
	CampaignStatusValue  int      `json:"campaignStatusValue"`
	InstallationProgress *int     `json:"installationProgress,omitempty"`
	Flags                []string `json:"flags,omitempty"`

	// Source carries the raw response item so expanded fields not modelled
	// above remain reachable.
	Source Source `json:"-"`
}

type CampaignStatus struct {
	Created *Timestamp `json:"created,omitempty"`
	Value   int        `json:"value"`
	Name    string     `json:"name"`
}

type Contact struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// PhoneNumber parses the contact phone using the given region (e.g. "CZ")
// as the default and formats it as E.164. The raw value is returned when
// parsing fails.
func (c Contact) PhoneNumber(region string) string {
	num, err := libphonenumber.Parse(c.Phone, region)
	if err != nil {
		return c.Phone
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}

type Company struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Currency    string `json:"currency"`
	CompanyCode string `json:"companyCode"`
	CountryCode string `json:"countryCode"`
}

// Country resolves the company country code; countries.Unknown when the
// code does not match.
func (c Company) Country() countries.CountryCode {
	return countries.ByName(c.CountryCode)
}

type CustomerReference struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

type SalesEmployee struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Partner struct {
	ID                        int    `json:"id"`
	Name                      string `json:"name"`
	RetailerAutoApprovalLimit *int   `json:"retailerAutoApprovalLimit,omitempty"`
}

type Brand struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Carrier struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	AllowReservation bool   `json:"allowReservation"`
}

type Component struct {
	ID        int                      `json:"id"`
	Name      string                   `json:"name"`
	CarrierID int                      `json:"carrierId"`
	Partners  []map[string]interface{} `json:"partners,omitempty"`
}

// CampaignRow is one ordered carrier/component line of a campaign.
type CampaignRow struct {
	ID             int             `json:"id"`
	CampaignID     *int            `json:"campaignId,omitempty"`
	PartnerID      *int            `json:"partnerId,omitempty"`
	CarrierID      *int            `json:"carrierId,omitempty"`
	BrandID        *int            `json:"brandId,omitempty"`
	ComponentID    *int            `json:"componentId,omitempty"`
	Partner        *Partner        `json:"partner,omitempty"`
	Brand          *Brand          `json:"brand,omitempty"`
	Carrier        *Carrier        `json:"carrier,omitempty"`
	Component      *Component      `json:"component,omitempty"`
	CampaignStatus *CampaignStatus `json:"campaignStatus,omitempty"`

	Quantity       *int       `json:"quantity,omitempty"`
	LocationsCount *int       `json:"locationsCount,omitempty"`
	UnitPrice      *float64   `json:"unitPrice,omitempty"`
	Discount       *float64   `json:"discount,omitempty"`
	TotalAmount    *float64   `json:"totalAmount,omitempty"`
	StartDate      *Timestamp `json:"startDate,omitempty"`
	EndDate        *Timestamp `json:"endDate,omitempty"`
	Modified       *Timestamp `json:"modified,omitempty"`

	Description  string `json:"description,omitempty"`
	PrintComment string `json:"printComment,omitempty"`

	HasInstallationTasks    *bool  `json:"hasInstallationTasks,omitempty"`
	InstallationDescription string `json:"installationDescription,omitempty"`
	HasMonitorTasks         *bool  `json:"hasMonitorTasks,omitempty"`
	HasDeinstallationTasks  *bool  `json:"hasDeinstallationTasks,omitempty"`
	MinimumPhotosCount      *int   `json:"minimumPhotosCount,omitempty"`
	EAN                     string `json:"ean,omitempty"`
	IndividualName          string `json:"individualName,omitempty"`
}

// CampaignPage is one page of a campaign listing plus the cursor metadata
// needed to request the next page.
type CampaignPage struct {
	CurrentPage int        `json:"currentPage"`
	PageSize    int        `json:"pageSize"`
	RowCount    int        `json:"rowCount"`
	PageCount   int        `json:"pageCount"`
	Campaigns   []Campaign `json:"data"`
}

// HasMore reports whether pages remain after this one, when the service
// reports a page count.
func (p CampaignPage) HasMore() bool {
	return p.PageCount > 0 && p.CurrentPage < p.PageCount
}
