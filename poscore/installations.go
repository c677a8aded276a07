package poscore

import (
	"github.com/tidwall/sjson"
)

// InstallationSummary categorises a campaign's locations by their
// installation state.
type InstallationSummary struct {
	InProgress         []LocationInstallation `json:"inProgress"`
	PendingReview      []LocationInstallation `json:"pendingReview"`
	PartiallyInstalled []LocationInstallation `json:"partiallyInstalled"`
	Unsuccessful       []LocationInstallation `json:"unsuccessful"`
	Installed          []LocationInstallation `json:"installed"`
	Missed             []LocationInstallation `json:"missed"`
}

// LocationInstallation is a physical store location and the campaign rows
// installed there.
type LocationInstallation struct {
	ID         int                       `json:"id"`
	Identifier string                    `json:"identifier"`
	City       string                    `json:"city"`
	Street     string                    `json:"street"`
	Zip        string                    `json:"zip"`
	Rows       []CampaignRowInstallation `json:"rows"`
}

// CampaignRowInstallation is the installation status of one carrier/component
// row in a location.
type CampaignRowInstallation struct {
	CampaignRowID     int           `json:"campaignRowId"`
	CarrierName       string        `json:"carrierName"`
	ComponentName     string        `json:"componentName"`
	QuantityInstalled int           `json:"quantityInstalled"`
	QuantityToInstall int           `json:"quantityToInstall"`
	Responses         []RowResponse `json:"responses"`
}

// RowResponse is an individual photo or note submitted for a row.
type RowResponse struct {
	Type      int    `json:"type"`
	PhotoID   string `json:"photoId"`
	PhotoName string `json:"photoName"`
	Note      string `json:"note,omitempty"`
}

// InstallationFilter narrows an installation summary or photo export to
// specific dimensions. An empty list means "no filter on that dimension";
// empty dimensions are omitted from the request body entirely so the
// service cannot read them as an exclusion.
type InstallationFilter struct {
	Locations  []int
	CMCarriers []int
	Components []int
	TaskTypes  []int
}

// payload renders the filter as a JSON body with empty dimensions omitted.
func (f InstallationFilter) payload() (string, error) {
	body := "{}"
	var err error
	set := func(path string, ids []int) {
		if err != nil || len(ids) == 0 {
			return
		}
		body, err = sjson.Set(body, path, ids)
	}
	set("locations", f.Locations)
	set("cmCarriers", f.CMCarriers)
	set("components", f.Components)
	set("taskTypes", f.TaskTypes)
	return body, err
}
