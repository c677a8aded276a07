package poscore

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/google/uuid"
)

// Blob is binary content fetched on demand, together with the file name and
// content type reported by the service rather than inferred from the URL.
type Blob struct {
	ID          uuid.UUID
	FileName    string
	ContentType string
	Content     []byte
}

// blobHandler captures the response body and metadata headers into blob.
func blobHandler(blob *Blob) func(*http.Response) error {
	return func(res *http.Response) error {
		defer res.Body.Close()
		content, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		blob.Content = content
		blob.ContentType = res.Header.Get("Content-Type")
		if blob.ContentType == "" {
			blob.ContentType = "application/octet-stream"
		}
		blob.FileName = filenameFromContentDisposition(res.Header.Get("Content-Disposition"))
		return nil
	}
}

// filenameFromContentDisposition extracts the filename from a
// Content-Disposition header value, returning "unknown" when one cannot be
// determined.
func filenameFromContentDisposition(cd string) string {
	if cd == "" {
		return "unknown"
	}
	if _, params, err := mime.ParseMediaType(cd); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	// Some gateway responses omit the disposition type, which trips up
	// mime.ParseMediaType.
	if _, after, found := strings.Cut(cd, "filename="); found {
		if name := strings.Trim(strings.TrimSpace(after), `"`); name != "" {
			return name
		}
	}
	return "unknown"
}

// FetchDocument downloads a document by its ID. With thumbnail set, a
// reduced-size rendition is requested instead. A missing document surfaces
// as *NotFoundError.
func (c *Client) FetchDocument(documentID uuid.UUID, thumbnail bool, ctx context.Context) (*Blob, error) {
	path := fmt.Sprintf("/cm/documents/%s", documentID)
	if thumbnail {
		path += "/thumbnail"
	}

	blob := Blob{ID: documentID}
	err := c.fetch(func(token string) *requests.Builder {
		return c.api(path, c.client).
			Bearer(token).
			Param("skipValidation", "true").
			Handle(blobHandler(&blob))
	}, ctx)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return nil, &NotFoundError{Resource: fmt.Sprintf("document %s", documentID), Status: statusOf(err)}
		}
		return nil, fmt.Errorf("poscore: fetch document %s: %w", documentID, err)
	}
	return &blob, nil
}

// ExportPhotosOptions controls a photo export.
type ExportPhotosOptions struct {
	All    bool // include all photos, not only the latest response per row
	Filter InstallationFilter
}

// ExportPhotos triggers a bulk photo export for a campaign and returns the
// resulting archive. The export builds server-side, so the call runs with
// ExportRequestTimeout instead of the standard request timeout.
func (c *Client) ExportPhotos(campaignID int, opts ExportPhotosOptions, ctx context.Context) (*Blob, error) {
	body, err := opts.Filter.payload()
	if err != nil {
		return nil, fmt.Errorf("poscore: build installation filter: %w", err)
	}

	var blob Blob
	err = c.fetch(func(token string) *requests.Builder {
		return c.api(fmt.Sprintf("/cm/campaigns/%d/installationprogresssummary/photos", campaignID), c.exportClient).
			Bearer(token).
			Param("all", strconv.FormatBool(opts.All)).
			Post().
			BodyBytes([]byte(body)).
			ContentType("application/json").
			Handle(blobHandler(&blob))
	}, ctx)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return nil, &NotFoundError{Resource: fmt.Sprintf("campaign %d", campaignID), Status: statusOf(err)}
		}
		return nil, fmt.Errorf("poscore: export photos for campaign %d: %w", campaignID, err)
	}
	return &blob, nil
}
