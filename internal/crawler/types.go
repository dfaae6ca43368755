package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Record is one vacancy notice ready to be persisted.
type Record struct {
	ID           int64     `json:"id,omitempty"`
	SchoolName   string    `json:"school_name"`
	Address      string    `json:"address,omitempty"`
	City         string    `json:"city,omitempty"`
	Region       string    `json:"region"`
	EndDate      string    `json:"end_date,omitempty"`
	ClassCode    string    `json:"class_code,omitempty"`
	WeeklyHours  *int      `json:"weekly_hours,omitempty"`
	PositionType string    `json:"position_type,omitempty"`
	SourceURL    string    `json:"source_url"`
	InsertedAt   time.Time `json:"inserted_at,omitempty"`
}

// Key returns the uniqueness triple used to detect duplicates.
func (r Record) Key() string {
	return r.SchoolName + "\x00" + r.ClassCode + "\x00" + r.EndDate
}

// Valid reports whether the record carries every required attribute.
func (r Record) Valid() bool {
	return r.SchoolName != "" && r.Region != "" && r.SourceURL != ""
}

// FieldSet is the raw field object returned by the extraction backend.
type FieldSet struct {
	SchoolName   string `json:"nome_scuola"`
	Address      string `json:"indirizzo"`
	City         string `json:"citta"`
	EndDate      string `json:"data_fine_incarico"`
	ClassCode    string `json:"classe_di_concorso"`
	WeeklyHours  *int   `json:"numero_di_ore"`
	PositionType string `json:"tipo_cattedra"`
}

var leadingDigits = regexp.MustCompile(`\d+`)

// UnmarshalJSON accepts the hours field as a number, a numeric string, a
// string with trailing text ("18 ore") or null.
func (f *FieldSet) UnmarshalJSON(data []byte) error {
	type plain FieldSet
	var raw struct {
		plain
		WeeklyHours json.RawMessage `json:"numero_di_ore"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode field set: %w", err)
	}
	*f = FieldSet(raw.plain)
	f.WeeklyHours = parseHours(raw.WeeklyHours)
	return nil
}

func parseHours(raw json.RawMessage) *int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		hours := int(number)
		return &hours
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil
	}
	digits := leadingDigits.FindString(text)
	if digits == "" {
		return nil
	}
	hours, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &hours
}

// Record tags the field set with its region and source document.
func (f FieldSet) Record(region, sourceURL string) Record {
	return Record{
		SchoolName:   strings.TrimSpace(f.SchoolName),
		Address:      strings.TrimSpace(f.Address),
		City:         strings.TrimSpace(f.City),
		Region:       region,
		EndDate:      strings.TrimSpace(f.EndDate),
		ClassCode:    strings.TrimSpace(f.ClassCode),
		WeeklyHours:  f.WeeklyHours,
		PositionType: strings.TrimSpace(f.PositionType),
		SourceURL:    sourceURL,
	}
}

// Region pairs a region name with its listing base URL.
type Region struct {
	Name string `mapstructure:"name" json:"name"`
	URL  string `mapstructure:"url" json:"url"`
}

// PageTask is one listing page to scan during discovery.
type PageTask struct {
	Region string
	Page   int
	URL    string
}

// PageURL returns the listing URL for the given page index. Page 1 is the
// base URL itself.
func PageURL(base string, page int) string {
	if page <= 1 {
		return base
	}
	return fmt.Sprintf("%s/page/%d/", strings.TrimRight(base, "/"), page)
}

// PageResult is what a discovery unit contributes.
type PageResult struct {
	Task     PageTask
	Articles []ArticleTask
	// NotFound marks a listing page that does not exist; no later page of the
	// same region is considered.
	NotFound bool
}

// ArticleTask is one notice page to process.
type ArticleTask struct {
	URL    string
	Region string
}

// Analysis is the backend verdict on one article page. Inline is populated
// only when every link list is empty.
type Analysis struct {
	Direct []string
	Cloud  []string
	Portal []string
	Inline []FieldSet
}

// HasLinks reports whether any followable link was found.
func (a Analysis) HasLinks() bool {
	return len(a.Direct) > 0 || len(a.Cloud) > 0 || len(a.Portal) > 0
}

// DocumentKind selects the download strategy for a document link.
type DocumentKind string

// Supported document kinds.
const (
	DocumentDirect     DocumentKind = "direct"
	DocumentCloudDrive DocumentKind = "cloud_drive"
)

// Filter narrows a record query. Exactly one field must be set.
type Filter struct {
	ClassCode string
	MinHours  *int
}

// Validate enforces that the filter uses exactly one criterion.
func (f Filter) Validate() error {
	hasClass := strings.TrimSpace(f.ClassCode) != ""
	hasHours := f.MinHours != nil
	if hasClass == hasHours {
		return ErrInvalidFilter
	}
	return nil
}
