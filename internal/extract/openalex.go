package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/merge"
)

// ErrMalformed marks a body that could not be decoded.
var ErrMalformed = errors.New("malformed response")

// Page is one page of the authoritative listing.
type Page struct {
	NextCursor string
	Count      int64
	Items      []Item
}

// Item is one journal discovered on a page.
type Item struct {
	ID            string
	Raw           json.RawMessage
	Authoritative merge.Authoritative
	Aliases       []journal.IssnAlias
}

type openAlexPage struct {
	Meta struct {
		Count      int64   `json:"count"`
		NextCursor *string `json:"next_cursor"`
	} `json:"meta"`
	Results []json.RawMessage `json:"results"`
}

type openAlexSource struct {
	ID                   string   `json:"id"`
	DisplayName          string   `json:"display_name"`
	ISSNL                *string  `json:"issn_l"`
	ISSN                 []string `json:"issn"`
	HostOrganizationName *string  `json:"host_organization_name"`
	CountryCode          *string  `json:"country_code"`
	HomepageURL          *string  `json:"homepage_url"`
	IsOA                 *bool    `json:"is_oa"`
	WorksCount           int64    `json:"works_count"`
	Topics               []struct {
		DisplayName string `json:"display_name"`
	} `json:"topics"`
	XConcepts []struct {
		DisplayName string `json:"display_name"`
	} `json:"x_concepts"`
}

// OpenAlexPage decodes a cursor-paginated listing. Items without an id are
// skipped.
func OpenAlexPage(body []byte) (Page, error) {
	var raw openAlexPage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Page{}, fmt.Errorf("%w: openalex page: %v", ErrMalformed, err)
	}
	page := Page{Count: raw.Meta.Count}
	if raw.Meta.NextCursor != nil {
		page.NextCursor = *raw.Meta.NextCursor
	}
	for _, result := range raw.Results {
		auth, aliases, err := decodeSource(result)
		if err != nil || auth.ID == "" {
			continue
		}
		page.Items = append(page.Items, Item{
			ID:            auth.ID,
			Raw:           append(json.RawMessage(nil), result...),
			Authoritative: auth,
			Aliases:       aliases,
		})
	}
	return page, nil
}

// OpenAlexSource decodes a single authoritative record.
func OpenAlexSource(body []byte) (merge.Authoritative, error) {
	auth, _, err := decodeSource(body)
	return auth, err
}

// OpenAlexAliases returns the ISSN aliases asserted by a single record.
func OpenAlexAliases(body []byte) ([]journal.IssnAlias, error) {
	_, aliases, err := decodeSource(body)
	return aliases, err
}

// ShortID strips the OpenAlex URL prefix from an entity id.
func ShortID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	return id
}

func decodeSource(body []byte) (merge.Authoritative, []journal.IssnAlias, error) {
	var src openAlexSource
	if err := json.Unmarshal(body, &src); err != nil {
		return merge.Authoritative{}, nil, fmt.Errorf("%w: openalex source: %v", ErrMalformed, err)
	}
	auth := merge.Authoritative{
		ID:          ShortID(src.ID),
		DisplayName: strings.TrimSpace(src.DisplayName),
		Publisher:   deref(src.HostOrganizationName),
		CountryCode: deref(src.CountryCode),
		Homepage:    deref(src.HomepageURL),
		IsOA:        src.IsOA,
		WorksCount:  src.WorksCount,
	}
	for _, topic := range src.Topics {
		auth.Subjects = append(auth.Subjects, topic.DisplayName)
	}
	if len(auth.Subjects) == 0 {
		for _, concept := range src.XConcepts {
			auth.Subjects = append(auth.Subjects, concept.DisplayName)
		}
	}

	var aliases []journal.IssnAlias
	seen := make(map[string]struct{})
	add := func(raw string, kind journal.AliasKind) {
		issn, err := journal.NormalizeISSN(raw)
		if err != nil {
			return
		}
		if _, ok := seen[issn]; ok {
			return
		}
		seen[issn] = struct{}{}
		aliases = append(aliases, journal.IssnAlias{
			ISSN:      issn,
			JournalID: auth.ID,
			Kind:      kind,
			Source:    journal.SourceOpenAlex,
		})
		auth.ISSNs = append(auth.ISSNs, issn)
	}
	if src.ISSNL != nil {
		add(*src.ISSNL, journal.AliasLinking)
		auth.ISSNL, _ = journal.NormalizeISSN(*src.ISSNL)
	}
	for _, issn := range src.ISSN {
		add(issn, journal.AliasUnknown)
	}
	return auth, aliases, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
