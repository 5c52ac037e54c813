package playstore

import (
	"fmt"
	"strings"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/historic"
)

const detailCollection = "gpc_detail"

// imagePrefix is the CDN host the store serves all artwork from.
// Compression strips it; readers re-prefix when they need absolute
// URLs.
const imagePrefix = "https://play-lh.googleusercontent.com"

// Detail is one observation of an app's store listing in one
// language. The (app_id, lang) pair identifies the document, so every
// translation of a listing versions independently.
type Detail struct {
	historic.History

	AppID string `json:"app_id"`
	Lang  string `json:"lang"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Summary     string `json:"summary,omitempty"`

	Installs     string  `json:"installs,omitempty"`
	RealInstalls int     `json:"real_installs,omitempty"`
	Score        float64 `json:"score,omitempty"`
	Ratings      int     `json:"ratings,omitempty"`
	Reviews      int     `json:"reviews,omitempty"`
	Histogram    []int   `json:"histogram,omitempty"`

	Price             float64        `json:"price,omitempty"`
	Free              bool           `json:"free,omitempty"`
	Currency          string         `json:"currency,omitempty"`
	Sale              bool           `json:"sale,omitempty"`
	SaleTime          core.EpochTime `json:"sale_time,omitzero"`
	OffersIAP         bool           `json:"offers_iap,omitempty"`
	InAppProductPrice string         `json:"in_app_product_price,omitempty"`

	Size               string `json:"size,omitempty"`
	AndroidVersion     string `json:"android_version,omitempty"`
	AndroidVersionText string `json:"android_version_text,omitempty"`

	DeveloperInternalID string `json:"developer_internal_id,omitempty"`
	Developer           string `json:"developer,omitempty"`
	DeveloperID         string `json:"developer_id,omitempty"`
	DeveloperEmail      string `json:"developer_email,omitempty"`
	DeveloperWebsite    string `json:"developer_website,omitempty"`
	DeveloperAddress    string `json:"developer_address,omitempty"`

	PrivacyPolicy string `json:"privacy_policy,omitempty"`
	Genre         string `json:"genre,omitempty"`
	GenreID       string `json:"genre_id,omitempty"`

	Icon        string   `json:"icon,omitempty"`
	HeaderImage string   `json:"header_image,omitempty"`
	Screenshots []string `json:"screenshots,omitempty"`
	Video       string   `json:"video,omitempty"`
	VideoImage  string   `json:"video_image,omitempty"`

	ContentRating            string `json:"content_rating,omitempty"`
	ContentRatingDescription string `json:"content_rating_description,omitempty"`
	AdSupported              bool   `json:"ad_supported,omitempty"`
	ContainsAds              bool   `json:"contains_ads,omitempty"`

	Released      string         `json:"released,omitempty"`
	Updated       core.EpochTime `json:"updated,omitzero"`
	Version       string         `json:"version,omitempty"`
	RecentChanges string         `json:"recent_changes,omitempty"`

	SimilarApps     []string         `json:"similar_apps,omitempty"`
	MoreByDeveloper []string         `json:"more_by_developer,omitempty"`
	OtherLanguages  []string         `json:"other_languages,omitempty"`
	DataSafetyShort []map[string]any `json:"data_safety_short,omitempty"`
}

// Key implements historic.Document.
func (d *Detail) Key() string { return d.AppID + ":" + d.Lang }

// Collection implements historic.Document.
func (d *Detail) Collection() string { return detailCollection }

// Weight implements historic.Document: the absolute install count, so
// allocators can bucket listings by reach.
func (d *Detail) Weight() int { return d.RealInstalls }

// WCFWeights implements historic.Document. Editorial fields and
// release metadata weigh high; counters that drift on nearly every
// observation weigh low.
func (d *Detail) WCFWeights() map[string]float64 {
	return map[string]float64{
		"title":                 10,
		"description":           10,
		"summary":               10,
		"installs":              10,
		"score":                 10,
		"ratings":               1,
		"reviews":               1,
		"price":                 5,
		"free":                  5,
		"currency":              1,
		"sale":                  10,
		"offers_iap":            10,
		"size":                  5,
		"developer_internal_id": 10,
		"privacy_policy":        5,
		"genre_id":              10,
		"content_rating":        10,
		"ad_supported":          10,
		"contains_ads":          10,
		"updated":               30,
		"version":               10,
		"recent_changes":        10,
		"data_safety_short":     10,
	}
}

// Compress shrinks the stored form: artwork URLs lose the shared CDN
// prefix, boilerplate data safety summaries carrying markup are
// dropped, and an HTML description is normalised to markdown.
func (d *Detail) Compress() {
	d.Icon = strings.TrimPrefix(d.Icon, imagePrefix)
	d.HeaderImage = strings.TrimPrefix(d.HeaderImage, imagePrefix)
	d.VideoImage = strings.TrimPrefix(d.VideoImage, imagePrefix)
	for i, screenshot := range d.Screenshots {
		d.Screenshots[i] = strings.TrimPrefix(screenshot, imagePrefix)
	}
	for _, entry := range d.DataSafetyShort {
		if summary, ok := entry["summary"].(string); ok && strings.Contains(summary, "</a>") {
			entry["summary"] = nil
		}
	}
	d.Description = normalizeDescription(d.Description)
}

// FromDetailResponse builds a Detail from one record of the detail
// request task. App id and language are required; free-text fields are
// escaped and the store's mixed timestamp formats are normalised to
// Unix seconds.
func FromDetailResponse(record map[string]any) (*Detail, error) {
	appID := stringOf(record["appId"])
	lang := stringOf(record["lang"])
	if appID == "" || lang == "" {
		return nil, fmt.Errorf("detail record without app id or language")
	}
	detail := &Detail{
		AppID: appID,
		Lang:  lang,

		Title:       escapeAny(record["title"]),
		Description: escapeAny(record["description"]),
		Summary:     escapeAny(record["summary"]),

		Installs:     stringOf(record["installs"]),
		RealInstalls: intOf(record["realInstalls"]),
		Score:        floatOf(record["score"]),
		Ratings:      intOf(record["ratings"]),
		Reviews:      intOf(record["reviews"]),
		Histogram:    intsOf(record["histogram"]),

		Price:             floatOf(record["price"]),
		Free:              boolOf(record["free"]),
		Currency:          stringOf(record["currency"]),
		Sale:              boolOf(record["sale"]),
		OffersIAP:         boolOf(record["offersIAP"]),
		InAppProductPrice: stringOf(record["inAppProductPrice"]),

		Size:               stringOf(record["size"]),
		AndroidVersion:     stringOf(record["androidVersion"]),
		AndroidVersionText: stringOf(record["androidVersionText"]),

		DeveloperInternalID: stringOf(record["developerInternalID"]),
		Developer:           escapeAny(record["developer"]),
		DeveloperID:         stringOf(record["developerId"]),
		DeveloperEmail:      escapeAny(record["developerEmail"]),
		DeveloperWebsite:    escapeAny(record["developerWebsite"]),
		DeveloperAddress:    escapeAny(record["developerAddress"]),

		PrivacyPolicy: escapeAny(record["privacyPolicy"]),
		Genre:         stringOf(record["genre"]),
		GenreID:       stringOf(record["genreId"]),

		Icon:        stringOf(record["icon"]),
		HeaderImage: stringOf(record["headerImage"]),
		Screenshots: stringsOf(record["screenshots"]),
		Video:       stringOf(record["video"]),
		VideoImage:  stringOf(record["videoImage"]),

		ContentRating:            stringOf(record["contentRating"]),
		ContentRatingDescription: stringOf(record["contentRatingDescription"]),
		AdSupported:              boolOf(record["adSupported"]),
		ContainsAds:              boolOf(record["containsAds"]),

		Released:      stringOf(record["released"]),
		Version:       stringOf(record["version"]),
		RecentChanges: escapeAny(record["recentChanges"]),

		SimilarApps:     stringsOf(record["similarApps"]),
		MoreByDeveloper: stringsOf(record["moreByDeveloper"]),
		OtherLanguages:  stringsOf(record["otherLanguages"]),
		DataSafetyShort: mapsOf(record["dataSafety"]),
	}
	if ts, ok := parseEpoch(record["saleTime"]); ok {
		detail.SaleTime = ts
	}
	if ts, ok := parseEpoch(record["updated"]); ok {
		detail.Updated = ts
	}
	return detail, nil
}
