package playstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/historic"
)

const reviewCollection = "gps_review"

// trivialUserNames are the store's anonymous reviewer placeholders in
// the languages we crawl. They carry no signal and are dropped on
// compression.
var trivialUserNames = []string{
	"Ein Google-Nutzer",
	"A Google user",
	"Un usuario de Google",
	"Un utilisateur de Google",
}

// Review is one user review of an app. Reviews key on the store's
// review id; developer replies and edits version in place.
type Review struct {
	historic.History

	ReviewID string `json:"review_id"`
	AppID    string `json:"app_id,omitempty"`
	Lang     string `json:"lang,omitempty"`

	At                   core.EpochTime `json:"at,omitzero"`
	Content              string         `json:"content,omitempty"`
	ReviewCreatedVersion string         `json:"review_created_version,omitempty"`
	Score                float64        `json:"score,omitempty"`
	ThumbsUpCount        int            `json:"thumbs_up_count,omitempty"`

	RepliedAt    core.EpochTime `json:"replied_at,omitzero"`
	ReplyContent string         `json:"reply_content,omitempty"`

	UserImage string `json:"user_image,omitempty"`
	UserName  string `json:"user_name,omitempty"`
}

// Key implements historic.Document.
func (r *Review) Key() string { return r.ReviewID }

// Collection implements historic.Document.
func (r *Review) Collection() string { return reviewCollection }

// Weight implements historic.Document: reviews matter as much as the
// community endorses them.
func (r *Review) Weight() int { return r.ThumbsUpCount }

// WCFWeights implements historic.Document. A developer reply is the
// rarest and most telling change a review sees.
func (r *Review) WCFWeights() map[string]float64 {
	return map[string]float64{
		"at":              1,
		"content":         5,
		"replied_at":      25,
		"reply_content":   25,
		"score":           10,
		"thumbs_up_count": 10,
	}
}

// Compress shrinks the stored form: the store's long review ids fold
// to their SHA-256, the avatar URL loses the CDN prefix and
// placeholder reviewer names are dropped. The id fold is skipped when
// the id already is a digest, so compressing twice keeps the key
// stable.
func (r *Review) Compress() {
	if r.ReviewID != "" && !isHexDigest(r.ReviewID) {
		sum := sha256.Sum256([]byte(r.ReviewID))
		r.ReviewID = hex.EncodeToString(sum[:])
	}
	r.UserImage = strings.TrimPrefix(r.UserImage, imagePrefix)
	for _, trivial := range trivialUserNames {
		if r.UserName == trivial {
			r.UserName = ""
			break
		}
	}
}

// isHexDigest reports whether s already is a lowercase hex SHA-256.
func isHexDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// FromReviewResponse builds a Review from one record of the reviews
// request task.
func FromReviewResponse(record map[string]any) (*Review, error) {
	reviewID := stringOf(record["reviewId"])
	if reviewID == "" {
		return nil, fmt.Errorf("review record without review id")
	}
	review := &Review{
		ReviewID:             reviewID,
		AppID:                stringOf(record["app_id"]),
		Lang:                 stringOf(record["lang"]),
		Content:              escapeAny(record["content"]),
		ReviewCreatedVersion: stringOf(record["reviewCreatedVersion"]),
		Score:                floatOf(record["score"]),
		ThumbsUpCount:        intOf(record["thumbsUpCount"]),
		ReplyContent:         escapeAny(record["replyContent"]),
		UserImage:            stringOf(record["userImage"]),
		UserName:             escapeAny(record["userName"]),
	}
	if ts, ok := parseEpoch(record["at"]); ok {
		review.At = ts
	}
	if ts, ok := parseEpoch(record["repliedAt"]); ok {
		review.RepliedAt = ts
	}
	return review, nil
}
