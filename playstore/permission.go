package playstore

import (
	"fmt"

	"github.com/c360studio/trawler/historic"
)

const permissionCollection = "gps_permission"

// Permission is the permission inventory of an app in one language.
// The store removed permissions from the web listing in 2021; they
// remain reachable through the internal RPC only, so the content is
// kept as the loosely grouped document that RPC answers.
type Permission struct {
	historic.History

	AppID   string         `json:"app_id"`
	Lang    string         `json:"lang"`
	Content map[string]any `json:"content,omitempty"`
}

// Key implements historic.Document.
func (p *Permission) Key() string { return p.AppID + ":" + p.Lang }

// Collection implements historic.Document.
func (p *Permission) Collection() string { return permissionCollection }

// Weight implements historic.Document. Permission pages carry no
// popularity signal of their own.
func (p *Permission) Weight() int { return 1 }

// WCFWeights implements historic.Document.
func (p *Permission) WCFWeights() map[string]float64 {
	return map[string]float64{"content": 1}
}

// Compress implements the document surface; the inventory is already
// minimal.
func (p *Permission) Compress() {}

// FromPermissionResponse builds a Permission from one record of the
// permission request task. Everything beyond the identifying fields
// and the routing key becomes the content document; nil values are
// dropped.
func FromPermissionResponse(record map[string]any) (*Permission, error) {
	appID := stringOf(record["app_id"])
	lang := stringOf(record["lang"])
	if appID == "" || lang == "" {
		return nil, fmt.Errorf("permission record without app id or language")
	}
	content := make(map[string]any, len(record))
	for key, value := range record {
		switch key {
		case "app_id", "lang", "document_type":
			continue
		}
		if value == nil {
			continue
		}
		content[key] = value
	}
	if len(content) == 0 {
		content = nil
	}
	return &Permission{AppID: appID, Lang: lang, Content: content}, nil
}
