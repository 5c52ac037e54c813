package playstore

import (
	"fmt"

	"github.com/c360studio/trawler/historic"
)

const dataSafetyCollection = "gpc_data_safety"

// DataSafety is the data safety declaration of an app in one
// language: what the app collects, what it shares and which security
// practices the developer claims.
type DataSafety struct {
	historic.History

	AppID             string           `json:"app_id"`
	Lang              string           `json:"lang"`
	DataCollected     map[string]any   `json:"data_collected,omitempty"`
	DataShared        map[string]any   `json:"data_shared,omitempty"`
	SecurityPractices []map[string]any `json:"security_practices,omitempty"`
}

// Key implements historic.Document.
func (d *DataSafety) Key() string { return d.AppID + ":" + d.Lang }

// Collection implements historic.Document.
func (d *DataSafety) Collection() string { return dataSafetyCollection }

// Weight implements historic.Document.
func (d *DataSafety) Weight() int { return 1 }

// WCFWeights implements historic.Document: every declared section
// counts the same.
func (d *DataSafety) WCFWeights() map[string]float64 {
	return map[string]float64{
		"data_collected":     1,
		"data_shared":        1,
		"security_practices": 1,
	}
}

// Compress implements the document surface; the declaration is stored
// as is.
func (d *DataSafety) Compress() {}

// FromDataSafetyResponse builds a DataSafety from one record of the
// data safety request task.
func FromDataSafetyResponse(record map[string]any) (*DataSafety, error) {
	appID := stringOf(record["app_id"])
	lang := stringOf(record["lang"])
	if appID == "" || lang == "" {
		return nil, fmt.Errorf("data safety record without app id or language")
	}
	return &DataSafety{
		AppID:             appID,
		Lang:              lang,
		DataCollected:     mapOf(record["dataCollected"]),
		DataShared:        mapOf(record["dataShared"]),
		SecurityPractices: mapsOf(record["securityPractices"]),
	}, nil
}
