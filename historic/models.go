package historic

import (
	"strings"
	"time"
)

// CFMMaxAge caps the observation gap the continuous freshness model
// scales against.
const CFMMaxAge = 356 * 24 * time.Hour

// ModelInput carries everything a freshness model may consult after a
// save. Patch is nil when the observation saw no change, Witnesses
// include the observation just recorded.
type ModelInput struct {
	NewDocument     bool
	ChangesObserved int
	Patch           *Patch
	Witnesses       []Witness
	WCFWeights      map[string]float64
}

// Model scores one observation of a document.
type Model func(in ModelInput) float64

// BFM is the binary freshness model: 1 when the document is new or
// changed, 0 otherwise.
func BFM(in ModelInput) float64 {
	if in.NewDocument {
		return 1
	}
	if in.ChangesObserved == 0 {
		return 0
	}
	return 1
}

// CFM is the continuous freshness model: 1 when new, 0 when
// unchanged, otherwise the gap between the last two witnesses scaled
// against CFMMaxAge and capped at 1.
func CFM(in ModelInput) float64 {
	if in.NewDocument {
		return 1
	}
	if in.Patch == nil {
		return 0
	}
	if len(in.Witnesses) < 2 {
		return 0
	}
	latest := in.Witnesses[len(in.Witnesses)-1].Timestamp
	previous := in.Witnesses[len(in.Witnesses)-2].Timestamp
	age := latest.Sub(previous.Time)
	return min(age.Seconds()/CFMMaxAge.Seconds(), 1)
}

// WCF is the weighted change frequency model: 1 when new, 0 when
// unchanged, otherwise the weight share of the declared fields that
// have at least one change under their path.
func WCF(in ModelInput) float64 {
	if in.NewDocument {
		return 1
	}
	if in.Patch == nil {
		return 0
	}
	ops, err := in.Patch.Operations()
	if err != nil {
		return 0
	}
	var total float64
	for _, weight := range in.WCFWeights {
		total += weight
	}
	if total == 0 {
		return 0
	}
	var wcf float64
	for key, weight := range in.WCFWeights {
		for _, op := range ops {
			if strings.HasPrefix(op.Path, "/"+key) {
				wcf += weight / total
				break
			}
		}
	}
	return wcf
}

// DefaultModels returns the model set applied on every save. WCF is
// available but joins only when a deployment registers it.
func DefaultModels() map[string]Model {
	return map[string]Model{
		"bfm": BFM,
		"cfm": CFM,
	}
}
