package playstore

import (
	"github.com/c360studio/trawler/historic"
	"github.com/c360studio/trawler/pipeline"
)

// Document type names the request tasks stamp into their records and
// series configure on their data storage stages.
const (
	DocumentTypeDetail     = "DETAIL"
	DocumentTypePermission = "PERMISSION"
	DocumentTypeReview     = "REVIEW"
	DocumentTypeDataSafety = "DATA_SAFETY"
)

// compressible is a document that can shrink its stored form.
type compressible interface {
	historic.Document
	Compress()
}

// builder adapts a typed document constructor into a registry builder
// that compresses before handing the document to the saver.
func builder[D compressible](from func(map[string]any) (D, error)) pipeline.DocumentBuilder {
	return func(record map[string]any) (historic.Document, error) {
		doc, err := from(record)
		if err != nil {
			return nil, err
		}
		doc.Compress()
		return doc, nil
	}
}

// RegisterDocuments binds the Play Store document builders to the
// factory registry of the data storage pipeline.
func RegisterDocuments(registry *pipeline.FactoryRegistry) {
	registry.Register(DocumentTypeDetail, builder(FromDetailResponse))
	registry.Register(DocumentTypeReview, builder(FromReviewResponse))
	registry.Register(DocumentTypePermission, builder(FromPermissionResponse))
	registry.Register(DocumentTypeDataSafety, builder(FromDataSafetyResponse))
}
