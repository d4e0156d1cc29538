// --- File: internal/storage/firestore/variantstore.go ---
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
)

// DefaultCollection holds one document per variant, keyed by variant ID.
const DefaultCollection = "variants"

// VariantStore implements dispatch.VariantStore using Google Cloud Firestore.
type VariantStore struct {
	client     *firestore.Client
	collection string
}

func NewVariantStore(client *firestore.Client, collection string) *VariantStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &VariantStore{client: client, collection: collection}
}

// variantRecord is the stored representation. The ID lives in the document path.
type variantRecord struct {
	Certificate []byte    `firestore:"certificate"`
	Passphrase  string    `firestore:"passphrase"`
	Production  bool      `firestore:"production"`
	UpdatedAt   time.Time `firestore:"updated_at"`
}

func (s *VariantStore) Fetch(ctx context.Context, variantID string) (*dispatch.Variant, error) {
	doc, err := s.variantRef(variantID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", dispatch.ErrVariantNotFound, variantID)
		}
		return nil, fmt.Errorf("failed to read variant %s: %w", variantID, err)
	}

	var record variantRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("failed to decode variant %s: %w", variantID, err)
	}

	return &dispatch.Variant{
		ID:          variantID,
		Certificate: record.Certificate,
		Passphrase:  record.Passphrase,
		Production:  record.Production,
	}, nil
}

// Save creates or replaces the variant's credentials.
func (s *VariantStore) Save(ctx context.Context, variant dispatch.Variant) error {
	if variant.ID == "" {
		return fmt.Errorf("variant id is required")
	}
	record := variantRecord{
		Certificate: variant.Certificate,
		Passphrase:  variant.Passphrase,
		Production:  variant.Production,
		UpdatedAt:   time.Now(),
	}
	_, err := s.variantRef(variant.ID).Set(ctx, record)
	return err
}

func (s *VariantStore) Delete(ctx context.Context, variantID string) error {
	_, err := s.variantRef(variantID).Delete(ctx)
	return err
}

// variantRef: variants/{variantID}
func (s *VariantStore) variantRef(variantID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(variantID)
}
