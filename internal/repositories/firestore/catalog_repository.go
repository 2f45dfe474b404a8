package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hangerworks/api/internal/domain"
	pfirestore "github.com/hangerworks/api/internal/platform/firestore"
)

const (
	materialsCollection = "materials"
	productsCollection  = "products"
)

// CatalogRepository reads material and product reference data. The workflow
// only consumes the catalog; maintenance happens elsewhere.
type CatalogRepository struct {
	materials *pfirestore.BaseRepository[materialDocument]
	products  *pfirestore.BaseRepository[productDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository: firestore provider is required")
	}
	return &CatalogRepository{
		materials: pfirestore.NewBaseRepository[materialDocument](provider, materialsCollection, nil, nil),
		products:  pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
	}, nil
}

// ListMaterials returns available materials ordered by name.
func (r *CatalogRepository) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	if r == nil || r.materials == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	docs, err := r.materials.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("isAvailable", "==", true).OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	materials := make([]domain.Material, 0, len(docs))
	for _, doc := range docs {
		materials = append(materials, domain.Material{
			ID:          doc.ID,
			Name:        strings.TrimSpace(doc.Data.Name),
			UnitPriceKg: doc.Data.UnitPriceKg,
			IsAvailable: doc.Data.IsAvailable,
			CreatedAt:   chooseTime(doc.Data.CreatedAt, doc.CreateTime),
			UpdatedAt:   chooseTime(doc.Data.UpdatedAt, doc.UpdateTime),
		})
	}
	return materials, nil
}

// ListProducts returns published products ordered by name.
func (r *CatalogRepository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("isPublished", "==", true).OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, domain.Product{
			ID:          doc.ID,
			Name:        strings.TrimSpace(doc.Data.Name),
			Description: strings.TrimSpace(doc.Data.Description),
			WeightKg:    doc.Data.WeightKg,
			BasePrice:   doc.Data.BasePrice,
			IsPublished: doc.Data.IsPublished,
			CreatedAt:   chooseTime(doc.Data.CreatedAt, doc.CreateTime),
			UpdatedAt:   chooseTime(doc.Data.UpdatedAt, doc.UpdateTime),
		})
	}
	return products, nil
}

type materialDocument struct {
	Name        string    `firestore:"name"`
	UnitPriceKg float64   `firestore:"unitPriceKg"`
	IsAvailable bool      `firestore:"isAvailable"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

type productDocument struct {
	Name        string    `firestore:"name"`
	Description string    `firestore:"description,omitempty"`
	WeightKg    float64   `firestore:"weightKg"`
	BasePrice   float64   `firestore:"basePrice"`
	IsPublished bool      `firestore:"isPublished"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}
