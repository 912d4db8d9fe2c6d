// package models defines the ledger entities for the dataset labeling sync service
package models

import (
	"context"
	"time"
)

// Model defines the base interface for all persistent models in the ledger.
type Model interface {
	GetID() int64            // GetID returns the row identifier, zero before insert
	GetCreatedAt() time.Time // GetCreatedAt returns when this model was created
	Validate() error         // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the common data access operations shared by ledger repositories.
type Repository[T Model] interface {
	Create(ctx context.Context, model T) error            // Create inserts a new model and sets its ID
	Get(ctx context.Context, id int64) (T, error)         // Get retrieves a model by its ID
	List(ctx context.Context, filter Filter) ([]T, error) // List retrieves models matching the filter
}

// Filter narrows List queries. Zero values are ignored.
type Filter struct {
	DatasetID  int64
	Status     string
	Kind       string
	AssignedTo string
	Limit      int
}
