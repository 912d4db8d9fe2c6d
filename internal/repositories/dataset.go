package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/desertthunder/lsync/internal/models"
	"github.com/desertthunder/lsync/internal/shared"
)

var _ models.Repository[*models.Dataset] = (*DatasetRepository)(nil)

// itemsEnvelope is the stored shape of a dataset's item list.
type itemsEnvelope struct {
	Items []models.Item `json:"items"`
}

// DatasetRepository implements [models.Repository] for [models.Dataset].
type DatasetRepository struct {
	base
}

// NewDatasetRepository creates a new dataset repository
func NewDatasetRepository(db *sql.DB) *DatasetRepository {
	return &DatasetRepository{base: newBase(db)}
}

var datasetColumns = []string{"id", "name", "items_json", "created_by", "created_at"}

// Create inserts a new dataset and sets its ID.
func (r *DatasetRepository) Create(ctx context.Context, d *models.Dataset) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	items := d.Items
	if items == nil {
		items = []models.Item{}
	}
	payload, err := json.Marshal(itemsEnvelope{Items: items})
	if err != nil {
		return fmt.Errorf("failed to encode dataset items: %w", err)
	}

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	id, err := r.insert(ctx, r.db, r.sq.Insert("datasets").
		Columns("name", "items_json", "created_by", "created_at").
		Values(d.Name, string(payload), d.CreatedBy, d.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	d.ID = id
	return nil
}

// Get retrieves a dataset with its items by ID.
func (r *DatasetRepository) Get(ctx context.Context, id int64) (*models.Dataset, error) {
	row := r.queryRow(ctx, r.db, r.sq.Select(datasetColumns...).From("datasets").Where(sq.Eq{"id": id}))
	d, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", shared.ErrDatasetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return d, nil
}

// List retrieves datasets newest first. Items are omitted.
func (r *DatasetRepository) List(ctx context.Context, filter models.Filter) ([]*models.Dataset, error) {
	q := r.sq.Select(datasetColumns...).From("datasets").OrderBy("id DESC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	rows, err := r.query(ctx, r.db, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []*models.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		d.Items = nil
		datasets = append(datasets, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return datasets, nil
}

func scanDataset(row scanner) (*models.Dataset, error) {
	var (
		d         models.Dataset
		itemsJSON string
	)
	if err := row.Scan(&d.ID, &d.Name, &itemsJSON, &d.CreatedBy, &d.CreatedAt); err != nil {
		return nil, err
	}

	var env itemsEnvelope
	if itemsJSON != "" {
		if err := json.Unmarshal([]byte(itemsJSON), &env); err != nil {
			return nil, fmt.Errorf("failed to decode dataset items: %w", err)
		}
	}
	d.Items = env.Items
	if d.Items == nil {
		d.Items = []models.Item{}
	}
	return &d, nil
}
