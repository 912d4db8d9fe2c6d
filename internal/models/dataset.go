package models

import (
	"fmt"
	"strings"
	"time"
)

// Item is one labeling unit inside a dataset.
type Item struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// Dataset is an immutable, ordered collection of items owned by its creator.
type Dataset struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Items     []Item    `json:"items,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (d *Dataset) GetID() int64            { return d.ID }
func (d *Dataset) GetCreatedAt() time.Time { return d.CreatedAt }

// Validate checks the dataset name and owner.
func (d *Dataset) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("dataset name is required")
	}
	if len(d.Name) > 200 {
		return fmt.Errorf("dataset name exceeds 200 characters")
	}
	if strings.TrimSpace(d.CreatedBy) == "" {
		return fmt.Errorf("dataset owner is required")
	}
	return nil
}

// DemoItems builds n placeholder items numbered from 1.
func DemoItems(n int) []Item {
	items := make([]Item, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, Item{ID: int64(i), Text: fmt.Sprintf("demo text %d", i)})
	}
	return items
}
