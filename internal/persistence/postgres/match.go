package postgres

import (
	"fmt"

	"example.com/setlog/internal/domain"
)

// insertedSet is one row captured from the set insert's RETURNING clause.
type insertedSet struct {
	ID        string
	SetNumber int
}

// setIDsByNumber maps each submitted set to its store-generated identifier,
// keyed by set number. The returned rows may arrive in any order, so matching
// by input position would silently attach form parameters to the wrong set.
func setIDsByNumber(inserted []insertedSet, sets []domain.SetRecord) (map[int]string, error) {
	if len(inserted) != len(sets) {
		return nil, fmt.Errorf("set insert returned %d rows, expected %d", len(inserted), len(sets))
	}

	ids := make(map[int]string, len(inserted))
	for _, row := range inserted {
		if _, dup := ids[row.SetNumber]; dup {
			return nil, fmt.Errorf("set insert returned duplicate set number %d", row.SetNumber)
		}
		ids[row.SetNumber] = row.ID
	}

	for _, set := range sets {
		if _, ok := ids[set.SetNumber]; !ok {
			return nil, fmt.Errorf("set insert returned no row for set number %d", set.SetNumber)
		}
	}
	return ids, nil
}
