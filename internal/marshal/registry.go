package marshal

import (
	"fmt"
	"sort"
)

// Registry maps comIds to datasets and dataset ids to schemas. It is
// built once and read-only afterwards, so lookups need no locking.
// Both tables are kept sorted for O(log n) lookup.
type Registry struct {
	datasets []*Dataset
	comIDs   []ComIDMapping
}

// NewRegistry builds a registry from the given datasets and comId
// mappings. The inputs are copied and sorted; duplicate ids or comIds
// are rejected.
func NewRegistry(datasets []*Dataset, mappings []ComIDMapping) (*Registry, error) {
	r := &Registry{
		datasets: make([]*Dataset, len(datasets)),
		comIDs:   make([]ComIDMapping, len(mappings)),
	}
	copy(r.datasets, datasets)
	copy(r.comIDs, mappings)

	sort.Slice(r.datasets, func(i, j int) bool { return r.datasets[i].ID < r.datasets[j].ID })
	sort.Slice(r.comIDs, func(i, j int) bool { return r.comIDs[i].ComID < r.comIDs[j].ComID })

	for i := 1; i < len(r.datasets); i++ {
		if r.datasets[i].ID == r.datasets[i-1].ID {
			return nil, fmt.Errorf("%w: duplicate dataset id %d", ErrParam, r.datasets[i].ID)
		}
	}
	for i := 1; i < len(r.comIDs); i++ {
		if r.comIDs[i].ComID == r.comIDs[i-1].ComID {
			return nil, fmt.Errorf("%w: duplicate comId %d", ErrParam, r.comIDs[i].ComID)
		}
	}

	// Every mapping and every dataset reference must resolve.
	for _, m := range r.comIDs {
		if _, err := r.Dataset(m.DatasetID); err != nil {
			return nil, fmt.Errorf("%w: comId %d references dataset %d", ErrDataset, m.ComID, m.DatasetID)
		}
	}
	for _, ds := range r.datasets {
		for _, el := range ds.Elements {
			if el.Type.IsPrimitive() {
				continue
			}
			if _, err := r.Dataset(uint32(el.Type)); err != nil {
				return nil, fmt.Errorf("%w: dataset %d references dataset %d", ErrDataset, ds.ID, el.Type)
			}
		}
	}
	return r, nil
}

// Dataset returns the schema registered under id.
func (r *Registry) Dataset(id uint32) (*Dataset, error) {
	i := sort.Search(len(r.datasets), func(i int) bool { return r.datasets[i].ID >= id })
	if i < len(r.datasets) && r.datasets[i].ID == id {
		return r.datasets[i], nil
	}
	return nil, fmt.Errorf("%w: id %d", ErrDataset, id)
}

// Lookup resolves a comId to its dataset.
func (r *Registry) Lookup(comID uint32) (*Dataset, error) {
	i := sort.Search(len(r.comIDs), func(i int) bool { return r.comIDs[i].ComID >= comID })
	if i < len(r.comIDs) && r.comIDs[i].ComID == comID {
		return r.datasets[sort.Search(len(r.datasets), func(j int) bool {
			return r.datasets[j].ID >= r.comIDs[i].DatasetID
		})], nil
	}
	return nil, fmt.Errorf("%w: %d", ErrComID, comID)
}
