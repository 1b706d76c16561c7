// Package binalloc picks a storage bin for a unit entering stock.
package binalloc

import (
	"context"
	"fmt"

	"github.com/buildtall-systems/denimtrack/internal/apperr"
	"github.com/buildtall-systems/denimtrack/internal/model"
	"github.com/buildtall-systems/denimtrack/internal/sku"
	"github.com/buildtall-systems/denimtrack/internal/store"
)

// Candidate is a bin together with the SKUs it currently holds.
type Candidate struct {
	Bin  model.Bin
	SKUs []sku.SKU
}

func (c Candidate) holds(s sku.SKU) bool {
	for _, held := range c.SKUs {
		if held == s {
			return true
		}
	}
	return false
}

// SelectStorageBin applies, in order: a non-full bin already holding the
// SKU, an empty bin, the bin with the most free space. Ties go to the
// earliest created bin. Selection never reserves capacity.
func SelectStorageBin(unitSKU sku.SKU, candidates []Candidate) (Candidate, error) {
	var empty, roomiest *Candidate

	for i := range candidates {
		c := &candidates[i]
		if c.Bin.Type != model.BinStorage || !c.Bin.Active || c.Bin.Free() <= 0 {
			continue
		}
		if c.holds(unitSKU) {
			return *c, nil
		}
		if c.Bin.CurrentCount == 0 && (empty == nil || earlier(c.Bin, empty.Bin)) {
			empty = c
		}
		if roomiest == nil || c.Bin.Free() > roomiest.Bin.Free() ||
			(c.Bin.Free() == roomiest.Bin.Free() && earlier(c.Bin, roomiest.Bin)) {
			roomiest = c
		}
	}

	if empty != nil {
		return *empty, nil
	}
	if roomiest != nil {
		return *roomiest, nil
	}
	return Candidate{}, apperr.New(apperr.NoCapacity, "no active storage bin has room for %s", unitSKU)
}

func earlier(a, b model.Bin) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// BinSource is the part of the store the allocator reads.
type BinSource interface {
	ListBins(ctx context.Context, f store.BinFilter) ([]model.Bin, error)
	BinSKUs(ctx context.Context) (map[int64][]sku.SKU, error)
}

// LoadCandidates reads every active storage bin with its contents.
func LoadCandidates(ctx context.Context, src BinSource) ([]Candidate, error) {
	bins, err := src.ListBins(ctx, store.BinFilter{Type: model.BinStorage, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("listing storage bins: %w", err)
	}
	contents, err := src.BinSKUs(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading bin contents: %w", err)
	}

	candidates := make([]Candidate, 0, len(bins))
	for _, b := range bins {
		candidates = append(candidates, Candidate{Bin: b, SKUs: contents[b.ID]})
	}
	return candidates, nil
}

// Select loads the candidates from src and picks a bin for unitSKU.
func Select(ctx context.Context, src BinSource, unitSKU sku.SKU) (*model.Bin, error) {
	candidates, err := LoadCandidates(ctx, src)
	if err != nil {
		return nil, err
	}
	c, err := SelectStorageBin(unitSKU, candidates)
	if err != nil {
		return nil, err
	}
	return &c.Bin, nil
}
