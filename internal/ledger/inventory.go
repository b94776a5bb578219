package ledger

import (
	"fmt"
	"sort"
)

type SeasonID int64

// UnassignedSeason is the legacy bucket for crates granted before seasons
// existed. It is folded into the latest season on first touch.
const UnassignedSeason SeasonID = 0

type Inventory map[SeasonID]*CrateBalance

// Touch returns the balance row for season, creating it when missing. The
// first touch also merges any legacy unassigned crates into latest.
func (inv Inventory) Touch(season, latest SeasonID) (*CrateBalance, error) {
	if season == UnassignedSeason {
		return nil, fmt.Errorf("cannot address the unassigned crate bucket directly")
	}
	if err := inv.compact(latest); err != nil {
		return nil, err
	}
	row, ok := inv[season]
	if !ok {
		row = &CrateBalance{}
		inv[season] = row
	}
	return row, nil
}

func (inv Inventory) compact(latest SeasonID) error {
	legacy, ok := inv[UnassignedSeason]
	if !ok {
		return nil
	}
	if latest == UnassignedSeason {
		return fmt.Errorf("no season to merge unassigned crates into")
	}
	target, ok := inv[latest]
	if !ok {
		target = &CrateBalance{}
		inv[latest] = target
	}
	if err := target.Add(legacy.Quantity, legacy.GiftLocked); err != nil {
		return err
	}
	delete(inv, UnassignedSeason)
	return nil
}

// Get is a read-only lookup that does not create rows.
func (inv Inventory) Get(season SeasonID) CrateBalance {
	if row, ok := inv[season]; ok {
		return *row
	}
	return CrateBalance{}
}

func (inv Inventory) Seasons() []SeasonID {
	out := make([]SeasonID, 0, len(inv))
	for id := range inv {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (inv Inventory) Clone() Inventory {
	out := make(Inventory, len(inv))
	for id, row := range inv {
		cp := *row
		out[id] = &cp
	}
	return out
}

func (inv Inventory) Check() error {
	for id, row := range inv {
		if err := row.Check(); err != nil {
			return fmt.Errorf("season %d: %w", id, err)
		}
	}
	return nil
}
