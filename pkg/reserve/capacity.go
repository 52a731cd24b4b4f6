package reserve

import (
	"context"
	"errors"
)

// Capacity ledger operations. Both entry points must run inside the caller's
// transaction: they lock the time-slot row and its menu-item row FOR UPDATE,
// so two concurrent reservations of the last unit serialize and exactly one
// observes capacity > 0.

// reserveCapacity consumes one capacity unit from the slot and its menu item,
// flipping availability off when a counter reaches zero.
func reserveCapacity(ctx context.Context, txStore Store, slotID int64) error {
	slot, err := txStore.GetSlotForUpdate(ctx, slotID)
	if err != nil {
		return err
	}
	item, err := txStore.GetMenuItemForUpdate(ctx, slot.MenuItemID)
	if err != nil {
		return err
	}
	if slot.Capacity <= 0 {
		return ErrSlotFull
	}
	if item.Disabled || item.DailyCapacity <= 0 {
		return ErrItemUnavailable
	}
	slotCapacity := slot.Capacity - 1
	itemCapacity := item.DailyCapacity - 1
	if err := txStore.SetSlotCapacity(ctx, slotID, slotCapacity, slotCapacity > 0); err != nil {
		return err
	}
	return txStore.SetMenuItemCapacity(ctx, item.ID, itemCapacity, itemCapacity > 0 && !item.Disabled)
}

// releaseCapacity returns one capacity unit to the slot and its menu item,
// flipping availability back on when a counter becomes positive.
func releaseCapacity(ctx context.Context, txStore Store, slotID int64) error {
	slot, err := txStore.GetSlotForUpdate(ctx, slotID)
	if err != nil {
		return err
	}
	item, err := txStore.GetMenuItemForUpdate(ctx, slot.MenuItemID)
	if err != nil {
		return err
	}
	slotCapacity := slot.Capacity + 1
	itemCapacity := item.DailyCapacity + 1
	if err := txStore.SetSlotCapacity(ctx, slotID, slotCapacity, true); err != nil {
		return err
	}
	return txStore.SetMenuItemCapacity(ctx, item.ID, itemCapacity, !item.Disabled)
}

// tryReserveCapacity is the reactivation variant: a reversed payment revives
// its cancelled reservation even when the slot has meanwhile sold out, because
// the money was collected. It reports whether a unit was actually consumed.
func tryReserveCapacity(ctx context.Context, txStore Store, slotID int64) (bool, error) {
	err := reserveCapacity(ctx, txStore, slotID)
	if errors.Is(err, ErrSlotFull) || errors.Is(err, ErrItemUnavailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
