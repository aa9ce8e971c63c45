package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"invoicepos/internal/domain"
)

const snapshotVersion = 1

// SnapshotStore is a key-value slot holding at most one serialized draft per key.
type SnapshotStore interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

var errCorruptSnapshot = errors.New("corrupt draft snapshot")

type snapshot struct {
	Version    int               `json:"version"`
	LineItems  []domain.LineItem `json:"line_items"`
	Payments   []domain.Payment  `json:"payments"`
	CustomerID *int64            `json:"customer_id"`
	Notes      string            `json:"notes"`
	SavedAt    string            `json:"saved_at"`
}

func encodeSnapshot(d domain.DraftInvoice, savedAt time.Time) ([]byte, error) {
	return json.Marshal(snapshot{
		Version:    snapshotVersion,
		LineItems:  d.LineItems,
		Payments:   d.Payments,
		CustomerID: d.CustomerID,
		Notes:      d.Notes,
		SavedAt:    savedAt.UTC().Format(time.RFC3339Nano),
	})
}

func decodeSnapshot(payload []byte) (domain.DraftInvoice, error) {
	var snap snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.DraftInvoice{}, fmt.Errorf("%w: %v", errCorruptSnapshot, err)
	}
	if snap.Version != snapshotVersion {
		return domain.DraftInvoice{}, fmt.Errorf("%w: unsupported version %d", errCorruptSnapshot, snap.Version)
	}
	savedAt, err := time.Parse(time.RFC3339Nano, snap.SavedAt)
	if err != nil {
		return domain.DraftInvoice{}, fmt.Errorf("%w: bad timestamp: %v", errCorruptSnapshot, err)
	}

	seen := make(map[int64]struct{}, len(snap.LineItems))
	for _, line := range snap.LineItems {
		if _, dup := seen[line.ProductID]; dup {
			return domain.DraftInvoice{}, fmt.Errorf("%w: duplicate product %d", errCorruptSnapshot, line.ProductID)
		}
		seen[line.ProductID] = struct{}{}
	}

	return domain.DraftInvoice{
		LineItems:  snap.LineItems,
		Payments:   snap.Payments,
		CustomerID: snap.CustomerID,
		Notes:      snap.Notes,
		SavedAt:    savedAt.UTC(),
	}, nil
}
