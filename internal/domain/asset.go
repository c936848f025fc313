package domain

import "time"

// AssetSide indicates the direction of a held position.
type AssetSide string

const (
	AssetSideLong  AssetSide = "long"
	AssetSideShort AssetSide = "short"
)

// Asset is one held position in the portfolio. Assets are created when a
// position is opened or synced from the broker, mutated on rebalance or sync,
// and removed when quantity reaches zero.
type Asset struct {
	Symbol    string
	Side      AssetSide
	Quantity  float64
	BrokerRef string
	UpdatedAt time.Time
}

// SignedQuantity returns the quantity with shorts negated.
func (a Asset) SignedQuantity() float64 {
	if a.Side == AssetSideShort {
		return -a.Quantity
	}
	return a.Quantity
}
