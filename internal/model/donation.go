package model

import "time"

// FoodType classifies the food offered in a donation.
type FoodType string

const (
	FoodCookedMeal     FoodType = "COOKED_MEAL"
	FoodRawIngredients FoodType = "RAW_INGREDIENTS"
	FoodPackaged       FoodType = "PACKAGED"
	FoodBakery         FoodType = "BAKERY"
	FoodDairy          FoodType = "DAIRY"
	FoodProduce        FoodType = "PRODUCE"
	FoodBeverages      FoodType = "BEVERAGES"
	FoodOther          FoodType = "OTHER"
)

func (f FoodType) Valid() bool {
	switch f {
	case FoodCookedMeal, FoodRawIngredients, FoodPackaged, FoodBakery,
		FoodDairy, FoodProduce, FoodBeverages, FoodOther:
		return true
	}
	return false
}

// QuantityUnit is the unit a donation quantity is measured in.
type QuantityUnit string

const (
	UnitKG       QuantityUnit = "KG"
	UnitG        QuantityUnit = "G"
	UnitL        QuantityUnit = "L"
	UnitML       QuantityUnit = "ML"
	UnitServings QuantityUnit = "SERVINGS"
	UnitPieces   QuantityUnit = "PIECES"
	UnitBoxes    QuantityUnit = "BOXES"
)

func (u QuantityUnit) Valid() bool {
	switch u {
	case UnitKG, UnitG, UnitL, UnitML, UnitServings, UnitPieces, UnitBoxes:
		return true
	}
	return false
}

// Quantity is an amount with its unit.
type Quantity struct {
	Amount float64      `json:"amount"`
	Unit   QuantityUnit `json:"unit"`
}

// GeoPoint is a named coordinate pair.
type GeoPoint struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Donation is a surplus-food offer posted by a donor.
//
// RecipientID, RequestID and DeliveryID are not stored on the donations row;
// the repository derives them from the requests and deliveries tables when
// the donation is read.
type Donation struct {
	ID            string         `json:"id"`
	DonorID       string         `json:"donor_id"`
	FoodType      FoodType       `json:"food_type"`
	Quantity      Quantity       `json:"quantity"`
	PickupAddress GeoPoint       `json:"pickup_address"`
	PickupTime    time.Time      `json:"pickup_time"`
	ExpiryTime    time.Time      `json:"expiry_time"`
	Status        DonationStatus `json:"status"`
	Description   string         `json:"description"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	RecipientID *string `json:"recipient_id,omitempty"`
	RequestID   *string `json:"request_id,omitempty"`
	DeliveryID  *string `json:"delivery_id,omitempty"`
}

// Expired reports whether the donation's expiry time has passed at now.
func (d *Donation) Expired(now time.Time) bool {
	return !d.ExpiryTime.IsZero() && !now.Before(d.ExpiryTime)
}
