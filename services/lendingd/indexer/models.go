package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoanRecord is the read model of a loan, keyed by its engine id.
type LoanRecord struct {
	LoanID           uint64    `gorm:"primaryKey;autoIncrement:false" json:"loanId"`
	Maturity         uint64    `gorm:"index" json:"maturity"`
	Lender           string    `gorm:"size:42;index" json:"lender"`
	Borrower         string    `gorm:"size:42;index" json:"borrower"`
	Principal        string    `gorm:"size:80" json:"principal"`
	RateBps          uint64    `json:"rateBps"`
	Status           string    `gorm:"size:16;index" json:"status"`
	CollateralAsset  string    `gorm:"size:42" json:"collateralAsset"`
	CollateralAmount string    `gorm:"size:80" json:"collateralAmount"`
	OfferID          uint64    `json:"offerId"`
	RequestID        uint64    `json:"requestId"`
	StartTimestamp   uint64    `json:"startTimestamp"`
	Settled          string    `gorm:"size:80" json:"settled"`
	ClosedAt         uint64    `json:"closedAt"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// EventRecord keeps every engine event for audit and replay.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Maturity   uint64    `gorm:"index" json:"maturity"`
	LoanID     uint64    `gorm:"index" json:"loanId"`
	Attributes string    `gorm:"type:text" json:"attributes"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// AutoMigrate creates or updates the indexer schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&LoanRecord{}, &EventRecord{})
}
