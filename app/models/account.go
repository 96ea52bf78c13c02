package models

import "time"

// Account holds the prepaid credit balance for one platform user. The user
// identity itself lives with the external identity service; UserRef is the
// opaque, already-verified reference it hands us per request.
//
// Balance is mutated exclusively through the ledger package. Reading it
// elsewhere is fine; writing it elsewhere is a bug.
type Account struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserRef   string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_accounts_user_ref" json:"user_ref"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
