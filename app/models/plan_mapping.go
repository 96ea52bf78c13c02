package models

import "time"

// PlanMapping maps provider price IDs to internal tiers and their monthly
// credit allowance. Rows are seeded via migrations and toggled by operators.
type PlanMapping struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(20);not null;index:ux_plan_mappings_price,unique,priority:1" json:"provider"`
	ProviderPriceID string    `gorm:"type:varchar(191);not null;index:ux_plan_mappings_price,unique,priority:2" json:"provider_price_id"`
	Tier            string    `gorm:"type:varchar(50);not null;default:'free';index" json:"tier"`
	BillingInterval string    `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_interval"`
	MonthlyCredits  int64     `gorm:"not null;default:0" json:"monthly_credits"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
