package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ListType classifies an IP list entry. Whitelist takes precedence over
// blacklist and temp_block.
type ListType string

const (
	ListTypeWhitelist ListType = "whitelist"
	ListTypeBlacklist ListType = "blacklist"
	ListTypeTempBlock ListType = "temp_block"
)

// IPListEntry is the reputation record for one IP. There is at most one
// entry per IP; an upsert transitions list_type, reason and expiry. An entry
// whose ExpiresAt has passed is logically absent.
type IPListEntry struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	UUID      string     `json:"uuid" gorm:"uniqueIndex"`
	IP        string     `json:"ip" gorm:"uniqueIndex"`
	ListType  ListType   `json:"list_type" gorm:"index:idx_iplist_type_expiry,priority:1"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at" gorm:"index:idx_iplist_type_expiry,priority:2"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (e *IPListEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if e.UUID == "" {
		e.UUID = uuid.NewString()
	}
	return
}

// Expired reports whether the entry has a past expiry.
func (e *IPListEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}
