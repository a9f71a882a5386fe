package services

import (
	"errors"
	"net"
	"time"

	"gorm.io/gorm"

	"github.com/vigilguard/vigil/internal/models"
)

var (
	ErrIPListEntryNotFound = errors.New("ip list entry not found")
	ErrInvalidIPAddress    = errors.New("invalid IP address")
	ErrInvalidListType     = errors.New("invalid list type")
)

// IPListService is the IP reputation store. Precedence (whitelist over
// blacklist/temp_block) and expiry evaluation live here, not in the
// detectors.
type IPListService struct {
	db *gorm.DB
}

// NewIPListService returns an IPListService using the provided DB.
func NewIPListService(db *gorm.DB) *IPListService {
	return &IPListService{db: db}
}

func validListType(lt models.ListType) bool {
	switch lt {
	case models.ListTypeWhitelist, models.ListTypeBlacklist, models.ListTypeTempBlock:
		return true
	}
	return false
}

// Get returns the non-expired entry for an IP, or ErrIPListEntryNotFound.
// Expired entries are treated as absent.
func (s *IPListService) Get(ip string) (*models.IPListEntry, error) {
	var entry models.IPListEntry
	if err := s.db.Where("ip = ?", ip).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIPListEntryNotFound
		}
		return nil, err
	}
	if entry.Expired(time.Now()) {
		return nil, ErrIPListEntryNotFound
	}
	return &entry, nil
}

// IsWhitelisted reports whether the IP carries a non-expired whitelist entry.
func (s *IPListService) IsWhitelisted(ip string) (bool, error) {
	entry, err := s.Get(ip)
	if err != nil {
		if errors.Is(err, ErrIPListEntryNotFound) {
			return false, nil
		}
		return false, err
	}
	return entry.ListType == models.ListTypeWhitelist, nil
}

// IsBlockedOrBlacklisted reports whether the IP carries a blacklist entry or
// a non-expired temp_block. Whitelisted IPs are never reported as blocked.
func (s *IPListService) IsBlockedOrBlacklisted(ip string) (bool, error) {
	entry, err := s.Get(ip)
	if err != nil {
		if errors.Is(err, ErrIPListEntryNotFound) {
			return false, nil
		}
		return false, err
	}
	switch entry.ListType {
	case models.ListTypeBlacklist, models.ListTypeTempBlock:
		return true, nil
	}
	return false, nil
}

// Upsert creates or transitions the entry for an IP. A nil expiresAt means
// the entry never expires.
func (s *IPListService) Upsert(ip string, listType models.ListType, reason string, expiresAt *time.Time) error {
	if net.ParseIP(ip) == nil {
		return ErrInvalidIPAddress
	}
	if !validListType(listType) {
		return ErrInvalidListType
	}

	var existing models.IPListEntry
	if err := s.db.Where("ip = ?", ip).First(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			entry := models.IPListEntry{IP: ip, ListType: listType, Reason: reason, ExpiresAt: expiresAt}
			return s.db.Create(&entry).Error
		}
		return err
	}

	existing.ListType = listType
	existing.Reason = reason
	existing.ExpiresAt = expiresAt
	return s.db.Save(&existing).Error
}

// Delete removes the entry for an IP if it matches the given list type.
func (s *IPListService) Delete(ip string, listType models.ListType) error {
	result := s.db.Where("ip = ? AND list_type = ?", ip, listType).Delete(&models.IPListEntry{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrIPListEntryNotFound
	}
	return nil
}

// ClearBlocks removes blacklist and temp_block entries for an IP. The
// operator unblock clears both; a whitelist entry is an orthogonal flag and
// is left alone.
func (s *IPListService) ClearBlocks(ip string) error {
	result := s.db.
		Where("ip = ? AND list_type IN ?", ip,
			[]models.ListType{models.ListTypeBlacklist, models.ListTypeTempBlock}).
		Delete(&models.IPListEntry{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrIPListEntryNotFound
	}
	return nil
}

// List returns all entries of a list type, newest first. Expired entries are
// filtered out.
func (s *IPListService) List(listType models.ListType) ([]models.IPListEntry, error) {
	var entries []models.IPListEntry
	q := s.db.Order("updated_at desc")
	if listType != "" {
		q = q.Where("list_type = ?", listType)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	now := time.Now()
	live := entries[:0]
	for _, e := range entries {
		if !e.Expired(now) {
			live = append(live, e)
		}
	}
	return live, nil
}

// CountBlocked counts live blacklist and temp_block entries.
func (s *IPListService) CountBlocked() (int64, error) {
	var count int64
	err := s.db.Model(&models.IPListEntry{}).
		Where("list_type IN ? AND (expires_at IS NULL OR expires_at > ?)",
			[]models.ListType{models.ListTypeBlacklist, models.ListTypeTempBlock}, time.Now()).
		Count(&count).Error
	return count, err
}

// PurgeExpired deletes temp_block rows whose expiry has passed. Lazy expiry
// at read time remains authoritative; this is housekeeping so the table does
// not grow without bound.
func (s *IPListService) PurgeExpired() (int64, error) {
	result := s.db.
		Where("list_type = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.ListTypeTempBlock, time.Now()).
		Delete(&models.IPListEntry{})
	return result.RowsAffected, result.Error
}
