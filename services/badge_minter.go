package services

import (
	"context"
	"fmt"
	"strings"

	"delivery-escrow-system/models"

	"github.com/gosimple/slug"
)

// MetadataPublisher stores a public JSON document and returns its URL.
type MetadataPublisher interface {
	PutJSON(ctx context.Context, key string, v interface{}) (string, error)
}

// BadgeMetadata follows the ERC-721 metadata JSON layout.
type BadgeMetadata struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Attributes  []BadgeAttribute `json:"attributes"`
}

type BadgeAttribute struct {
	TraitType string      `json:"trait_type"`
	Value     interface{} `json:"value"`
}

// LedgerBadgeMinter is a database-backed BadgeMinter. With a publisher set,
// each badge also gets a metadata document.
type LedgerBadgeMinter struct {
	store     *Store
	publisher MetadataPublisher
}

func NewLedgerBadgeMinter(store *Store, publisher MetadataPublisher) *LedgerBadgeMinter {
	return &LedgerBadgeMinter{store: store, publisher: publisher}
}

var _ BadgeMinter = (*LedgerBadgeMinter)(nil)

func (m *LedgerBadgeMinter) MintBadge(ctx context.Context, driver string, milestone uint64) (uint64, error) {
	driver, err := models.ParseAccount(driver)
	if err != nil {
		return 0, err
	}

	var badge models.ReputationBadge
	err = m.store.Atomically(ctx, func(ctx context.Context) error {
		badge = models.ReputationBadge{
			Owner:     driver,
			Milestone: milestone,
			Name:      fmt.Sprintf("Courier Milestone #%d", milestone),
			Tier:      models.BadgeTier(milestone),
			MintedAt:  m.store.Now(),
		}
		db := m.store.conn(ctx)
		if err := db.Create(&badge).Error; err != nil {
			return err
		}
		if m.publisher == nil {
			return nil
		}

		url, err := m.publisher.PutJSON(ctx, metadataKey(badge), metadataFor(badge))
		if err != nil {
			return err
		}
		badge.MetadataURL = url
		return db.Model(&badge).Update("metadata_url", url).Error
	})
	if err != nil {
		return 0, err
	}
	return badge.TokenID, nil
}

// ListBadges returns the badges owned by driver, oldest first.
func (m *LedgerBadgeMinter) ListBadges(ctx context.Context, driver string) ([]models.ReputationBadge, error) {
	driver, err := models.ParseAccount(driver)
	if err != nil {
		return nil, err
	}
	var badges []models.ReputationBadge
	err = m.store.conn(ctx).
		Where("owner = ?", driver).
		Order("token_id ASC").
		Find(&badges).Error
	return badges, err
}

func metadataKey(b models.ReputationBadge) string {
	return fmt.Sprintf("badges/%s/%s.json",
		strings.ToLower(b.Owner),
		slug.Make(fmt.Sprintf("%s %d", b.Name, b.TokenID)),
	)
}

func metadataFor(b models.ReputationBadge) BadgeMetadata {
	return BadgeMetadata{
		Name:        b.Name,
		Description: fmt.Sprintf("Reputation badge %d for completed deliveries on the marketplace.", b.Milestone),
		Attributes: []BadgeAttribute{
			{TraitType: "tier", Value: b.Tier},
			{TraitType: "milestone", Value: b.Milestone},
		},
	}
}
