package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ConfigStore implements domain.ConfigStore over the platform_config
// singleton row.
type ConfigStore struct {
	db dbtx
}

func (s *ConfigStore) Get(ctx context.Context) (domain.PlatformConfig, error) {
	var (
		cfg        domain.PlatformConfig
		feeBps     int32
		recipient  string
		tokensJSON []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT fee_bps, fee_recipient, approved_tokens, paused, updated_at FROM platform_config WHERE id`,
	).Scan(&feeBps, &recipient, &tokensJSON, &cfg.Paused, &cfg.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return domain.PlatformConfig{}, domain.ErrNotFound
		}
		return domain.PlatformConfig{}, fmt.Errorf("postgres: get platform config: %w", err)
	}
	cfg.FeeBps = uint16(feeBps)
	cfg.FeeRecipient = common.HexToAddress(recipient)
	if len(tokensJSON) > 0 {
		if err := json.Unmarshal(tokensJSON, &cfg.ApprovedPaymentTokens); err != nil {
			return domain.PlatformConfig{}, fmt.Errorf("postgres: unmarshal approved tokens: %w", err)
		}
	}
	return cfg, nil
}

func (s *ConfigStore) Save(ctx context.Context, cfg domain.PlatformConfig) error {
	tokens := cfg.ApprovedPaymentTokens
	if tokens == nil {
		tokens = []common.Address{}
	}
	tokensJSON, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("postgres: marshal approved tokens: %w", err)
	}

	const query = `
		INSERT INTO platform_config (id, fee_bps, fee_recipient, approved_tokens, paused, updated_at)
		VALUES (TRUE, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			fee_bps         = EXCLUDED.fee_bps,
			fee_recipient   = EXCLUDED.fee_recipient,
			approved_tokens = EXCLUDED.approved_tokens,
			paused          = EXCLUDED.paused,
			updated_at      = EXCLUDED.updated_at`
	if _, err := s.db.Exec(ctx, query,
		int32(cfg.FeeBps), addr(cfg.FeeRecipient), tokensJSON, cfg.Paused, utc(cfg.UpdatedAt),
	); err != nil {
		return fmt.Errorf("postgres: save platform config: %w", err)
	}
	return nil
}

// RoyaltyStore implements domain.RoyaltyStore using PostgreSQL.
type RoyaltyStore struct {
	db dbtx
}

func (s *RoyaltyStore) Get(ctx context.Context, collection common.Address) (domain.Royalty, error) {
	var (
		r         = domain.Royalty{Collection: collection}
		recipient string
		bps       int32
	)
	err := s.db.QueryRow(ctx,
		`SELECT recipient, bps, updated_at FROM royalties WHERE collection = $1`, addr(collection),
	).Scan(&recipient, &bps, &r.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return domain.Royalty{}, domain.ErrNotFound
		}
		return domain.Royalty{}, fmt.Errorf("postgres: get royalty %s: %w", collection.Hex(), err)
	}
	r.Recipient = common.HexToAddress(recipient)
	r.Bps = uint16(bps)
	return r, nil
}

func (s *RoyaltyStore) Upsert(ctx context.Context, r domain.Royalty) error {
	const query = `
		INSERT INTO royalties (collection, recipient, bps, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection) DO UPDATE SET
			recipient  = EXCLUDED.recipient,
			bps        = EXCLUDED.bps,
			updated_at = EXCLUDED.updated_at`
	if _, err := s.db.Exec(ctx, query, addr(r.Collection), addr(r.Recipient), int32(r.Bps), utc(r.UpdatedAt)); err != nil {
		return fmt.Errorf("postgres: upsert royalty %s: %w", r.Collection.Hex(), err)
	}
	return nil
}
