package repository

import (
	"context"

	"github.com/unclebandit/engagement-escrow/internal/model"
)

// AppendProof records an accepted attestation in the same transaction as
// the counter update it produced.
func (t *pgTx) AppendProof(ctx context.Context, p *model.Proof) error {
	query := `
        INSERT INTO proofs
        (id, campaign_address, oracle, engagement_count, reference_id, engagements_verified, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err := t.tx.ExecContext(ctx, query,
		p.ID,
		string(p.CampaignAddress),
		string(p.Oracle),
		pgUint64(p.EngagementCount),
		p.ReferenceID,
		pgUint64(p.EngagementsVerified),
		p.CreatedAt,
	)
	return err
}

// ListProofs fetches a campaign's proofs in submission order
func (s *PostgresStore) ListProofs(ctx context.Context, addr model.Address, offset, limit int) ([]*model.Proof, int, error) {
	var total int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM proofs WHERE campaign_address=$1`, string(addr)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	proofs := []*model.Proof{}
	if limit <= 0 {
		return proofs, total, nil
	}

	query := `
        SELECT id, campaign_address, oracle, engagement_count, reference_id, engagements_verified, created_at
        FROM proofs
        WHERE campaign_address=$1
        ORDER BY created_at ASC, id ASC
        LIMIT $2 OFFSET $3
    `
	rows, err := s.DB.QueryContext(ctx, query, string(addr), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p                model.Proof
			count, verified  pgUint64
			campaign, oracle string
		)
		if err := rows.Scan(&p.ID, &campaign, &oracle, &count, &p.ReferenceID, &verified, &p.CreatedAt); err != nil {
			return nil, 0, err
		}
		p.CampaignAddress = model.Address(campaign)
		p.Oracle = model.Identity(oracle)
		p.EngagementCount = uint64(count)
		p.EngagementsVerified = uint64(verified)
		proofs = append(proofs, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return proofs, total, nil
}
