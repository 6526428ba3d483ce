package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/engagement-escrow/internal/errors"
	"github.com/unclebandit/engagement-escrow/internal/model"
)

const uniqueViolation = "23505"

const campaignColumns = `address, creator, oracle, budget, reward_per_engagement, goal_engagements,
        engagements_verified, is_complete, hashtag, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c                              model.Campaign
		budget, reward, goal, verified pgUint64
		creator, oracle, address       string
	)
	err := row.Scan(&address, &creator, &oracle, &budget, &reward, &goal,
		&verified, &c.IsComplete, &c.Hashtag, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Address = model.Address(address)
	c.Creator = model.Identity(creator)
	c.Oracle = model.Identity(oracle)
	c.Budget = uint64(budget)
	c.RewardPerEngagement = uint64(reward)
	c.GoalEngagements = uint64(goal)
	c.EngagementsVerified = uint64(verified)
	return &c, nil
}

// ====================== Campaign records ======================

func (t *pgTx) GetCampaign(ctx context.Context, addr model.Address) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE address=$1` + t.lockClause()
	c, err := scanCampaign(t.tx.QueryRowContext(ctx, query, string(addr)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(string(addr))
		}
		return nil, err
	}
	return c, nil
}

func (t *pgTx) InsertCampaign(ctx context.Context, c *model.Campaign) error {
	query := `
        INSERT INTO campaigns (` + campaignColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `
	_, err := t.tx.ExecContext(ctx, query,
		string(c.Address), string(c.Creator), string(c.Oracle),
		pgUint64(c.Budget), pgUint64(c.RewardPerEngagement), pgUint64(c.GoalEngagements),
		pgUint64(c.EngagementsVerified), c.IsComplete, c.Hashtag, c.CreatedAt, c.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return appErrors.ErrCampaignExists
	}
	return err
}

func (t *pgTx) UpdateCampaign(ctx context.Context, c *model.Campaign) error {
	query := `
        UPDATE campaigns
        SET oracle=$1, budget=$2, engagements_verified=$3, is_complete=$4, updated_at=$5
        WHERE address=$6
    `
	res, err := t.tx.ExecContext(ctx, query,
		string(c.Oracle), pgUint64(c.Budget), pgUint64(c.EngagementsVerified),
		c.IsComplete, c.UpdatedAt, string(c.Address),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewCampaignNotFound(string(c.Address))
	}
	return nil
}

func (s *PostgresStore) ListCampaigns(ctx context.Context, filter CampaignFilter, offset, limit int) ([]*model.Campaign, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argPos := 1

	if filter.Creator != "" {
		where += fmt.Sprintf(" AND creator=$%d", argPos)
		args = append(args, string(filter.Creator))
		argPos++
	}
	if filter.Complete != nil {
		where += fmt.Sprintf(" AND is_complete=$%d", argPos)
		args = append(args, *filter.Complete)
		argPos++
	}

	var total int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	campaigns := []*model.Campaign{}
	if limit <= 0 {
		return campaigns, total, nil
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, address ASC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}
