package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

const bidColumns = `id, session_id, run_id, project_id, project_title, project_link, text,
	amount, period, currency, exchange_rate, budget_usd, outcome, error, marketplace_bid_id, created_at`

type BidStore struct {
	db *sql.DB
}

var _ ports.BidRepository = (*BidStore)(nil)

// Append stores one bid attempt. Records without an id get a fresh uuid.
func (s *BidStore) Append(ctx context.Context, bid domain.BidRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bid.ID == "" {
		bid.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO bids (`+bidColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bid.ID,
		string(bid.SessionID),
		string(bid.RunID),
		int64(bid.ProjectID),
		bid.ProjectTitle,
		bid.ProjectLink,
		bid.Text,
		bid.Amount,
		bid.Period,
		bid.Currency,
		bid.ExchangeRate,
		bid.BudgetUSD,
		string(bid.Outcome),
		bid.Error,
		bid.MarketplaceBidID,
		toMillis(bid.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append bid: %w", err)
	}
	return nil
}

func (s *BidStore) List(ctx context.Context, query ports.BidQuery) ([]domain.BidRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if query.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, string(query.SessionID))
	}
	if query.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, string(query.RunID))
	}
	where, args = rangeClause(where, args, "created_at", query.Range)

	rows, err := s.db.QueryContext(ctx, windowed(bidColumns, "bids", where, "created_at", query.Limit), args...)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	var out []domain.BidRecord
	for rows.Next() {
		var (
			bid                        domain.BidRecord
			sessionID, runID, outcome string
			projectID, createdAt      int64
		)
		if err := rows.Scan(
			&bid.ID,
			&sessionID,
			&runID,
			&projectID,
			&bid.ProjectTitle,
			&bid.ProjectLink,
			&bid.Text,
			&bid.Amount,
			&bid.Period,
			&bid.Currency,
			&bid.ExchangeRate,
			&bid.BudgetUSD,
			&outcome,
			&bid.Error,
			&bid.MarketplaceBidID,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bid.SessionID = domain.SessionID(sessionID)
		bid.RunID = domain.RunID(runID)
		bid.ProjectID = domain.ProjectID(projectID)
		bid.Outcome = domain.BidOutcome(outcome)
		bid.CreatedAt = fromMillis(createdAt)
		out = append(out, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bids: %w", err)
	}
	return out, nil
}
