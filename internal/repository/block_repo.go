package repository

import "context"

type BlockRepository struct {
	db DBTX
}

func NewBlockRepository(db DBTX) *BlockRepository {
	return &BlockRepository{db: db}
}

// IsBlocked reports whether a block exists between the two users in either
// direction. Blocks are written by the moderation service; chat only reads
// them, fresh on every access check.
func (r *BlockRepository) IsBlocked(ctx context.Context, userA string, userB string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM user_blocks
			WHERE (blocker_id = $1 AND blocked_id = $2)
			   OR (blocker_id = $2 AND blocked_id = $1)
		)
	`

	var blocked bool
	if err := r.db.QueryRow(ctx, query, userA, userB).Scan(&blocked); err != nil {
		return false, err
	}

	return blocked, nil
}
