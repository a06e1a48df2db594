package rbac

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads capability flags from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListFlags returns the overrides configured for a center and role.
func (r *Repository) ListFlags(ctx context.Context, centerID uuid.UUID, role Role) ([]Flag, error) {
	rows, err := r.pool.Query(ctx, `SELECT center_id, role, capability, enabled
FROM role_capability_flags WHERE center_id=$1 AND role=$2`, centerID, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var flags []Flag
	for rows.Next() {
		var f Flag
		if err := rows.Scan(&f.CenterID, &f.Role, &f.Capability, &f.Enabled); err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}
