package oracles

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"disputeflow/dispute"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_initial_transition",
			SQL: `SELECT d.id FROM disputes d
                  WHERE NOT EXISTS (
                      SELECT 1 FROM dispute_transitions t
                      WHERE t.dispute_id = d.id AND t.from_status = 'OPEN' AND t.to_status = 'OPEN')`,
		},
		{
			Name: "O2_transition_chain",
			SQL: `WITH ordered AS (
                      SELECT dispute_id, from_status,
                             LAG(to_status) OVER (PARTITION BY dispute_id ORDER BY id) AS prev_to
                      FROM dispute_transitions)
                  SELECT * FROM ordered WHERE prev_to IS NOT NULL AND from_status <> prev_to`,
		},
		{
			Name: "O3_status_matches_history",
			SQL: `SELECT d.id, d.status, last.to_status FROM disputes d
                  JOIN LATERAL (
                      SELECT to_status FROM dispute_transitions t
                      WHERE t.dispute_id = d.id ORDER BY t.id DESC LIMIT 1) last ON true
                  WHERE last.to_status <> d.status`,
		},
		{
			Name: "O4_transition_audited",
			SQL: `SELECT t.dispute_id, COUNT(*) AS moves,
                         (SELECT COUNT(*) FROM audit_logs a
                          WHERE a.dispute_id = t.dispute_id AND a.action = 'TRANSITION') AS audited
                  FROM dispute_transitions t
                  WHERE NOT (t.from_status = 'OPEN' AND t.to_status = 'OPEN')
                  GROUP BY t.dispute_id
                  HAVING COUNT(*) <> (SELECT COUNT(*) FROM audit_logs a
                                      WHERE a.dispute_id = t.dispute_id AND a.action = 'TRANSITION')`,
		},
		{
			Name: "O5_legal_moves_only",
			SQL: `SELECT t.id, t.from_status, t.to_status, t.actor_type FROM dispute_transitions t
                  WHERE NOT (t.from_status = 'OPEN' AND t.to_status = 'OPEN')
                    AND (t.from_status, t.to_status, t.actor_type) NOT IN (` + legalTuples() + `)`,
		},
		{
			Name: "O6_system_moves_have_no_user",
			SQL: `SELECT id FROM dispute_transitions
                  WHERE (actor_type = 'SYSTEM' AND actor_id IS NOT NULL)
                     OR (actor_type = 'AGENT' AND actor_id IS NULL)`,
		},
		{
			Name: "O7_tenant_consistency",
			SQL: `SELECT a.id FROM audit_logs a JOIN disputes d ON d.id = a.dispute_id
                  WHERE a.organization_id <> d.organization_id`,
		},
	}
}

// legalTuples renders every (from, to, actor type) the rule table permits
// as a SQL row list.
func legalTuples() string {
	var rows []string
	for to, legs := range dispute.Rules() {
		for _, leg := range legs {
			for _, from := range leg.From {
				for _, actor := range leg.Actors {
					rows = append(rows, fmt.Sprintf("('%s','%s','%s')", from, to, actor))
				}
			}
		}
	}
	sort.Strings(rows)
	return strings.Join(rows, ",")
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
