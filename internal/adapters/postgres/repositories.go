package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"turismo/internal/domain"
	"turismo/internal/ports"
	"turismo/internal/taxonomy"
)

var _ ports.TaxonomyRepository = (*DB)(nil)

// Load reads both taxonomy tables in declaration (position) order; the alias
// matcher depends on that order being stable.
func (db *DB) Load(ctx context.Context) (taxonomy.Set, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT scope_type, id, display_name, aliases, COALESCE(raw_token, ''), wildcard
		FROM taxonomy_entries
		ORDER BY scope_type, position, id
	`)
	if err != nil {
		return taxonomy.Set{}, fmt.Errorf("query taxonomy: %w", err)
	}
	defer rows.Close()

	var towns, categories []domain.TaxonomyEntry
	for rows.Next() {
		var scope string
		var e domain.TaxonomyEntry
		if err := rows.Scan(&scope, &e.ID, &e.DisplayName, &e.Aliases, &e.RawToken, &e.Wildcard); err != nil {
			return taxonomy.Set{}, fmt.Errorf("scan taxonomy entry: %w", err)
		}
		st, err := domain.ParseScopeType(scope)
		if err != nil {
			return taxonomy.Set{}, err
		}
		switch st {
		case domain.ScopeTown:
			towns = append(towns, e)
		case domain.ScopeCategory:
			categories = append(categories, e)
		}
	}
	if err := rows.Err(); err != nil {
		return taxonomy.Set{}, fmt.Errorf("read taxonomy: %w", err)
	}
	return taxonomy.Set{Towns: taxonomy.NewTable(towns), Categories: taxonomy.NewTable(categories)}, nil
}

// Replace rewrites both tables in one transaction, keeping slice order as
// the declaration position.
func (db *DB) Replace(ctx context.Context, set taxonomy.Set) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM taxonomy_entries`); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, st := range []domain.ScopeType{domain.ScopeTown, domain.ScopeCategory} {
		for i, e := range set.For(st).Entries() {
			aliases := e.Aliases
			if aliases == nil {
				aliases = []string{}
			}
			batch.Queue(`
				INSERT INTO taxonomy_entries (scope_type, id, display_name, aliases, raw_token, wildcard, position)
				VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
			`, st.String(), e.ID, e.DisplayName, aliases, e.RawToken, e.Wildcard, i)
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert taxonomy: %w", err)
	}
	return nil
}
