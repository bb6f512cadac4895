package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/admissions-engine/internal/types"
)

// CreateApplicant inserts an applicant and its documents in one transaction.
func (db *DB) CreateApplicant(ctx context.Context, runID uuid.UUID, folderName, displayName string, docs []types.Document) (*types.Applicant, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	applicant := types.Applicant{
		RunID:       runID,
		FolderName:  folderName,
		DisplayName: displayName,
		Documents:   docs,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO applicants (run_id, folder_name, display_name)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		runID, folderName, nullable(displayName),
	).Scan(&applicant.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create applicant: %w", err)
	}

	for _, doc := range docs {
		_, err = tx.Exec(ctx,
			`INSERT INTO documents (applicant_id, filename, doc_type, content)
			 VALUES ($1, $2, $3, $4)`,
			applicant.ID, doc.Filename, nullable(doc.DocType), doc.Text,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create document %s: %w", doc.Filename, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit applicant: %w", err)
	}
	return &applicant, nil
}

// GetApplicant retrieves one applicant with its documents.
// Returns nil when the applicant does not exist.
func (db *DB) GetApplicant(ctx context.Context, applicantID uuid.UUID) (*types.Applicant, error) {
	var a types.Applicant
	var displayName *string

	err := db.pool.QueryRow(ctx,
		`SELECT id, run_id, folder_name, display_name FROM applicants WHERE id = $1`,
		applicantID,
	).Scan(&a.ID, &a.RunID, &a.FolderName, &displayName)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get applicant: %w", err)
	}
	if displayName != nil {
		a.DisplayName = *displayName
	}

	docs, err := db.listDocuments(ctx, []uuid.UUID{a.ID})
	if err != nil {
		return nil, err
	}
	a.Documents = docs[a.ID]
	return &a, nil
}

// ListApplicants retrieves all applicants of a run with their documents,
// ordered by folder name for deterministic iteration.
func (db *DB) ListApplicants(ctx context.Context, runID uuid.UUID) ([]types.Applicant, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, folder_name, display_name
		 FROM applicants WHERE run_id = $1 ORDER BY folder_name`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list applicants: %w", err)
	}
	defer rows.Close()

	var applicants []types.Applicant
	var ids []uuid.UUID
	for rows.Next() {
		var a types.Applicant
		var displayName *string
		if err := rows.Scan(&a.ID, &a.RunID, &a.FolderName, &displayName); err != nil {
			return nil, fmt.Errorf("failed to scan applicant: %w", err)
		}
		if displayName != nil {
			a.DisplayName = *displayName
		}
		applicants = append(applicants, a)
		ids = append(ids, a.ID)
	}
	if len(applicants) == 0 {
		return nil, nil
	}

	docs, err := db.listDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range applicants {
		applicants[i].Documents = docs[applicants[i].ID]
	}
	return applicants, nil
}

func (db *DB) listDocuments(ctx context.Context, applicantIDs []uuid.UUID) (map[uuid.UUID][]types.Document, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT applicant_id, filename, COALESCE(doc_type, ''), COALESCE(content, '')
		 FROM documents WHERE applicant_id = ANY($1) ORDER BY filename`,
		applicantIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]types.Document)
	for rows.Next() {
		var applicantID uuid.UUID
		var doc types.Document
		if err := rows.Scan(&applicantID, &doc.Filename, &doc.DocType, &doc.Text); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out[applicantID] = append(out[applicantID], doc)
	}
	return out, nil
}
