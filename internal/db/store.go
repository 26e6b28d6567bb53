package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/david/grant-enhancer/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when no grant has the requested id.
var ErrNotFound = eris.New("db: grant not found")

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Pool is the subset of *pgxpool.Pool the store needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool Pool
}

func NewStore(pool Pool) *Store {
	return &Store{pool: pool}
}

// Filter narrows Query. Zero values mean "no filter" except Status, which
// defaults to live ("all" disables it), and Limit.
type Filter struct {
	Bucket            string
	Status            string
	MinAmount         *float64
	MaxAmount         *float64
	Sector            string
	State             string
	Complexity        string
	IncludeDuplicates bool
	Limit             int
	// Offset skips rows of the ordered result, for paging.
	Offset int
}

// selectCols is the column list for every grant read.
const selectCols = `id, title, agency, bucket, instrument,
	min_ticket_lakh, typical_ticket_lakh, max_ticket_lakh, deadline_type, next_deadline,
	eligibility_flags, sector_tags, state_scope, source_urls, extraction_method,
	confidence, data_lineage, status, status_reason, deadline_status, status_confidence,
	website_accessible, last_checked, is_duplicate, original_id, duplicate_count, merged_from,
	eligibility_criteria, target_audience, application_complexity, created_at, last_seen_at`

func scanGrant(scan func(dest ...interface{}) error) (models.Grant, error) {
	var g models.Grant
	var bucket, deadlineType, status, deadlineStatus, complexity string
	var lineageRaw, criteriaRaw, audienceRaw []byte

	err := scan(
		&g.ID, &g.Title, &g.Agency, &bucket, &g.Instrument,
		&g.MinTicketLakh, &g.TypicalTicketLakh, &g.MaxTicketLakh, &deadlineType, &g.NextDeadline,
		&g.EligibilityFlags, &g.SectorTags, &g.StateScope, &g.SourceURLs, &g.ExtractionMethod,
		&g.Confidence, &lineageRaw, &status, &g.StatusReason, &deadlineStatus, &g.StatusConfidence,
		&g.WebsiteAccessible, &g.LastChecked, &g.IsDuplicate, &g.OriginalID, &g.DuplicateCount, &g.MergedFrom,
		&criteriaRaw, &audienceRaw, &complexity, &g.CreatedAt, &g.LastSeenAt,
	)
	if err != nil {
		return g, err
	}

	g.Bucket = models.NormalizeBucket(bucket)
	g.DeadlineType = models.NormalizeDeadlineType(deadlineType)
	g.Status = models.NormalizeStatus(status)
	g.DeadlineStatus = models.DeadlineStatus(deadlineStatus)
	g.ApplicationComplexity = models.Complexity(complexity)

	if len(lineageRaw) > 0 {
		g.DataLineage = &models.DataLineage{}
		if err := json.Unmarshal(lineageRaw, g.DataLineage); err != nil {
			return g, eris.Wrapf(err, "db: decode data_lineage of %s", g.ID)
		}
	}
	if len(criteriaRaw) > 0 {
		g.EligibilityCriteria = &models.EligibilityCriteria{}
		if err := json.Unmarshal(criteriaRaw, g.EligibilityCriteria); err != nil {
			return g, eris.Wrapf(err, "db: decode eligibility_criteria of %s", g.ID)
		}
	}
	if len(audienceRaw) > 0 {
		g.TargetAudience = &models.TargetAudience{}
		if err := json.Unmarshal(audienceRaw, g.TargetAudience); err != nil {
			return g, eris.Wrapf(err, "db: decode target_audience of %s", g.ID)
		}
	}

	return g, nil
}

// upsertSQL leaves the status monitor's columns alone on update; only
// UpdateStatus writes them once a row exists.
const upsertSQL = `
	INSERT INTO grants (
		id, title, agency, bucket, instrument,
		min_ticket_lakh, typical_ticket_lakh, max_ticket_lakh, deadline_type, next_deadline,
		eligibility_flags, sector_tags, state_scope, source_urls, extraction_method,
		confidence, data_lineage, status, status_reason, deadline_status, status_confidence,
		website_accessible, last_checked, is_duplicate, original_id, duplicate_count, merged_from,
		eligibility_criteria, target_audience, application_complexity
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		$21, $22, $23, $24, $25, $26, $27, $28, $29, $30
	)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		agency = EXCLUDED.agency,
		bucket = EXCLUDED.bucket,
		instrument = EXCLUDED.instrument,
		min_ticket_lakh = EXCLUDED.min_ticket_lakh,
		typical_ticket_lakh = EXCLUDED.typical_ticket_lakh,
		max_ticket_lakh = EXCLUDED.max_ticket_lakh,
		deadline_type = EXCLUDED.deadline_type,
		next_deadline = EXCLUDED.next_deadline,
		eligibility_flags = EXCLUDED.eligibility_flags,
		sector_tags = EXCLUDED.sector_tags,
		state_scope = EXCLUDED.state_scope,
		source_urls = EXCLUDED.source_urls,
		extraction_method = EXCLUDED.extraction_method,
		confidence = EXCLUDED.confidence,
		data_lineage = EXCLUDED.data_lineage,
		is_duplicate = EXCLUDED.is_duplicate,
		original_id = EXCLUDED.original_id,
		duplicate_count = EXCLUDED.duplicate_count,
		merged_from = EXCLUDED.merged_from,
		eligibility_criteria = EXCLUDED.eligibility_criteria,
		target_audience = EXCLUDED.target_audience,
		application_complexity = EXCLUDED.application_complexity,
		last_seen_at = NOW()
	RETURNING (xmax = 0) AS inserted`

// Upsert writes g by id. It reports whether the row was new.
func (s *Store) Upsert(ctx context.Context, g *models.Grant) (bool, error) {
	if strings.TrimSpace(g.ID) == "" {
		return false, eris.New("db: upsert grant without id")
	}

	lineage, err := jsonColumn(g.DataLineage != nil, g.DataLineage)
	if err != nil {
		return false, eris.Wrapf(err, "db: encode data_lineage of %s", g.ID)
	}
	criteria, err := jsonColumn(g.EligibilityCriteria != nil, g.EligibilityCriteria)
	if err != nil {
		return false, eris.Wrapf(err, "db: encode eligibility_criteria of %s", g.ID)
	}
	audience, err := jsonColumn(g.TargetAudience != nil, g.TargetAudience)
	if err != nil {
		return false, eris.Wrapf(err, "db: encode target_audience of %s", g.ID)
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, upsertSQL,
		g.ID, g.Title, g.Agency, string(g.Bucket), orEmpty(g.Instrument),
		g.MinTicketLakh, g.TypicalTicketLakh, g.MaxTicketLakh, string(g.DeadlineType), g.NextDeadline,
		orEmpty(g.EligibilityFlags), orEmpty(g.SectorTags), g.StateScope, orEmpty(g.SourceURLs), g.ExtractionMethod,
		g.Confidence, lineage, string(g.Status), g.StatusReason, string(g.DeadlineStatus), g.StatusConfidence,
		g.WebsiteAccessible, g.LastChecked, g.IsDuplicate, g.OriginalID, g.DuplicateCount, orEmpty(g.MergedFrom),
		criteria, audience, string(g.ApplicationComplexity),
	).Scan(&inserted)
	if err != nil {
		return false, eris.Wrapf(err, "db: upsert grant %s", g.ID)
	}
	return inserted, nil
}

// Query returns grants matching f, best confidence first.
func (s *Store) Query(ctx context.Context, f Filter) ([]models.Grant, error) {
	where, args := buildWhere(f)

	sql := fmt.Sprintf("SELECT %s FROM grants %s ORDER BY confidence DESC, typical_ticket_lakh DESC NULLS LAST, id LIMIT $%d",
		selectCols, where, len(args)+1)
	args = append(args, clampLimit(f.Limit))
	if f.Offset > 0 {
		sql += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, f.Offset)
	}

	return s.collect(ctx, sql, args...)
}

func buildWhere(f Filter) (string, []interface{}) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	status := strings.ToLower(strings.TrimSpace(f.Status))
	if status == "" {
		status = string(models.StatusLive)
	}
	if status != "all" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}

	if !f.IncludeDuplicates {
		where += " AND is_duplicate = false"
	}

	if f.Bucket != "" {
		where += fmt.Sprintf(" AND LOWER(bucket) = LOWER($%d)", argIdx)
		args = append(args, f.Bucket)
		argIdx++
	}

	if f.MinAmount != nil {
		where += fmt.Sprintf(" AND typical_ticket_lakh >= $%d", argIdx)
		args = append(args, *f.MinAmount)
		argIdx++
	}

	if f.MaxAmount != nil {
		where += fmt.Sprintf(" AND typical_ticket_lakh <= $%d", argIdx)
		args = append(args, *f.MaxAmount)
		argIdx++
	}

	if sector := strings.TrimSpace(f.Sector); sector != "" {
		where += fmt.Sprintf(" AND sector_tags && $%d", argIdx)
		args = append(args, []string{sector})
		argIdx++
	}

	// National grants match every state.
	if state := strings.TrimSpace(f.State); state != "" {
		where += fmt.Sprintf(" AND (state_scope ILIKE $%d OR state_scope ILIKE 'national')", argIdx)
		args = append(args, "%"+state+"%")
		argIdx++
	}

	if f.Complexity != "" {
		where += fmt.Sprintf(" AND application_complexity = $%d", argIdx)
		args = append(args, strings.ToLower(f.Complexity))
	}

	return where, args
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// List returns every grant with the given status, duplicates included, in
// ingestion order. An empty status lists the whole catalogue.
func (s *Store) List(ctx context.Context, status models.Status) ([]models.Grant, error) {
	if status == "" {
		return s.collect(ctx, fmt.Sprintf("SELECT %s FROM grants ORDER BY created_at, id", selectCols))
	}
	sql := fmt.Sprintf("SELECT %s FROM grants WHERE status = $1 ORDER BY created_at, id", selectCols)
	return s.collect(ctx, sql, string(status))
}

func (s *Store) Get(ctx context.Context, id string) (*models.Grant, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM grants
		WHERE id = $1
	`, selectCols)
	row := s.pool.QueryRow(ctx, sql, id)

	g, err := scanGrant(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "db: get grant %s", id)
	}
	return &g, nil
}

// NeedingRefresh returns grants that are not expired and were never checked
// or last checked more than staleAfter ago, oldest first.
func (s *Store) NeedingRefresh(ctx context.Context, staleAfter time.Duration, limit int) ([]models.Grant, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM grants
		WHERE status <> 'expired'
			AND (last_checked IS NULL OR last_checked < NOW() - make_interval(secs => $1))
		ORDER BY last_checked ASC NULLS FIRST, id
		LIMIT $2
	`, selectCols)
	return s.collect(ctx, sql, staleAfter.Seconds(), clampLimit(limit))
}

// UpdateStatus persists the fields the status monitor owns.
func (s *Store) UpdateStatus(ctx context.Context, g *models.Grant) error {
	return s.update(ctx, "status", `
		UPDATE grants SET
			status = $2, status_reason = $3, deadline_status = $4,
			status_confidence = $5, website_accessible = $6, last_checked = $7
		WHERE id = $1`,
		g.ID, string(g.Status), g.StatusReason, string(g.DeadlineStatus),
		g.StatusConfidence, g.WebsiteAccessible, g.LastChecked)
}

// UpdateConfidence persists the score and lineage.
func (s *Store) UpdateConfidence(ctx context.Context, g *models.Grant) error {
	lineage, err := jsonColumn(g.DataLineage != nil, g.DataLineage)
	if err != nil {
		return eris.Wrapf(err, "db: encode data_lineage of %s", g.ID)
	}
	return s.update(ctx, "confidence",
		"UPDATE grants SET confidence = $2, data_lineage = $3 WHERE id = $1",
		g.ID, g.Confidence, lineage)
}

func (s *Store) UpdateComplexity(ctx context.Context, g *models.Grant) error {
	return s.update(ctx, "complexity",
		"UPDATE grants SET application_complexity = $2 WHERE id = $1",
		g.ID, string(g.ApplicationComplexity))
}

func (s *Store) UpdateDuplicate(ctx context.Context, g *models.Grant) error {
	return s.update(ctx, "duplicate", `
		UPDATE grants SET
			is_duplicate = $2, original_id = $3, duplicate_count = $4, merged_from = $5
		WHERE id = $1`,
		g.ID, g.IsDuplicate, g.OriginalID, g.DuplicateCount, orEmpty(g.MergedFrom))
}

func (s *Store) update(ctx context.Context, what, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return eris.Wrapf(err, "db: update %s of %v", what, args[0])
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %v", args[0])
	}
	return nil
}

// Stats summarises the catalogue.
type Stats struct {
	Total             int            `json:"total"`
	Live              int            `json:"live"`
	Duplicates        int            `json:"duplicates"`
	AverageConfidence float64        `json:"average_confidence"`
	ByStatus          map[string]int `json:"status_breakdown"`
	ByComplexity      map[string]int `json:"complexity_breakdown"`
	ByBucket          map[string]int `json:"bucket_breakdown"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'live' AND is_duplicate = false),
			COUNT(*) FILTER (WHERE is_duplicate),
			COALESCE(AVG(confidence), 0)
		FROM grants`).Scan(&st.Total, &st.Live, &st.Duplicates, &st.AverageConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "db: count grants")
	}

	if st.ByStatus, err = s.breakdown(ctx, "status"); err != nil {
		return nil, err
	}
	if st.ByComplexity, err = s.breakdown(ctx, "application_complexity"); err != nil {
		return nil, err
	}
	if st.ByBucket, err = s.breakdown(ctx, "bucket"); err != nil {
		return nil, err
	}
	return st, nil
}

// breakdown counts grants per value of a trusted column name.
func (s *Store) breakdown(ctx context.Context, column string) (map[string]int, error) {
	sql := fmt.Sprintf("SELECT COALESCE(NULLIF(%[1]s, ''), 'unknown'), COUNT(*) FROM grants GROUP BY 1 ORDER BY 1", column)
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrapf(err, "db: %s breakdown", column)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var value string
		var count int
		if err := rows.Scan(&value, &count); err != nil {
			return nil, eris.Wrapf(err, "db: scan %s breakdown", column)
		}
		counts[value] = count
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "db: %s breakdown", column)
	}
	return counts, nil
}

func (s *Store) collect(ctx context.Context, sql string, args ...any) ([]models.Grant, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "db: query grants")
	}
	defer rows.Close()

	grants := []models.Grant{}
	for rows.Next() {
		g, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "db: scan grant")
		}
		grants = append(grants, g)
	}

	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "db: iterate grants")
	}
	return grants, nil
}

// jsonColumn encodes v for a JSONB column, or NULL when present is false.
func jsonColumn(present bool, v any) ([]byte, error) {
	if !present {
		return nil, nil
	}
	return json.Marshal(v)
}

// orEmpty keeps NOT NULL array columns from receiving NULL.
func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
