package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

// SQL is a Store over SQLite or PostgreSQL. Both backends share the schema
// and the statements; list columns hold JSON text.
type SQL struct {
	db     backend
	logger *zap.Logger
}

// OpenSQLite opens and migrates a SQLite database. Use "file::memory:" for a
// throwaway database.
func OpenSQLite(ctx context.Context, dsn string, log *zap.Logger) (*SQL, error) {
	b, err := newSQLiteBackend(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return newSQL(ctx, b, log)
}

// OpenPostgres connects a pgx pool and migrates the database.
func OpenPostgres(ctx context.Context, url string, log *zap.Logger) (*SQL, error) {
	b, err := newPostgresBackend(ctx, url)
	if err != nil {
		return nil, err
	}
	return newSQL(ctx, b, log)
}

func newSQL(ctx context.Context, b backend, log *zap.Logger) (*SQL, error) {
	s := &SQL{db: b, logger: logger.OrNop(log)}
	if err := s.Migrate(ctx); err != nil {
		_ = b.close()
		return nil, err
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS postings (
		id               TEXT PRIMARY KEY,
		source_id        TEXT NOT NULL,
		source_native_id TEXT NOT NULL DEFAULT '',
		title            TEXT NOT NULL DEFAULT '',
		company          TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		location         TEXT NOT NULL DEFAULT '',
		experience_level TEXT NOT NULL DEFAULT '',
		job_type         TEXT NOT NULL DEFAULT '',
		company_type     TEXT NOT NULL DEFAULT '',
		remote           TEXT NOT NULL DEFAULT '',
		skills           TEXT NOT NULL DEFAULT '[]',
		specializations  TEXT NOT NULL DEFAULT '[]',
		has_salary       BIGINT NOT NULL DEFAULT 0,
		salary_min       DOUBLE PRECISION NOT NULL DEFAULT 0,
		salary_max       DOUBLE PRECISION NOT NULL DEFAULT 0,
		salary_currency  TEXT NOT NULL DEFAULT '',
		external_url     TEXT NOT NULL DEFAULT '',
		quality_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_duplicate     BIGINT NOT NULL DEFAULT 0,
		canonical_id     TEXT NOT NULL DEFAULT '',
		embedding        TEXT NOT NULL DEFAULT '',
		crawl_timestamp  TEXT NOT NULL DEFAULT '',
		posted_date      TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL DEFAULT 'active'
	)`,
	`CREATE INDEX IF NOT EXISTS postings_canonical ON postings (is_duplicate, status)`,
	`CREATE TABLE IF NOT EXISTS matches (
		user_id            TEXT NOT NULL,
		job_id             TEXT NOT NULL,
		similarity_score   DOUBLE PRECISION NOT NULL,
		rank_score         DOUBLE PRECISION NOT NULL DEFAULT 0,
		match_reasons      TEXT NOT NULL DEFAULT '[]',
		algorithm          TEXT NOT NULL DEFAULT '',
		match_level        TEXT NOT NULL DEFAULT '',
		matching_skills    TEXT NOT NULL DEFAULT '[]',
		missing_skills     TEXT NOT NULL DEFAULT '[]',
		cluster_id         BIGINT NOT NULL DEFAULT -1,
		bookmarked         BIGINT NOT NULL DEFAULT 0,
		application_status TEXT NOT NULL DEFAULT 'not_applied',
		application_error  TEXT NOT NULL DEFAULT '',
		computed_at        TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, job_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sources (
		id                    TEXT PRIMARY KEY,
		kind                  TEXT NOT NULL,
		rate_limit_per_window BIGINT NOT NULL DEFAULT 0,
		window_ns             BIGINT NOT NULL DEFAULT 0,
		burst                 BIGINT NOT NULL DEFAULT 0,
		is_active             BIGINT NOT NULL DEFAULT 0,
		last_crawled_at       TEXT NOT NULL DEFAULT '',
		jobs_found            BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS apply_counts (
		user_id TEXT NOT NULL,
		day     TEXT NOT NULL,
		applied BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, day)
	)`,
}

// Migrate creates missing tables. It is safe to run repeatedly.
func (s *SQL) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQL) Close() error { return s.db.close() }

const postingColumns = `id, source_id, source_native_id, title, company, description, location,
	experience_level, job_type, company_type, remote, skills, specializations,
	has_salary, salary_min, salary_max, salary_currency, external_url, quality_score,
	is_duplicate, canonical_id, embedding, crawl_timestamp, posted_date, status`

const upsertPosting = `INSERT INTO postings (` + postingColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		source_id = excluded.source_id,
		source_native_id = excluded.source_native_id,
		title = excluded.title,
		company = excluded.company,
		description = excluded.description,
		location = excluded.location,
		experience_level = excluded.experience_level,
		job_type = excluded.job_type,
		company_type = excluded.company_type,
		remote = excluded.remote,
		skills = excluded.skills,
		specializations = excluded.specializations,
		has_salary = excluded.has_salary,
		salary_min = excluded.salary_min,
		salary_max = excluded.salary_max,
		salary_currency = excluded.salary_currency,
		external_url = excluded.external_url,
		quality_score = excluded.quality_score,
		is_duplicate = excluded.is_duplicate,
		canonical_id = excluded.canonical_id,
		embedding = excluded.embedding,
		crawl_timestamp = excluded.crawl_timestamp,
		posted_date = excluded.posted_date,
		status = excluded.status`

func (s *SQL) SavePostings(ctx context.Context, postings []jobs.JobPosting) error {
	for i := range postings {
		if err := postings[i].Validate(); err != nil {
			return err
		}
	}
	return s.db.tx(ctx, func(q querier) error {
		for i := range postings {
			if _, err := q.exec(ctx, upsertPosting, postingArgs(&postings[i])...); err != nil {
				return fmt.Errorf("saving posting %s: %w", postings[i].ID, err)
			}
		}
		return nil
	})
}

func postingArgs(j *jobs.JobPosting) []any {
	var hasSalary int64
	var lo, hi float64
	var currency string
	if j.Salary != nil {
		hasSalary, lo, hi, currency = 1, j.Salary.Min, j.Salary.Max, j.Salary.Currency
	}
	status := j.Status
	if status == "" {
		status = jobs.StatusActive
	}
	return []any{
		j.ID, j.SourceID, j.SourceNativeID, j.Title, j.Company, j.Description, j.Location,
		string(j.ExperienceLevel), j.JobType, j.CompanyType, j.Remote,
		EncodeStrings(j.Skills), EncodeStrings(j.Specializations),
		hasSalary, lo, hi, currency, j.ExternalURL, j.QualityScore,
		boolInt(j.IsDuplicate), j.CanonicalID, EncodeVector(j.Embedding),
		encodeTime(j.CrawlTimestamp), encodeTime(j.PostedDate), string(status),
	}
}

func scanPosting(r rows) (jobs.JobPosting, error) {
	var (
		j                         jobs.JobPosting
		level, status             string
		skills, specs, embedding  string
		crawled, posted, currency string
		hasSalary, duplicate      int64
		salaryMin, salaryMax      float64
	)
	err := r.Scan(
		&j.ID, &j.SourceID, &j.SourceNativeID, &j.Title, &j.Company, &j.Description, &j.Location,
		&level, &j.JobType, &j.CompanyType, &j.Remote, &skills, &specs,
		&hasSalary, &salaryMin, &salaryMax, &currency, &j.ExternalURL, &j.QualityScore,
		&duplicate, &j.CanonicalID, &embedding, &crawled, &posted, &status,
	)
	if err != nil {
		return j, err
	}

	j.ExperienceLevel = jobs.ExperienceLevel(level)
	j.Status = jobs.PostingStatus(status)
	j.IsDuplicate = duplicate != 0
	if hasSalary != 0 {
		j.Salary = &jobs.SalaryRange{Min: salaryMin, Max: salaryMax, Currency: currency}
	}
	if j.Skills, err = DecodeStrings(skills); err != nil {
		return j, err
	}
	if j.Specializations, err = DecodeStrings(specs); err != nil {
		return j, err
	}
	if j.Embedding, err = DecodeVector(embedding); err != nil {
		return j, err
	}
	if j.CrawlTimestamp, err = decodeTime(crawled); err != nil {
		return j, err
	}
	if j.PostedDate, err = decodeTime(posted); err != nil {
		return j, err
	}
	return j, nil
}

func (s *SQL) listPostings(ctx context.Context, q querier, where string, args ...any) ([]jobs.JobPosting, error) {
	r, err := q.query(ctx, `SELECT `+postingColumns+` FROM postings `+where, args...)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []jobs.JobPosting
	for r.Next() {
		j, err := scanPosting(r)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, r.Err()
}

func (s *SQL) GetPosting(ctx context.Context, id string) (jobs.JobPosting, error) {
	return s.getPosting(ctx, s.db, id)
}

func (s *SQL) getPosting(ctx context.Context, q querier, id string) (jobs.JobPosting, error) {
	found, err := s.listPostings(ctx, q, `WHERE id = ?`, id)
	if err != nil {
		return jobs.JobPosting{}, err
	}
	if len(found) == 0 {
		return jobs.JobPosting{}, fmt.Errorf("posting %s: %w", id, jobs.ErrNotFound)
	}
	return found[0], nil
}

func (s *SQL) ListCanonical(ctx context.Context) ([]jobs.JobPosting, error) {
	return s.listPostings(ctx, s.db, `WHERE is_duplicate = 0 ORDER BY id`)
}

func (s *SQL) SetPostingStatus(ctx context.Context, id string, status jobs.PostingStatus) error {
	return s.db.tx(ctx, func(q querier) error {
		j, err := s.getPosting(ctx, q, id)
		if err != nil {
			return err
		}
		if err := j.Transition(status); err != nil {
			return err
		}
		_, err = q.exec(ctx, `UPDATE postings SET status = ? WHERE id = ?`, string(j.Status), id)
		return err
	})
}

func (s *SQL) ExpirePostings(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	err := s.db.tx(ctx, func(q querier) error {
		active, err := s.listPostings(ctx, q, `WHERE status = ?`, string(jobs.StatusActive))
		if err != nil {
			return err
		}
		for _, j := range active {
			if !expired(j, cutoff) {
				continue
			}
			if _, err := q.exec(ctx, `UPDATE postings SET status = ? WHERE id = ?`, string(jobs.StatusExpired), j.ID); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired postings", zap.Int("count", n))
	}
	return n, nil
}

const matchColumns = `user_id, job_id, similarity_score, rank_score, match_reasons, algorithm,
	match_level, matching_skills, missing_skills, cluster_id, bookmarked,
	application_status, application_error, computed_at`

const upsertMatch = `INSERT INTO matches (` + matchColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, job_id) DO UPDATE SET
		similarity_score = excluded.similarity_score,
		rank_score = excluded.rank_score,
		match_reasons = excluded.match_reasons,
		algorithm = excluded.algorithm,
		match_level = excluded.match_level,
		matching_skills = excluded.matching_skills,
		missing_skills = excluded.missing_skills,
		cluster_id = excluded.cluster_id,
		computed_at = excluded.computed_at`

func (s *SQL) SaveMatches(ctx context.Context, matches []jobs.MatchResult) error {
	for i := range matches {
		if err := matches[i].Validate(); err != nil {
			return err
		}
	}
	return s.db.tx(ctx, func(q querier) error {
		for _, m := range matches {
			status := m.ApplicationStatus
			if status == "" {
				status = jobs.AppNotApplied
			}
			_, err := q.exec(ctx, upsertMatch,
				m.UserID, m.JobID, m.SimilarityScore, m.RankScore, EncodeStrings(m.MatchReasons), m.Algorithm,
				m.MatchLevel, EncodeStrings(m.MatchingSkills), EncodeStrings(m.MissingSkills),
				int64(m.ClusterID), boolInt(m.Bookmarked), string(status), m.ApplicationError,
				encodeTime(m.ComputedAt),
			)
			if err != nil {
				return fmt.Errorf("saving match %s/%s: %w", m.UserID, m.JobID, err)
			}
		}
		return nil
	})
}

func scanMatch(r rows) (jobs.MatchResult, error) {
	var (
		m                                  jobs.MatchResult
		reasons, matching, missing, status string
		computed                           string
		cluster, bookmarked                int64
	)
	err := r.Scan(
		&m.UserID, &m.JobID, &m.SimilarityScore, &m.RankScore, &reasons, &m.Algorithm,
		&m.MatchLevel, &matching, &missing, &cluster, &bookmarked,
		&status, &m.ApplicationError, &computed,
	)
	if err != nil {
		return m, err
	}
	m.ClusterID = int(cluster)
	m.Bookmarked = bookmarked != 0
	m.ApplicationStatus = jobs.ApplicationStatus(status)
	if m.MatchReasons, err = DecodeStrings(reasons); err != nil {
		return m, err
	}
	if m.MatchingSkills, err = DecodeStrings(matching); err != nil {
		return m, err
	}
	if m.MissingSkills, err = DecodeStrings(missing); err != nil {
		return m, err
	}
	if m.ComputedAt, err = decodeTime(computed); err != nil {
		return m, err
	}
	return m, nil
}

func (s *SQL) GetMatch(ctx context.Context, userID, jobID string) (jobs.MatchResult, error) {
	r, err := s.db.query(ctx, `SELECT `+matchColumns+` FROM matches WHERE user_id = ? AND job_id = ?`, userID, jobID)
	if err != nil {
		return jobs.MatchResult{}, err
	}
	defer r.Close()

	if !r.Next() {
		if err := r.Err(); err != nil {
			return jobs.MatchResult{}, err
		}
		return jobs.MatchResult{}, fmt.Errorf("match %s/%s: %w", userID, jobID, jobs.ErrNotFound)
	}
	return scanMatch(r)
}

func (s *SQL) ListMatches(ctx context.Context, userID string, filter MatchFilter) ([]jobs.MatchResult, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE user_id = ?`
	args := []any{userID}
	if filter.Status != "" {
		query += ` AND application_status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.BookmarkedOnly {
		query += ` AND bookmarked = 1`
	}
	query += ` ORDER BY rank_score DESC, job_id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, int64(filter.Limit))
	}

	r, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []jobs.MatchResult
	for r.Next() {
		m, err := scanMatch(r)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, r.Err()
}

func (s *SQL) updateMatch(ctx context.Context, userID, jobID, set string, args ...any) error {
	args = append(args, userID, jobID)
	n, err := s.db.exec(ctx, `UPDATE matches SET `+set+` WHERE user_id = ? AND job_id = ?`, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("match %s/%s: %w", userID, jobID, jobs.ErrNotFound)
	}
	return nil
}

func (s *SQL) SetApplicationStatus(ctx context.Context, userID, jobID string, status jobs.ApplicationStatus, detail string) error {
	return s.updateMatch(ctx, userID, jobID, `application_status = ?, application_error = ?`, string(status), detail)
}

func (s *SQL) SetBookmark(ctx context.Context, userID, jobID string, bookmarked bool) error {
	return s.updateMatch(ctx, userID, jobID, `bookmarked = ?`, boolInt(bookmarked))
}

const upsertSource = `INSERT INTO sources
	(id, kind, rate_limit_per_window, window_ns, burst, is_active, last_crawled_at, jobs_found)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		kind = excluded.kind,
		rate_limit_per_window = excluded.rate_limit_per_window,
		window_ns = excluded.window_ns,
		burst = excluded.burst,
		is_active = excluded.is_active,
		last_crawled_at = excluded.last_crawled_at,
		jobs_found = excluded.jobs_found`

func (s *SQL) UpsertSource(ctx context.Context, cfg jobs.SourceConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("source id is empty")
	}
	_, err := s.db.exec(ctx, upsertSource,
		cfg.ID, string(cfg.Kind), int64(cfg.RateLimitPerWindow), int64(cfg.Window), int64(cfg.Burst),
		boolInt(cfg.IsActive), encodeTime(cfg.LastCrawledAt), int64(cfg.JobsFound),
	)
	return err
}

func (s *SQL) ListSources(ctx context.Context) ([]jobs.SourceConfig, error) {
	r, err := s.db.query(ctx, `SELECT id, kind, rate_limit_per_window, window_ns, burst, is_active,
		last_crawled_at, jobs_found FROM sources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []jobs.SourceConfig
	for r.Next() {
		var (
			cfg                             jobs.SourceConfig
			kind, crawled                   string
			limit, window, burst, active, n int64
		)
		if err := r.Scan(&cfg.ID, &kind, &limit, &window, &burst, &active, &crawled, &n); err != nil {
			return nil, err
		}
		cfg.Kind = jobs.SourceKind(kind)
		cfg.RateLimitPerWindow = int(limit)
		cfg.Window = time.Duration(window)
		cfg.Burst = int(burst)
		cfg.IsActive = active != 0
		cfg.JobsFound = int(n)
		if cfg.LastCrawledAt, err = decodeTime(crawled); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, r.Err()
}

func (s *SQL) ApplyCount(ctx context.Context, userID, day string) (int, error) {
	return countApplies(ctx, s.db, userID, day)
}

func (s *SQL) IncrementApplyCount(ctx context.Context, userID, day string) (int, error) {
	var n int
	err := s.db.tx(ctx, func(q querier) error {
		_, err := q.exec(ctx, `INSERT INTO apply_counts (user_id, day, applied) VALUES (?, ?, 1)
			ON CONFLICT (user_id, day) DO UPDATE SET applied = apply_counts.applied + 1`, userID, day)
		if err != nil {
			return err
		}
		n, err = countApplies(ctx, q, userID, day)
		return err
	})
	return n, err
}

func countApplies(ctx context.Context, q querier, userID, day string) (int, error) {
	r, err := q.query(ctx, `SELECT applied FROM apply_counts WHERE user_id = ? AND day = ?`, userID, day)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	if !r.Next() {
		return 0, r.Err()
	}
	var n int64
	if err := r.Scan(&n); err != nil {
		return 0, err
	}
	return int(n), nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
