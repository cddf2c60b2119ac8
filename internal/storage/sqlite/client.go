package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/control-tower/backend/internal/storage/models"
	"github.com/control-tower/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS person (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		role TEXT NOT NULL,
		department TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_person_status ON person(status);

	CREATE TABLE IF NOT EXISTS kpi (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		unit TEXT NOT NULL,
		direction TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS performance_event (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		kpi_name TEXT NOT NULL,
		value REAL NOT NULL,
		source TEXT NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (person_id) REFERENCES person(id)
	);
	CREATE INDEX IF NOT EXISTS idx_event_person_created ON performance_event(person_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_event_kpi ON performance_event(kpi_name);

	CREATE TABLE IF NOT EXISTS signal (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		level TEXT NOT NULL,
		reason TEXT NOT NULL,
		score_delta REAL,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (person_id) REFERENCES person(id)
	);
	CREATE INDEX IF NOT EXISTS idx_signal_person_created ON signal(person_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_signal_created ON signal(created_at);

	CREATE TABLE IF NOT EXISTS risk_score (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		score REAL NOT NULL,
		calculated_at INTEGER NOT NULL,
		FOREIGN KEY (person_id) REFERENCES person(id)
	);
	CREATE INDEX IF NOT EXISTS idx_risk_person_calculated ON risk_score(person_id, calculated_at);

	CREATE TABLE IF NOT EXISTS coaching_plan (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		objective TEXT NOT NULL,
		playbook TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (person_id) REFERENCES person(id)
	);
	CREATE INDEX IF NOT EXISTS idx_plan_person ON coaching_plan(person_id);

	CREATE TABLE IF NOT EXISTS release_case (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		evidence TEXT NOT NULL,
		risk_score REAL NOT NULL,
		decision TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		opened_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (person_id) REFERENCES person(id)
	);
	CREATE INDEX IF NOT EXISTS idx_case_person ON release_case(person_id);
	CREATE INDEX IF NOT EXISTS idx_case_status ON release_case(status);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// SeedKPIs installs the static KPI definition rows. Safe to call on every
// startup.
func (c *Client) SeedKPIs(kpis []models.KPI) error {
	query := `INSERT OR IGNORE INTO kpi (id, name, unit, direction) VALUES (?, ?, ?, ?)`

	for _, k := range kpis {
		_, err := c.db.Exec(query, k.ID, k.Name, k.Unit, k.Direction)
		if err != nil {
			return fmt.Errorf("failed to seed kpi %s: %w", k.Name, err)
		}
	}

	return nil
}

func (c *Client) ListKPIs() ([]models.KPI, error) {
	rows, err := c.db.Query(`SELECT id, name, unit, direction FROM kpi ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list kpis: %w", err)
	}
	defer rows.Close()

	var kpis []models.KPI
	for rows.Next() {
		var k models.KPI
		if err := rows.Scan(&k.ID, &k.Name, &k.Unit, &k.Direction); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		kpis = append(kpis, k)
	}

	return kpis, rows.Err()
}

func (c *Client) InsertPerson(p *models.Person) error {
	query := `INSERT INTO person (id, name, email, role, department, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := c.db.Exec(query, p.ID, p.Name, p.Email, p.Role, p.Department, p.Status, p.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert person: %w", err)
	}

	logger.Debug("Person inserted", zap.String("person_id", p.ID), zap.String("role", p.Role))
	return nil
}

func (c *Client) GetPerson(id string) (*models.Person, error) {
	query := `SELECT id, name, email, role, department, status, created_at FROM person WHERE id = ?`

	var p models.Person
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(&p.ID, &p.Name, &p.Email, &p.Role, &p.Department, &p.Status, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get person: %w", err)
	}

	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

func (c *Client) ListPeople() ([]models.Person, error) {
	return c.listPeople(`SELECT id, name, email, role, department, status, created_at FROM person ORDER BY name`)
}

func (c *Client) ListActivePeople() ([]models.Person, error) {
	return c.listPeople(`SELECT id, name, email, role, department, status, created_at FROM person WHERE status = 'active' ORDER BY name`)
}

func (c *Client) listPeople(query string) ([]models.Person, error) {
	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}
	defer rows.Close()

	var people []models.Person
	for rows.Next() {
		var p models.Person
		var createdAt int64

		err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Role, &p.Department, &p.Status, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		p.CreatedAt = time.Unix(createdAt, 0)
		people = append(people, p)
	}

	return people, rows.Err()
}

func (c *Client) InsertSignal(s *models.Signal) error {
	query := `INSERT INTO signal (id, person_id, level, reason, score_delta, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := c.db.Exec(query, s.ID, s.PersonID, s.Level, s.Reason, s.ScoreDelta, s.Metadata, s.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}

	logger.Debug("Signal inserted",
		zap.String("signal_id", s.ID),
		zap.String("person_id", s.PersonID),
		zap.String("level", s.Level),
	)
	return nil
}

func (c *Client) InsertSignals(signals []models.Signal) error {
	for i := range signals {
		if err := c.InsertSignal(&signals[i]); err != nil {
			return err
		}
	}
	return nil
}

// ListSignals returns signals joined with person display fields, optionally
// bounded by an inclusive date range. Level filtering and deduplication are
// the ranking engine's job, not the store's.
func (c *Client) ListSignals(from, until *time.Time) ([]models.Signal, error) {
	query := `
		SELECT s.id, s.person_id, p.name, s.level, s.reason, s.score_delta, s.metadata, s.created_at
		FROM signal s
		JOIN person p ON p.id = s.person_id
		WHERE 1=1
	`
	args := []interface{}{}

	if from != nil {
		query += " AND s.created_at >= ?"
		args = append(args, from.Unix())
	}
	if until != nil {
		query += " AND s.created_at <= ?"
		args = append(args, until.Unix())
	}
	query += " ORDER BY s.created_at DESC"

	return c.querySignals(query, args...)
}

func (c *Client) ListPersonSignals(personID string, limit int) ([]models.Signal, error) {
	query := `
		SELECT s.id, s.person_id, p.name, s.level, s.reason, s.score_delta, s.metadata, s.created_at
		FROM signal s
		JOIN person p ON p.id = s.person_id
		WHERE s.person_id = ?
		ORDER BY s.created_at DESC
		LIMIT ?
	`
	return c.querySignals(query, personID, limit)
}

func (c *Client) querySignals(query string, args ...interface{}) ([]models.Signal, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var s models.Signal
		var scoreDelta sql.NullFloat64
		var metadata sql.NullString
		var createdAt int64

		err := rows.Scan(&s.ID, &s.PersonID, &s.PersonName, &s.Level, &s.Reason, &scoreDelta, &metadata, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if scoreDelta.Valid {
			v := scoreDelta.Float64
			s.ScoreDelta = &v
		}
		s.Metadata = metadata.String
		s.CreatedAt = time.Unix(createdAt, 0)
		signals = append(signals, s)
	}

	return signals, rows.Err()
}

func (c *Client) InsertPerformanceEvent(e *models.PerformanceEvent) error {
	query := `INSERT INTO performance_event (id, person_id, kpi_name, value, source, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := c.db.Exec(query, e.ID, e.PersonID, e.KPIName, e.Value, e.Source, e.Metadata, e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert performance event: %w", err)
	}

	return nil
}

func (c *Client) InsertPerformanceEvents(events []models.PerformanceEvent) error {
	for i := range events {
		if err := c.InsertPerformanceEvent(&events[i]); err != nil {
			return err
		}
	}
	return nil
}

// KPIMeans returns the per-KPI mean of a person's observations since the
// given time.
func (c *Client) KPIMeans(personID string, since time.Time) (map[string]float64, error) {
	query := `
		SELECT kpi_name, AVG(value)
		FROM performance_event
		WHERE person_id = ? AND created_at >= ?
		GROUP BY kpi_name
	`

	rows, err := c.db.Query(query, personID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate kpi means: %w", err)
	}
	defer rows.Close()

	means := make(map[string]float64)
	for rows.Next() {
		var name string
		var mean float64
		if err := rows.Scan(&name, &mean); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		means[name] = mean
	}

	return means, rows.Err()
}

// SignalDeltaSums sums score_delta per person over signals created since the
// given time. People whose signals all carry a null delta are absent.
func (c *Client) SignalDeltaSums(since time.Time) (map[string]float64, error) {
	query := `
		SELECT person_id, SUM(score_delta)
		FROM signal
		WHERE created_at >= ? AND score_delta IS NOT NULL
		GROUP BY person_id
	`

	rows, err := c.db.Query(query, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to sum signal deltas: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]float64)
	for rows.Next() {
		var personID string
		var sum float64
		if err := rows.Scan(&personID, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sums[personID] = sum
	}

	return sums, rows.Err()
}

func (c *Client) InsertRiskScore(r *models.RiskScore) error {
	query := `INSERT INTO risk_score (id, person_id, score, calculated_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(query, r.ID, r.PersonID, r.Score, r.CalculatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert risk score: %w", err)
	}

	logger.Debug("Risk score recorded",
		zap.String("person_id", r.PersonID),
		zap.Float64("score", r.Score),
	)
	return nil
}

// CurrentRiskScore returns the latest snapshot for a person. The second
// return value is false when no snapshot exists yet.
func (c *Client) CurrentRiskScore(personID string) (float64, bool, error) {
	query := `
		SELECT score FROM risk_score
		WHERE person_id = ?
		ORDER BY calculated_at DESC, id DESC
		LIMIT 1
	`

	var score float64
	err := c.db.QueryRow(query, personID).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get current risk score: %w", err)
	}

	return score, true, nil
}

func (c *Client) CreateCoachingPlan(p *models.CoachingPlan) error {
	query := `INSERT INTO coaching_plan (id, person_id, objective, playbook, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := c.db.Exec(query, p.ID, p.PersonID, p.Objective, p.Playbook, p.Status, p.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create coaching plan: %w", err)
	}

	logger.Info("Coaching plan created",
		zap.String("plan_id", p.ID),
		zap.String("person_id", p.PersonID),
	)
	return nil
}

func (c *Client) ListCoachingPlans(personID string) ([]models.CoachingPlan, error) {
	query := `
		SELECT id, person_id, objective, playbook, status, created_at
		FROM coaching_plan
		WHERE person_id = ?
		ORDER BY created_at DESC
	`

	rows, err := c.db.Query(query, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to list coaching plans: %w", err)
	}
	defer rows.Close()

	var plans []models.CoachingPlan
	for rows.Next() {
		var p models.CoachingPlan
		var playbook sql.NullString
		var createdAt int64

		err := rows.Scan(&p.ID, &p.PersonID, &p.Objective, &playbook, &p.Status, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		p.Playbook = playbook.String
		p.CreatedAt = time.Unix(createdAt, 0)
		plans = append(plans, p)
	}

	return plans, rows.Err()
}

// CompleteCoachingPlan moves an active plan to completed. The transition is
// one-way; completing a plan that is not active is an error.
func (c *Client) CompleteCoachingPlan(planID string) (*models.CoachingPlan, error) {
	res, err := c.db.Exec(
		`UPDATE coaching_plan SET status = ? WHERE id = ? AND status = ?`,
		models.PlanCompleted, planID, models.PlanActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to complete coaching plan: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("coaching plan %s is not active", planID)
	}

	query := `SELECT id, person_id, objective, playbook, status, created_at FROM coaching_plan WHERE id = ?`

	var p models.CoachingPlan
	var playbook sql.NullString
	var createdAt int64

	err = c.db.QueryRow(query, planID).Scan(&p.ID, &p.PersonID, &p.Objective, &playbook, &p.Status, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to reload coaching plan: %w", err)
	}

	p.Playbook = playbook.String
	p.CreatedAt = time.Unix(createdAt, 0)

	logger.Info("Coaching plan completed", zap.String("plan_id", planID))
	return &p, nil
}

func (c *Client) CreateReleaseCase(rc *models.ReleaseCase) error {
	query := `
		INSERT INTO release_case (id, person_id, reason, evidence, risk_score, decision, status, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		rc.ID,
		rc.PersonID,
		rc.Reason,
		rc.Evidence,
		rc.RiskScore,
		rc.Decision,
		rc.Status,
		rc.OpenedAt.Unix(),
		rc.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create release case: %w", err)
	}

	logger.Info("Release case created",
		zap.String("case_id", rc.ID),
		zap.String("person_id", rc.PersonID),
		zap.String("decision", rc.Decision),
	)
	return nil
}

func (c *Client) GetReleaseCase(id string) (*models.ReleaseCase, error) {
	query := `
		SELECT id, person_id, reason, evidence, risk_score, decision, status, opened_at, updated_at
		FROM release_case WHERE id = ?
	`

	var rc models.ReleaseCase
	var openedAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&rc.ID, &rc.PersonID, &rc.Reason, &rc.Evidence, &rc.RiskScore,
		&rc.Decision, &rc.Status, &openedAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get release case: %w", err)
	}

	rc.OpenedAt = time.Unix(openedAt, 0)
	rc.UpdatedAt = time.Unix(updatedAt, 0)
	return &rc, nil
}

// TransitionReleaseCase advances a case's status. The guard on the current
// status keeps the open -> approved -> executed ladder monotonic even under
// concurrent operators.
func (c *Client) TransitionReleaseCase(id, from, to string) error {
	res, err := c.db.Exec(
		`UPDATE release_case SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().Unix(), id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to transition release case: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("release case %s is not in status %s", id, from)
	}

	logger.Info("Release case transitioned",
		zap.String("case_id", id),
		zap.String("from", from),
		zap.String("to", to),
	)
	return nil
}
