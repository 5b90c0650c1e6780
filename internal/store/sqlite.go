package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nvandessel/quicksim/internal/binning"
	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/weights"
	_ "modernc.org/sqlite" // SQLite driver
)

// DefaultFile is the database file name inside an output directory.
const DefaultFile = "quicksim.db"

// ErrRunNotFound is returned when a run id has no stored run.
var ErrRunNotFound = errors.New("run not found")

// RunInfo describes one stored pipeline run.
type RunInfo struct {
	ID                  string              `json:"id"`
	CreatedAt           time.Time           `json:"created_at"`
	Scheme              string              `json:"scheme"`
	EnergyConfig        string              `json:"energy_config"`
	Analysis            string              `json:"analysis"`
	WeightMode          string              `json:"weight_mode"`
	Resolution          string              `json:"resolution,omitempty"`
	TotalCrossSection   float64             `json:"total_cross_section"`
	SimulatedLuminosity float64             `json:"simulated_luminosity"`
	EventsRead          int64               `json:"events_read"`
	EntriesAdded        int64               `json:"entries_added"`
	EntriesDropped      int64               `json:"entries_dropped"`
	Dimensions          []binning.Dimension `json:"dimensions,omitempty"`
}

// SQLiteRunStore stores runs, their binned tables and weight tables.
// It is safe for concurrent use.
type SQLiteRunStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// Open opens or creates the database at path and initializes its schema.
func Open(path string) (*SQLiteRunStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRunStore{db: db, dbPath: path}, nil
}

// Path returns the database file path.
func (s *SQLiteRunStore) Path() string { return s.dbPath }

// Close closes the database.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}

// SaveRun stores a run with its binned rows and interval weights in one
// transaction. An empty info.ID gets a fresh UUID. Returns the run id.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, info RunInfo, rows []binning.Row, intervals []weights.IntervalWeight) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, scheme, energy_config, analysis, weight_mode, resolution,
			total_cross_section, simulated_luminosity, events_read, entries_added, entries_dropped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.CreatedAt.Format(time.RFC3339Nano), info.Scheme, info.EnergyConfig, info.Analysis,
		info.WeightMode, info.Resolution, info.TotalCrossSection, info.SimulatedLuminosity,
		info.EventsRead, info.EntriesAdded, info.EntriesDropped); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for i, d := range info.Dimensions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dimensions (run_id, position, name, branch_true, branch_reco) VALUES (?, ?, ?, ?, ?)`,
			info.ID, i, d.Name, d.BranchTrue, d.BranchReco); err != nil {
			return "", fmt.Errorf("failed to insert dimension %s: %w", d.Name, err)
		}
	}

	binStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bins (run_id, position, bin_key, mins, maxs, scaled_events) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare bin insert: %w", err)
	}
	defer binStmt.Close()

	for i, r := range rows {
		if _, err := binStmt.ExecContext(ctx, info.ID, i, binning.Key(r.Bins), joinEdges(r.Min), joinEdges(r.Max), r.Count); err != nil {
			return "", fmt.Errorf("failed to insert bin %d: %w", i, err)
		}
	}

	for _, iv := range intervals {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO interval_weights (run_id, q2_min, q2_max, collision_type, events, cross_section_pb, weight)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			info.ID, iv.Q2Min, iv.Q2Max, string(iv.Collision), iv.Events, iv.CrossSection, iv.Weight); err != nil {
			return "", fmt.Errorf("failed to insert interval [%g, %g]: %w", iv.Q2Min, iv.Q2Max, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return info.ID, nil
}

// GetRun loads a run's metadata and dimensions.
func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, scheme, energy_config, analysis, weight_mode, COALESCE(resolution, ''),
			COALESCE(total_cross_section, 0), COALESCE(simulated_luminosity, 0),
			events_read, entries_added, entries_dropped
		FROM runs WHERE id = ?`, id)
	info, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	dims, err := s.db.QueryContext(ctx,
		`SELECT name, COALESCE(branch_true, ''), COALESCE(branch_reco, '') FROM dimensions WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return RunInfo{}, fmt.Errorf("failed to load dimensions: %w", err)
	}
	defer dims.Close()
	for dims.Next() {
		var d binning.Dimension
		if err := dims.Scan(&d.Name, &d.BranchTrue, &d.BranchReco); err != nil {
			return RunInfo{}, fmt.Errorf("failed to scan dimension: %w", err)
		}
		info.Dimensions = append(info.Dimensions, d)
	}
	return info, dims.Err()
}

// ListRuns returns every run, newest first, without dimensions.
func (s *SQLiteRunStore) ListRuns(ctx context.Context) ([]RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, scheme, energy_config, analysis, weight_mode, COALESCE(resolution, ''),
			COALESCE(total_cross_section, 0), COALESCE(simulated_luminosity, 0),
			events_read, entries_added, entries_dropped
		FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunInfo, error) {
	var info RunInfo
	var created string
	if err := sc.Scan(&info.ID, &created, &info.Scheme, &info.EnergyConfig, &info.Analysis, &info.WeightMode,
		&info.Resolution, &info.TotalCrossSection, &info.SimulatedLuminosity,
		&info.EventsRead, &info.EntriesAdded, &info.EntriesDropped); err != nil {
		return RunInfo{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return RunInfo{}, fmt.Errorf("bad created_at %q: %w", created, err)
	}
	info.CreatedAt = t
	return info, nil
}

// LoadBins returns a run's binned rows in their stored order.
func (s *SQLiteRunStore) LoadBins(ctx context.Context, id string) ([]binning.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT bin_key, mins, maxs, scaled_events FROM bins WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load bins: %w", err)
	}
	defer rows.Close()

	var out []binning.Row
	for rows.Next() {
		var key, mins, maxs string
		var r binning.Row
		if err := rows.Scan(&key, &mins, &maxs, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan bin: %w", err)
		}
		if r.Bins, err = splitKey(key); err != nil {
			return nil, err
		}
		if r.Min, err = splitEdges(mins); err != nil {
			return nil, err
		}
		if r.Max, err = splitEdges(maxs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadIntervals returns a run's interval weights in ascending Q2 order.
func (s *SQLiteRunStore) LoadIntervals(ctx context.Context, id string) ([]weights.IntervalWeight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT q2_min, q2_max, collision_type, events, cross_section_pb, weight
		FROM interval_weights WHERE run_id = ? ORDER BY q2_min, q2_max DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load interval weights: %w", err)
	}
	defer rows.Close()

	var out []weights.IntervalWeight
	for rows.Next() {
		var iv weights.IntervalWeight
		var collision string
		if err := rows.Scan(&iv.Q2Min, &iv.Q2Max, &collision, &iv.Events, &iv.CrossSection, &iv.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan interval weight: %w", err)
		}
		iv.Collision = constants.CollisionType(collision)
		out = append(out, iv)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and everything stored with it.
func (s *SQLiteRunStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

func joinEdges(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		if math.IsNaN(v) {
			parts[i] = constants.MissingEdge
			continue
		}
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func splitEdges(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		if p == constants.MissingEdge {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("bad stored edge %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func splitKey(key string) ([]int, error) {
	if key == "" {
		return nil, nil
	}
	parts := strings.Split(key, constants.BinKeySeparator)
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad stored bin key %q: %w", key, err)
		}
		out[i] = n
	}
	return out, nil
}
