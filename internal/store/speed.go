package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// TimestampLayout is the stored form of log_timestamp. It sorts lexically.
const TimestampLayout = "2006-01-02 15:04:05"

// SpeedRecord is one completed vehicle measurement.
type SpeedRecord struct {
	ID           string    `json:"id"`
	LogTimestamp time.Time `json:"log_timestamp"`
	Camera       string    `json:"camera"`
	AveSpeed     float64   `json:"ave_speed"`
	StdDev       float64   `json:"speed_stddev"`
	SpeedUnits   string    `json:"speed_units"`
	ImagePath    string    `json:"image_path"`
	ImageW       int       `json:"image_w"`
	ImageH       int       `json:"image_h"`
	ImageBigger  float64   `json:"image_bigger"`
	Direction    string    `json:"direction"`
	OverlayName  string    `json:"overlay_name"`
	CX           int       `json:"cx"`
	CY           int       `json:"cy"`
	MW           int       `json:"mw"`
	MH           int       `json:"mh"`
	MArea        int       `json:"m_area"`
	XLeft        int       `json:"x_left"`
	XRight       int       `json:"x_right"`
	YUpper       int       `json:"y_upper"`
	YLower       int       `json:"y_lower"`
	MaxSpeedOver float64   `json:"max_speed_over"`
	MinArea      int       `json:"min_area"`
	TrackCounter int       `json:"track_counter"`
	CalObjPx     int       `json:"cal_obj_px"`
	CalObjMM     int       `json:"cal_obj_mm"`
	Status       string    `json:"status"`
	Location     string    `json:"cam_location"`
	TrackID      uint64    `json:"track_id"`
	Samples      int       `json:"samples"`
	DistancePx   int       `json:"distance_px"`
	DurationS    float64   `json:"duration_s"`
	CreatedAt    time.Time `json:"created_at"`
}

const speedColumns = `id, log_timestamp, camera, ave_speed, speed_stddev, speed_units, image_path,
	image_w, image_h, image_bigger, direction, overlay_name, cx, cy, mw, mh, m_area,
	x_left, x_right, y_upper, y_lower, max_speed_over, min_area, track_counter,
	cal_obj_px, cal_obj_mm, status, cam_location, track_id, samples, distance_px,
	duration_s, created_at`

// SpeedRepository provides operations on speed records.
type SpeedRepository struct {
	db *sql.DB
}

// Speeds returns the speed repository for this store.
func (s *Store) Speeds() *SpeedRepository {
	return &SpeedRepository{db: s.db}
}

// Create inserts a new speed record. An empty ID is filled with a new UUID.
func (r *SpeedRepository) Create(rec *SpeedRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.LogTimestamp.IsZero() {
		rec.LogTimestamp = time.Now()
	}
	rec.CreatedAt = time.Now()

	_, err := r.db.Exec(
		`INSERT INTO speed (`+speedColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.LogTimestamp.Format(TimestampLayout), rec.Camera, rec.AveSpeed, rec.StdDev,
		rec.SpeedUnits, rec.ImagePath, rec.ImageW, rec.ImageH, rec.ImageBigger, rec.Direction,
		rec.OverlayName, rec.CX, rec.CY, rec.MW, rec.MH, rec.MArea, rec.XLeft, rec.XRight,
		rec.YUpper, rec.YLower, rec.MaxSpeedOver, rec.MinArea, rec.TrackCounter, rec.CalObjPx,
		rec.CalObjMM, rec.Status, rec.Location, int64(rec.TrackID), rec.Samples, rec.DistancePx,
		rec.DurationS, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert speed record: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSpeed(row scanner) (*SpeedRecord, error) {
	rec := &SpeedRecord{}
	var ts string
	var trackID int64
	err := row.Scan(&rec.ID, &ts, &rec.Camera, &rec.AveSpeed, &rec.StdDev, &rec.SpeedUnits,
		&rec.ImagePath, &rec.ImageW, &rec.ImageH, &rec.ImageBigger, &rec.Direction,
		&rec.OverlayName, &rec.CX, &rec.CY, &rec.MW, &rec.MH, &rec.MArea, &rec.XLeft,
		&rec.XRight, &rec.YUpper, &rec.YLower, &rec.MaxSpeedOver, &rec.MinArea,
		&rec.TrackCounter, &rec.CalObjPx, &rec.CalObjMM, &rec.Status, &rec.Location,
		&trackID, &rec.Samples, &rec.DistancePx, &rec.DurationS, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.TrackID = uint64(trackID)
	rec.LogTimestamp, err = time.ParseInLocation(TimestampLayout, ts, time.Local)
	if err != nil {
		return nil, fmt.Errorf("parse log_timestamp %q: %w", ts, err)
	}
	return rec, nil
}

// GetByID retrieves a speed record by its ID.
func (r *SpeedRepository) GetByID(id string) (*SpeedRecord, error) {
	rec, err := scanSpeed(r.db.QueryRow(`SELECT `+speedColumns+` FROM speed WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListOptions filters List. Zero values disable a filter.
type ListOptions struct {
	Since     time.Time
	Until     time.Time
	Direction string
	MinSpeed  float64
	Limit     int
}

// List returns speed records matching opts, newest first.
func (r *SpeedRepository) List(opts ListOptions) ([]*SpeedRecord, error) {
	where, args := opts.filter()
	query := `SELECT ` + speedColumns + ` FROM speed` + where + ` ORDER BY log_timestamp DESC, created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*SpeedRecord
	for rows.Next() {
		rec, err := scanSpeed(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (o ListOptions) filter() (string, []any) {
	var clauses []string
	var args []any
	if !o.Since.IsZero() {
		clauses = append(clauses, "log_timestamp >= ?")
		args = append(args, o.Since.Format(TimestampLayout))
	}
	if !o.Until.IsZero() {
		clauses = append(clauses, "log_timestamp < ?")
		args = append(args, o.Until.Format(TimestampLayout))
	}
	if o.Direction != "" {
		clauses = append(clauses, "direction = ?")
		args = append(args, o.Direction)
	}
	if o.MinSpeed > 0 {
		clauses = append(clauses, "ave_speed >= ?")
		args = append(args, o.MinSpeed)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// UpdateStatus sets the status column of a record, as written by event hooks.
func (r *SpeedRepository) UpdateStatus(id, status string) error {
	result, err := r.db.Exec(`UPDATE speed SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a speed record by its ID.
func (r *SpeedRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM speed WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Group is a summary bucket granularity.
type Group string

const (
	// GroupHour buckets by hour of day (00..23) across all days in range.
	GroupHour Group = "hour"
	// GroupDay buckets by calendar date.
	GroupDay Group = "day"
	// GroupMonth buckets by calendar month.
	GroupMonth Group = "month"
)

// ParseGroup converts a string to a Group.
func ParseGroup(s string) (Group, error) {
	switch g := Group(strings.ToLower(s)); g {
	case GroupHour, GroupDay, GroupMonth:
		return g, nil
	}
	return "", fmt.Errorf("invalid group %q: must be hour, day or month", s)
}

// bucketExpr returns the SQL expression extracting the bucket key from log_timestamp.
func (g Group) bucketExpr() string {
	switch g {
	case GroupHour:
		return "substr(log_timestamp, 12, 2)"
	case GroupMonth:
		return "substr(log_timestamp, 1, 7)"
	default:
		return "substr(log_timestamp, 1, 10)"
	}
}

// SummaryOptions selects records for Summary.
type SummaryOptions struct {
	Group    Group
	Days     int
	MinSpeed float64
	Now      time.Time
}

// SummaryBucket aggregates the records of one bucket.
type SummaryBucket struct {
	Bucket   string  `json:"bucket"`
	Count    int     `json:"count"`
	AvgSpeed float64 `json:"avg_speed"`
	MaxSpeed float64 `json:"max_speed"`
}

// Summary counts and averages speeds per bucket over the last opts.Days days,
// considering only records at or above opts.MinSpeed. Buckets are sorted by key.
func (r *SpeedRepository) Summary(opts SummaryOptions) ([]SummaryBucket, error) {
	if opts.Group == "" {
		opts.Group = GroupDay
	}
	if _, err := ParseGroup(string(opts.Group)); err != nil {
		return nil, err
	}
	lo := ListOptions{MinSpeed: opts.MinSpeed}
	if opts.Days > 0 {
		now := opts.Now
		if now.IsZero() {
			now = time.Now()
		}
		lo.Since = now.AddDate(0, 0, -opts.Days)
	}
	where, args := lo.filter()
	expr := opts.Group.bucketExpr()

	rows, err := r.db.Query(
		`SELECT `+expr+` AS bucket, COUNT(*), AVG(ave_speed), MAX(ave_speed)
		 FROM speed`+where+` GROUP BY bucket ORDER BY bucket`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []SummaryBucket
	for rows.Next() {
		var b SummaryBucket
		if err := rows.Scan(&b.Bucket, &b.Count, &b.AvgSpeed, &b.MaxSpeed); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return buckets, nil
}
