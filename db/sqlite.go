package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mansingh-04/prooback/ml"
)

var database *sql.DB

var ErrNotInitialized = errors.New("database not initialized")

// InitDB opens the SQLite database at path and creates the tables.
func InitDB(path string) error {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	// sqlite allows one writer; a single connection also keeps ":memory:" databases coherent.
	conn.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        html_sha256 TEXT NOT NULL,
        user_score REAL NOT NULL,
        old_score REAL NOT NULL,
        new_score REAL NOT NULL,
        model_updated BOOLEAN NOT NULL,
        model_version INTEGER NOT NULL,
        features TEXT NOT NULL,
        feedback TEXT,
        trained_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_training_log_trained_at ON training_log(trained_at);
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        html_sha256 TEXT NOT NULL,
        source TEXT NOT NULL,
        score REAL NOT NULL,
        model_version INTEGER NOT NULL,
        predicted_at DATETIME NOT NULL
    );
    `
	if _, err := conn.Exec(query); err != nil {
		conn.Close()
		return err
	}
	if database != nil {
		database.Close()
	}
	database = conn
	return nil
}

func Close() error {
	if database == nil {
		return nil
	}
	err := database.Close()
	database = nil
	return err
}

// TrainingEvent is one applied (or attempted) feedback submission.
type TrainingEvent struct {
	ID           int64            `json:"id"`
	HTMLSHA256   string           `json:"html_sha256"`
	UserScore    float64          `json:"user_score"`
	OldScore     float64          `json:"old_score"`
	NewScore     float64          `json:"new_score"`
	ModelUpdated bool             `json:"model_updated"`
	ModelVersion int64            `json:"model_version"`
	Features     ml.FeatureVector `json:"features"`
	Feedback     *ml.Feedback     `json:"feedback,omitempty"`
	TrainedAt    time.Time        `json:"trained_at"`
}

func SaveTrainingEvent(ev TrainingEvent) (int64, error) {
	if database == nil {
		return 0, ErrNotInitialized
	}
	features, err := json.Marshal(ev.Features)
	if err != nil {
		return 0, err
	}
	var feedback sql.NullString
	if !ev.Feedback.IsEmpty() {
		raw, err := json.Marshal(ev.Feedback)
		if err != nil {
			return 0, err
		}
		feedback = sql.NullString{String: string(raw), Valid: true}
	}
	if ev.TrainedAt.IsZero() {
		ev.TrainedAt = time.Now().UTC()
	}

	res, err := database.Exec(`
        INSERT INTO training_log (
            html_sha256, user_score, old_score, new_score, model_updated, model_version, features, feedback, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.HTMLSHA256, ev.UserScore, ev.OldScore, ev.NewScore, ev.ModelUpdated, ev.ModelVersion,
		string(features), feedback, ev.TrainedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LoadTrainingLog returns up to limit events, newest first. limit <= 0 returns everything.
func LoadTrainingLog(limit int) ([]TrainingEvent, error) {
	return queryTrainingLog("DESC", limit)
}

// LoadTrainingReplay returns every event in the order it was applied.
func LoadTrainingReplay() ([]TrainingEvent, error) {
	return queryTrainingLog("ASC", 0)
}

func queryTrainingLog(order string, limit int) ([]TrainingEvent, error) {
	if database == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := database.Query(fmt.Sprintf(`
        SELECT id, html_sha256, user_score, old_score, new_score, model_updated, model_version, features, feedback, trained_at
        FROM training_log
        ORDER BY id %s
        LIMIT ?`, order), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]TrainingEvent, 0)
	for rows.Next() {
		var ev TrainingEvent
		var features string
		var feedback sql.NullString
		if err := rows.Scan(&ev.ID, &ev.HTMLSHA256, &ev.UserScore, &ev.OldScore, &ev.NewScore, &ev.ModelUpdated,
			&ev.ModelVersion, &features, &feedback, &ev.TrainedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(features), &ev.Features); err != nil {
			return nil, fmt.Errorf("training_log %d features: %w", ev.ID, err)
		}
		if feedback.Valid {
			ev.Feedback = &ml.Feedback{}
			if err := json.Unmarshal([]byte(feedback.String), ev.Feedback); err != nil {
				return nil, fmt.Errorf("training_log %d feedback: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Prediction is one served score.
type Prediction struct {
	ID           int64     `json:"id"`
	HTMLSHA256   string    `json:"html_sha256"`
	Source       string    `json:"source"`
	Score        float64   `json:"score"`
	ModelVersion int64     `json:"model_version"`
	PredictedAt  time.Time `json:"predicted_at"`
}

func SavePrediction(p Prediction) error {
	if database == nil {
		return ErrNotInitialized
	}
	if p.PredictedAt.IsZero() {
		p.PredictedAt = time.Now().UTC()
	}
	_, err := database.Exec(`
        INSERT INTO predictions (html_sha256, source, score, model_version, predicted_at)
        VALUES (?, ?, ?, ?, ?)`,
		p.HTMLSHA256, p.Source, p.Score, p.ModelVersion, p.PredictedAt)
	return err
}

// LoadPredictions returns up to limit predictions, newest first.
func LoadPredictions(limit int) ([]Prediction, error) {
	if database == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := database.Query(`
        SELECT id, html_sha256, source, score, model_version, predicted_at
        FROM predictions
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	predictions := make([]Prediction, 0)
	for rows.Next() {
		var p Prediction
		if err := rows.Scan(&p.ID, &p.HTMLSHA256, &p.Source, &p.Score, &p.ModelVersion, &p.PredictedAt); err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}
