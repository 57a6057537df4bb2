package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mansingh-04/prooback/db"
	"github.com/mansingh-04/prooback/ml"
)

// userScore 接受 JSON 数字或数字字符串
type userScore struct {
	value float64
	set   bool
}

func (s *userScore) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			return &ml.InputError{Field: "user_score", Reason: fmt.Sprintf("%q is not a number", str)}
		}
		s.value, s.set = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return &ml.InputError{Field: "user_score", Reason: "must be a number"}
	}
	s.value, s.set = v, true
	return nil
}

type trainRequest struct {
	HTML         *string         `json:"html"`
	UserScore    userScore       `json:"user_score"`
	UserFeedback json.RawMessage `json:"user_feedback"`
}

type trainResponse struct {
	Success      bool    `json:"success"`
	Message      string  `json:"message"`
	OldScore     float64 `json:"old_score"`
	NewScore     float64 `json:"new_score"`
	ModelUpdated bool    `json:"model_updated"`
	ModelVersion int64   `json:"model_version"`
	Error        string  `json:"error,omitempty"`
}

func handleTrainModel(w http.ResponseWriter, r *http.Request) {
	if engine == nil {
		respondError(w, http.StatusServiceUnavailable, "scoring engine not initialized")
		return
	}

	var req trainRequest
	if err := decodeJSON(r, &req); err != nil {
		var ie *ml.InputError
		if errors.As(err, &ie) {
			respondError(w, http.StatusBadRequest, ie.Error())
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.HTML == nil || !req.UserScore.set {
		respondError(w, http.StatusBadRequest, "Missing required fields: html and user_score")
		return
	}

	feedback := parseFeedback(req.UserFeedback)
	res, err := engine.TrainFromUserData(*req.HTML, req.UserScore.value, feedback)
	if metrics != nil {
		metrics.ObserveTraining(res, err)
	}

	switch {
	case ml.IsInputError(err):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case ml.IsPersistenceError(err):
		logTrainingEvent(*req.HTML, req.UserScore.value, feedback, res)
		respondJSON(w, http.StatusInternalServerError, trainResponse{
			Success:      false,
			Message:      "Model update was computed but could not be saved",
			OldScore:     res.OldScore,
			NewScore:     res.NewScore,
			ModelUpdated: false,
			ModelVersion: res.ModelVersion,
			Error:        err.Error(),
		})
		return
	case err != nil:
		logger.Error("training failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logTrainingEvent(*req.HTML, req.UserScore.value, feedback, res)
	if performance != nil {
		performance.RecordTraining(req.UserScore.value, res)
	}

	msg := "Model trained successfully"
	if !res.ModelUpdated {
		msg = "Model already predicts this score; no update needed"
	}
	respondJSON(w, http.StatusOK, trainResponse{
		Success:      true,
		Message:      msg,
		OldScore:     res.OldScore,
		NewScore:     res.NewScore,
		ModelUpdated: res.ModelUpdated,
		ModelVersion: res.ModelVersion,
	})
}

// parseFeedback 解析可选的反馈，格式错误时丢弃
func parseFeedback(raw json.RawMessage) *ml.Feedback {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	var fb ml.Feedback
	if err := json.Unmarshal(raw, &fb); err != nil {
		logger.Warn("dropping malformed user_feedback", zap.Error(err))
		return nil
	}
	if err := fb.Validate(); err != nil {
		logger.Warn("dropping invalid user_feedback", zap.Error(err))
		return nil
	}
	return &fb
}

func logTrainingEvent(html string, label float64, feedback *ml.Feedback, res *ml.TrainResult) {
	if res == nil {
		return
	}
	_, err := saveTrainingEvent(db.TrainingEvent{
		HTMLSHA256:   ml.ContentHash(html),
		UserScore:    label,
		OldScore:     res.OldScore,
		NewScore:     res.NewScore,
		ModelUpdated: res.ModelUpdated,
		ModelVersion: res.ModelVersion,
		Features:     res.Features,
		Feedback:     feedback,
	})
	if err != nil {
		logger.Warn("training event not logged", zap.Error(err))
	}
}
