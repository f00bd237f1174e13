package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yangwenmai/oracle-avs/internal/model"
	"github.com/yangwenmai/oracle-avs/internal/registry"
)

// maxEchoedInput caps the inputString echoed back in a vote.
const maxEchoedInput = 100

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ---------------------------------------------------------------------------
// POST /api/predictions
// ---------------------------------------------------------------------------

type createPredictionRequest struct {
	InputString      string `json:"inputString"`
	EndTime          string `json:"endTime"` // RFC 3339; empty means now + 24h
	TaskDefinitionID int    `json:"taskDefinitionId"`
}

func (s *Server) handleCreatePrediction(c *gin.Context) {
	var req createPredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.InputString) == "" {
		writeError(c, http.StatusBadRequest, "inputString is required")
		return
	}

	var end time.Time
	if req.EndTime != "" {
		t, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			writeError(c, http.StatusBadRequest, "endTime must be RFC 3339")
			return
		}
		end = t
	}

	p, err := s.predictions.Create(c.Request.Context(), registry.CreateRequest{
		InputString:      req.InputString,
		EndTime:          end,
		TaskDefinitionID: req.TaskDefinitionID,
	})
	if err != nil {
		s.logger.Warn("create prediction failed", "error", err)
		writeError(c, statusFor(err), err.Error())
		return
	}

	c.JSON(http.StatusCreated, p)
}

// ---------------------------------------------------------------------------
// GET /api/predictions
// ---------------------------------------------------------------------------

func (s *Server) handleListPredictions(c *gin.Context) {
	preds, err := s.predictions.List(c.Request.Context())
	if err != nil {
		writeError(c, statusFor(err), "failed to list predictions")
		return
	}
	if status := c.Query("status"); status != "" {
		var filtered []model.Prediction
		for _, p := range preds {
			if p.Status == status {
				filtered = append(filtered, p)
			}
		}
		preds = filtered
	}
	if preds == nil {
		preds = []model.Prediction{}
	}
	c.JSON(http.StatusOK, gin.H{"predictions": preds})
}

// ---------------------------------------------------------------------------
// GET /api/predictions/:id
// ---------------------------------------------------------------------------

func (s *Server) handleGetPrediction(c *gin.Context) {
	p, err := s.predictions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, statusFor(err), err.Error())
		return
	}
	c.JSON(http.StatusOK, p)
}

// ---------------------------------------------------------------------------
// POST /api/validate
// ---------------------------------------------------------------------------

type validateRequest struct {
	ProofOfTask string `json:"proofOfTask"`
}

func (s *Server) handleValidate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProofOfTask == "" {
		writeError(c, http.StatusBadRequest, "proofOfTask is required")
		return
	}

	vote := s.validator.Validate(c.Request.Context(), req.ProofOfTask)
	vote.InputString = truncate(vote.InputString, maxEchoedInput)
	c.JSON(http.StatusOK, vote)
}

// truncate cuts s to n runes and marks it with "...". Empty stays empty.
func truncate(s string, n int) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r) + "..."
}
