package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yangwenmai/oracle-avs/internal/condition"
	"github.com/yangwenmai/oracle-avs/internal/model"
	"github.com/yangwenmai/oracle-avs/internal/proofstore"
)

// CreateRequest describes a new prediction market.
type CreateRequest struct {
	InputString      string
	EndTime          time.Time // zero means now + model.DefaultPredictionWindow
	TaskDefinitionID int
}

// NewPredictionID returns a fresh "pred_" id.
func NewPredictionID() string {
	return "pred_" + uuid.NewString()
}

// Create parses the request, publishes the new record on its own and
// appends it with the record's reference in PredictionCID.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (model.Prediction, error) {
	tmpl, err := condition.Parse(req.InputString)
	if err != nil {
		return model.Prediction{}, err
	}

	p := model.NewPrediction(NewPredictionID(), tmpl.Condition, req.InputString, req.EndTime, req.TaskDefinitionID)
	cid, err := proofstore.Publish(ctx, r.blobs, p)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("publish prediction: %w", err)
	}
	p.PredictionCID = cid

	if err := r.Append(ctx, p); err != nil {
		return model.Prediction{}, err
	}
	r.logger.Info("prediction created", "prediction_id", p.ID, "prediction_cid", cid, "end_time", p.EndTime)
	return p, nil
}
