package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"tripvote/pkg/domain"
	"tripvote/pkg/placeref"
)

// Outcome is the result of one generation run.
type Outcome struct {
	GenerationID string         `json:"generationId"`
	Routes       []domain.Route `json:"routes"`
	Fallback     bool           `json:"fallback"`
	Stage        string         `json:"stage,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

var errNoPipeline = errors.New("no generation provider configured")

// Generator runs the pipeline and falls back to the catalog when it fails.
type Generator struct {
	pipeline *Pipeline
	fallback *Fallback
	places   placeref.PlaceStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewGenerator builds a generator. A nil pipeline always uses the fallback.
func NewGenerator(pipeline *Pipeline, fallback *Fallback, places placeref.PlaceStore, logger *slog.Logger) *Generator {
	if fallback == nil {
		fallback = NewFallback(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		pipeline: pipeline,
		fallback: fallback,
		places:   places,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Generate produces routes for rc and registers their places. Pipeline
// failures never surface as errors; only place persistence can fail.
func (g *Generator) Generate(ctx context.Context, rc RoomContext) (Outcome, error) {
	out := Outcome{GenerationID: uuid.NewString()}

	var failed *FailedError
	var cands []Candidate
	if g.pipeline == nil {
		failed = &FailedError{Stage: "pipeline", Cause: errNoPipeline}
	} else {
		draft, err := g.pipeline.Run(ctx, rc)
		if err != nil {
			if !errors.As(err, &failed) {
				failed = &FailedError{Stage: "pipeline", Cause: err}
			}
		} else {
			cands = draft.Candidates
		}
	}

	source, placeSource := domain.RouteFromPipeline, domain.PlaceFromAI
	if failed != nil {
		g.logger.Warn("route generation falling back to catalog", "room_id", rc.RoomID, "stage", failed.Stage, "err", failed.Cause)
		cands = g.fallback.Generate(rc)
		source, placeSource = domain.RouteFromFallback, domain.PlaceFromCatalog
		out.Fallback = true
		out.Stage = failed.Stage
		out.Reason = failed.Cause.Error()
	}

	routes, err := Materialize(ctx, g.places, rc.RoomID, out.GenerationID, source, placeSource, cands, g.now())
	if err != nil {
		return Outcome{}, err
	}
	out.Routes = routes
	return out, nil
}

// Materialize normalizes every candidate place into a PlaceRef and builds
// the routes to persist.
func Materialize(ctx context.Context, places placeref.PlaceStore, roomID, generationID string, source domain.RouteSource, placeSource domain.PlaceSource, cands []Candidate, now time.Time) ([]domain.Route, error) {
	routes := make([]domain.Route, 0, len(cands))
	for _, c := range cands {
		r := domain.Route{
			ID:            uuid.NewString(),
			RoomID:        roomID,
			Title:         c.Title,
			Summary:       c.Summary,
			TravelMinutes: c.TravelMinutes,
			Cost:          c.Cost,
			Source:        source,
			GenerationID:  generationID,
			CreatedAt:     now,
		}
		for _, p := range c.Places {
			ref, err := placeref.Ensure(ctx, places, roomID, placeref.Raw{
				Name:     p.Name,
				Address:  p.Address,
				Category: p.Category,
				Lat:      p.Lat,
				Lng:      p.Lng,
				Source:   placeSource,
			})
			if err != nil {
				return nil, fmt.Errorf("register place %q: %w", p.Name, err)
			}
			if r.HasPlace(ref.ID) {
				continue
			}
			r.PlaceIDs = append(r.PlaceIDs, ref.ID)
			r.Places = append(r.Places, ref)
		}
		routes = append(routes, r)
	}
	return routes, nil
}
