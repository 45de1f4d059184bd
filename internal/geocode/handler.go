package geocode

import (
	"fmt"

	"github.com/globaltrial/registry-pipeline/internal/jobs/runtime"
	"github.com/globaltrial/registry-pipeline/internal/repos"
)

const jobType = "geocode"

// Handler walks trials with ungeocoded locations and resolves them
// through Client, one trial at a time so a single Nominatim failure
// doesn't block the rest of the batch.
type Handler struct {
	Client *Client
	Trials *repos.TrialRepo
}

func NewHandler(client *Client, trials *repos.TrialRepo) *Handler {
	return &Handler{Client: client, Trials: trials}
}

func (h *Handler) Type() string { return jobType }

func (h *Handler) Run(jc *runtime.Context) error {
	batchSize, _ := jc.PayloadInt("batch_size")
	if batchSize <= 0 {
		batchSize = 200
	}

	trials, err := h.Trials.NeedingGeocode(jc.Ctx, batchSize)
	if err != nil {
		return fmt.Errorf("load trials needing geocode: %w", err)
	}

	resolved := 0
	for _, t := range trials {
		locs := t.Locations.Data()
		changed := false
		for i, loc := range locs {
			if loc.Latitude != nil {
				continue
			}
			lat, lng, err := h.Client.Resolve(jc.Ctx, loc)
			if err != nil {
				continue
			}
			if lat == nil {
				continue
			}
			locs[i].Latitude = lat
			locs[i].Longitude = lng
			changed = true
			resolved++
		}
		if changed {
			if err := h.Trials.UpdateLocations(jc.Ctx, t.TrialKey, locs); err != nil {
				return fmt.Errorf("persist geocoded locations for %s: %w", t.TrialKey, err)
			}
		}
	}

	return jc.Succeed(map[string]any{"examined": len(trials), "resolved": resolved})
}
