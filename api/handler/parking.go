package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openlot/lotwatch/models"
	"github.com/openlot/lotwatch/targets"
)

// Resolver is the slice of the scrape coordinator the handlers need.
type Resolver interface {
	Resolve(ctx context.Context, t *models.Target) (*models.ExtractionResult, bool, error)
	Status(key string) (asOf time.Time, stale, cached bool)
}

// GetParking returns a handler for GET /api/v1/parking/:key.
//
// Flow: resolve the key against the registry, let the coordinator serve
// from cache or scrape, and translate the outcome:
//
//	fresh or stale result → 200 (stale flagged in the body)
//	unknown key           → 404
//	pool exhausted        → 503
//	retries exhausted     → 504
//	site unreachable      → 502
//	page layout changed   → 422
func GetParking(reg *targets.Registry, co Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		key := c.Param("key")
		target, ok := reg.Get(key)
		if !ok {
			c.JSON(http.StatusNotFound, models.ParkingResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeUnknownTarget,
					Message: "no target configured for key " + key,
				},
			})
			return
		}

		resolveStart := time.Now()
		res, stale, err := co.Resolve(c.Request.Context(), target)
		resolveMs := time.Since(resolveStart).Milliseconds()

		if err != nil {
			respondError(c, err, models.TimingInfo{
				TotalMs:   time.Since(totalStart).Milliseconds(),
				ResolveMs: resolveMs,
			})
			return
		}

		c.JSON(http.StatusOK, models.ParkingResponse{
			Success:     true,
			Target:      res.TargetKey,
			Fields:      res.Fields,
			AsOf:        res.FetchedAt,
			Stale:       stale,
			Attempts:    res.Attempts,
			FetchMethod: res.FetchMethod,
			Timing: models.TimingInfo{
				TotalMs:   time.Since(totalStart).Milliseconds(),
				ResolveMs: resolveMs,
			},
		})
	}
}

// ListParking returns a handler for GET /api/v1/parking: the target
// catalog with per-key cache status. Listing never triggers a scrape.
func ListParking(reg *targets.Registry, co Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		all := reg.All()
		summaries := make([]models.TargetSummary, 0, len(all))

		for _, t := range all {
			s := models.TargetSummary{
				Key:       t.Key,
				Name:      t.Name,
				URL:       t.URL,
				FetchMode: t.FetchMode,
				TTL:       t.TTL.String(),
			}
			if asOf, stale, cached := co.Status(t.Key); cached {
				s.Cached = true
				s.Stale = stale
				s.AsOf = &asOf
			}
			summaries = append(summaries, s)
		}

		c.JSON(http.StatusOK, models.TargetListResponse{
			Success: true,
			Count:   len(summaries),
			Targets: summaries,
		})
	}
}

// respondError maps a ScrapeError to the correct HTTP status code and
// writes a structured JSON error response.
func respondError(c *gin.Context, err error, timing models.TimingInfo) {
	var scrapeErr *models.ScrapeError
	if !errors.As(err, &scrapeErr) {
		scrapeErr = models.NewScrapeError(models.ErrCodeInternal, err.Error(), err)
	}

	c.JSON(mapErrorToStatus(scrapeErr), models.ParkingResponse{
		Success: false,
		Error:   scrapeErr.ToDetail(),
		Timing:  timing,
	})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ScrapeError) int {
	switch e.Code {
	case models.ErrCodePoolTimeout:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeMaxRetries, models.ErrCodeReadinessTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavigation:
		return http.StatusBadGateway // 502
	case models.ErrCodeSchemaMismatch:
		return http.StatusUnprocessableEntity // 422
	case models.ErrCodeUnknownTarget:
		return http.StatusNotFound // 404
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
