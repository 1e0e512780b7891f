// Package reporting evaluates summary measures over the follow-up table.
package reporting

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rtclinic/followup/internal/platform/auth"
	"github.com/rtclinic/followup/internal/platform/tablestore"
)

// Measure kinds.
const (
	KindCount    = "count"
	KindDistinct = "distinct"
	KindGroup    = "group"
	KindMean     = "mean"
)

// visitDateColumn is used to restrict measures with the "since" parameter.
const visitDateColumn = "Follow_up_date"

// MeasureDefinition defines a reporting measure over one column of the table.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Kind        string   `json:"kind"`
	Column      string   `json:"column,omitempty"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]string        `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "visit-count",
		Name:        "Visit Count",
		Description: "Number of recorded follow-up visits",
		Kind:        KindCount,
		Parameters:  []string{"since"},
	},
	{
		ID:          "patient-count",
		Name:        "Patient Count",
		Description: "Number of distinct patients with at least one visit",
		Kind:        KindDistinct,
		Column:      "MRN",
		Parameters:  []string{"since"},
	},
	{
		ID:          "radiodermatitis-distribution",
		Name:        "Radiodermatitis Distribution",
		Description: "Visits grouped by radiodermatitis grade",
		Kind:        KindGroup,
		Column:      "Radiodermatitis",
		Parameters:  []string{"since"},
	},
	{
		ID:          "breast-pain-distribution",
		Name:        "Breast Pain Distribution",
		Description: "Visits grouped by breast pain grade",
		Kind:        KindGroup,
		Column:      "Breast_pain",
		Parameters:  []string{"since"},
	},
	{
		ID:          "cosmetic-outcome-distribution",
		Name:        "Cosmetic Outcome Distribution",
		Description: "Visits grouped by cosmetic outcome",
		Kind:        KindGroup,
		Column:      "Cosmetic_outcome",
		Parameters:  []string{"since"},
	},
	{
		ID:          "local-recurrence",
		Name:        "Local Recurrence",
		Description: "Visits grouped by local recurrence flag",
		Kind:        KindGroup,
		Column:      "Local_recurrence",
		Parameters:  []string{"since"},
	},
	{
		ID:          "regional-recurrence",
		Name:        "Regional Recurrence",
		Description: "Visits grouped by regional recurrence flag",
		Kind:        KindGroup,
		Column:      "Regional_recurrence",
		Parameters:  []string{"since"},
	},
	{
		ID:          "distant-recurrence",
		Name:        "Distant Recurrence",
		Description: "Visits grouped by distant recurrence flag",
		Kind:        KindGroup,
		Column:      "Distant_recurrence",
		Parameters:  []string{"since"},
	},
	{
		ID:          "mean-time-since-treatment",
		Name:        "Mean Time Since Treatment",
		Description: "Average months between last radiotherapy and follow-up",
		Kind:        KindMean,
		Column:      "Time_since_treatment",
		Parameters:  []string{"since"},
	},
}

// TableSource supplies the table measures are evaluated over.
type TableSource interface {
	Table(ctx context.Context) (tablestore.Table, error)
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	source TableSource
	now    func() time.Time
}

// NewHandler creates a new reporting handler.
func NewHandler(source TableSource) *Handler {
	return &Handler{source: source, now: time.Now}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole(auth.RoleClinician, auth.RoleResearcher))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure evaluates a measure over the current table.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	params := map[string]string{}
	for _, p := range measure.Parameters {
		if v := c.QueryParam(p); v != "" {
			params[p] = v
		}
	}

	t, err := h.source.Table(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("read table: %v", err)).SetInternal(err)
	}

	report := MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: h.now(),
		Results:     Evaluate(*measure, filterSince(t.Rows, params["since"])),
		Parameters:  params,
	}
	return c.JSON(http.StatusOK, report)
}

// Evaluate computes m over rows.
func Evaluate(m MeasureDefinition, rows []tablestore.Record) []map[string]interface{} {
	switch m.Kind {
	case KindCount:
		return []map[string]interface{}{{"total": len(rows)}}
	case KindDistinct:
		seen := map[string]bool{}
		for _, r := range rows {
			if v := cell(r, m.Column); v != "" {
				seen[v] = true
			}
		}
		return []map[string]interface{}{{"total": len(seen)}}
	case KindGroup:
		return groupCount(rows, m.Column)
	case KindMean:
		return mean(rows, m.Column)
	}
	return []map[string]interface{}{}
}

func groupCount(rows []tablestore.Record, column string) []map[string]interface{} {
	counts := map[string]int{}
	for _, r := range rows {
		v := cell(r, column)
		if v == "" {
			v = "unknown"
		}
		counts[v]++
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	results := make([]map[string]interface{}, 0, len(keys))
	for _, k := range keys {
		results = append(results, map[string]interface{}{"value": k, "total": counts[k]})
	}
	return results
}

// mean averages the integer cells of column. Non-numeric cells such as the
// "N/A" sentinel are skipped.
func mean(rows []tablestore.Record, column string) []map[string]interface{} {
	var sum, n int
	for _, r := range rows {
		v, err := strconv.Atoi(cell(r, column))
		if err != nil {
			continue
		}
		sum += v
		n++
	}
	result := map[string]interface{}{"count": n, "mean": nil}
	if n > 0 {
		result["mean"] = float64(sum) / float64(n)
	}
	return []map[string]interface{}{result}
}

// filterSince keeps rows whose visit date is on or after since (YYYY-MM-DD).
func filterSince(rows []tablestore.Record, since string) []tablestore.Record {
	if since == "" {
		return rows
	}
	var out []tablestore.Record
	for _, r := range rows {
		if d := cell(r, visitDateColumn); d != "" && d >= since {
			out = append(out, r)
		}
	}
	return out
}

func cell(r tablestore.Record, column string) string {
	if tablestore.IsMissing(r[column]) {
		return ""
	}
	return strings.TrimSpace(tablestore.FormatValue(r[column]))
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
