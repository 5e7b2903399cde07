package dto

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yokitheyo/batchflow/internal/domain"
)

// ReportRequest is the body of POST /batches/:id/reports.
type ReportRequest struct {
	DocID         string `json:"doc_id" binding:"required"`
	Anomaly       string `json:"anomaly,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (r *ReportRequest) ToDomain(batchID uuid.UUID) domain.CompletionReport {
	return domain.CompletionReport{
		RecordKey:     r.DocID,
		BatchID:       batchID,
		Anomaly:       r.Anomaly,
		CorrelationID: r.CorrelationID,
	}
}

// ParseFilters decodes the multipart "filters" field. An empty field means
// no filters.
func ParseFilters(raw string) ([]domain.Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []domain.Filter{}, nil
	}
	var filters []domain.Filter
	if err := json.Unmarshal([]byte(raw), &filters); err != nil {
		return nil, fmt.Errorf("%w: filters must be a JSON array of {kind, param}: %v", domain.ErrInvalidFilterParam, err)
	}
	for i, f := range filters {
		if f.Kind == "" {
			return nil, fmt.Errorf("%w: filter %d has no kind", domain.ErrInvalidFilterParam, i)
		}
	}
	return filters, nil
}

// ImageMetadata gives one uploaded image its own filter chain.
type ImageMetadata struct {
	Name    string          `json:"name"`
	Filters []domain.Filter `json:"filters"`
}

// ParseImageMetadata decodes the multipart "metadata" field, a JSON array of
// {name, filters}. A listed image with no filters gets an empty chain.
func ParseImageMetadata(raw string) (map[string][]domain.Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var entries []ImageMetadata
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("%w: metadata must be a JSON array of {name, filters}: %v", domain.ErrInvalidMetadata, err)
	}

	chains := make(map[string][]domain.Filter, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: entry %d has no name", domain.ErrInvalidMetadata, i)
		}
		if _, dup := chains[name]; dup {
			return nil, fmt.Errorf("%w: %s listed twice", domain.ErrInvalidMetadata, name)
		}
		for j, f := range e.Filters {
			if f.Kind == "" {
				return nil, fmt.Errorf("%w: %s filter %d has no kind", domain.ErrInvalidFilterParam, name, j)
			}
		}
		if e.Filters == nil {
			e.Filters = []domain.Filter{}
		}
		chains[name] = e.Filters
	}
	return chains, nil
}

// ParseProcessed maps the optional ?processed= query value.
func ParseProcessed(raw string) (*bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return nil, nil
	case "true", "1":
		v := true
		return &v, nil
	case "false", "0":
		v := false
		return &v, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatusFilter, raw)
}

// ParseVariant maps ?variant=input|output to the output flag. Default is output.
func ParseVariant(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "output":
		return true, nil
	case "input":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", domain.ErrInvalidObjectVariant, raw)
}
