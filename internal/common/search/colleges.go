// Package search keeps a college name index in Elasticsearch and serves
// match candidates from it.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "crm-lead-workers/internal/common/errors"
	"crm-lead-workers/internal/matching"
	"crm-lead-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
)

// CollegesMapping is applied when the index is created.
const CollegesMapping = `{
  "mappings": {
    "properties": {
      "id":              {"type": "keyword"},
      "name":            {"type": "text"},
      "name_normalized": {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "name_stripped":   {"type": "keyword"},
      "contact_name":    {"type": "text"},
      "email":           {"type": "keyword"},
      "phone":           {"type": "keyword"},
      "status":          {"type": "keyword"},
      "created_at":      {"type": "date"},
      "updated_at":      {"type": "date"}
    }
  }
}`

type collegeDoc struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	NameNormalized string     `json:"name_normalized"`
	NameStripped   string     `json:"name_stripped"`
	ContactName    string     `json:"contact_name,omitempty"`
	Email          string     `json:"email,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	Status         string     `json:"status"`
	LastTrainingAt *time.Time `json:"last_training_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type CollegeIndex struct {
	es    *elasticsearch.Client
	index string
}

func NewCollegeIndex(es *elasticsearch.Client, index string) *CollegeIndex {
	return &CollegeIndex{es: es, index: index}
}

// IndexCollege upserts the college document under its id.
func (c *CollegeIndex) IndexCollege(ctx context.Context, college *models.College) error {
	body, err := json.Marshal(collegeDoc{
		ID:             college.ID,
		Name:           college.Name,
		NameNormalized: matching.Normalize(college.Name),
		NameStripped:   matching.StripSuffix(college.Name),
		ContactName:    college.ContactName,
		Email:          college.Email,
		Phone:          college.Phone,
		Status:         string(college.Status),
		LastTrainingAt: college.LastTrainingAt,
		CreatedAt:      college.CreatedAt,
		UpdatedAt:      college.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode college: %w", err)
	}

	res, err := c.es.Index(
		c.index,
		bytes.NewReader(body),
		c.es.Index.WithContext(ctx),
		c.es.Index.WithDocumentID(college.ID),
	)
	if err != nil {
		return apperrors.NewSearchQueryFailedError(c.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewSearchQueryFailedError(c.index, fmt.Errorf("index college %s: %s", college.ID, res.Status()))
	}
	return nil
}

// Scores per matching tier. A document collects every clause it satisfies,
// so the gaps keep tiers apart: exact scores at least 110, stripped 10 to 12
// and substring 1.
const (
	boostExact     = 100
	boostStripped  = 10
	boostSubstring = 1
)

func constantScore(filter map[string]interface{}, boost int) map[string]interface{} {
	return map[string]interface{}{
		"constant_score": map[string]interface{}{"filter": filter, "boost": boost},
	}
}

var wildcardEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)

// FindCollegeCandidates returns colleges matching the normalized name at
// some tier, best tier first and oldest first within a tier.
func (c *CollegeIndex) FindCollegeCandidates(ctx context.Context, normalizedName string, limit int) ([]models.College, error) {
	if normalizedName == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = matching.DefaultCandidateLimit
	}

	stripped := matching.StripSuffix(normalizedName)
	should := []interface{}{
		constantScore(map[string]interface{}{
			"term": map[string]interface{}{"name_normalized.keyword": normalizedName},
		}, boostExact),
		constantScore(map[string]interface{}{
			"term": map[string]interface{}{"name_stripped": stripped},
		}, boostStripped),
	}
	if subs := matching.Substrings(stripped); len(subs) > 0 {
		should = append(should,
			constantScore(map[string]interface{}{
				"wildcard": map[string]interface{}{
					"name_stripped": map[string]interface{}{"value": "*" + wildcardEscaper.Replace(stripped) + "*"},
				},
			}, boostSubstring),
			constantScore(map[string]interface{}{
				"terms": map[string]interface{}{"name_stripped": subs},
			}, boostSubstring),
		)
	}

	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should":               should,
				"minimum_should_match": 1,
			},
		},
		"sort": []interface{}{
			map[string]string{"_score": "desc"},
			map[string]string{"created_at": "asc"},
			map[string]string{"id": "asc"},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, apperrors.NewSearchQueryFailedError(c.index, err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, apperrors.NewIndexNotFoundError(c.index)
	}
	if res.IsError() {
		return nil, apperrors.NewSearchQueryFailedError(c.index, fmt.Errorf("search: %s", res.Status()))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source collegeDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]models.College, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		d := h.Source
		out = append(out, models.College{
			ID:             d.ID,
			Name:           d.Name,
			ContactName:    d.ContactName,
			Email:          d.Email,
			Phone:          d.Phone,
			Status:         models.CollegeStatus(d.Status),
			LastTrainingAt: d.LastTrainingAt,
			CreatedAt:      d.CreatedAt,
			UpdatedAt:      d.UpdatedAt,
		})
	}
	return out, nil
}
