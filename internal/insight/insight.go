// Package insight scores ad copy for engagement and extracts US state
// names from free text.
package insight

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/insight/internal/extractor"
	"github.com/MikeSquared-Agency/insight/internal/prompts"
)

var EngagementSchema = extractor.Schema{
	Name: "engagement",
	Fields: []extractor.Field{
		{Name: "headline", Description: "ad title for the item being shown to the users"},
		{Name: "summary", Description: "ad description for the item being shown to the users"},
		{Name: "engagement_score", Description: "ad engagement score that ranges from 0 to 100"},
	},
}

var StateSchema = extractor.Schema{
	Name: "state",
	Fields: []extractor.Field{
		{Name: "input_text", Description: "a random text, that can be a city name, region name, or anything that resembles a state name"},
		{Name: "state", Description: "state name extracted from input_text"},
	},
}

// Engagement keeps the score as the model returned it.
type Engagement struct {
	Headline        string `json:"headline"`
	Summary         string `json:"summary"`
	EngagementScore string `json:"engagement_score"`
}

// Score parses EngagementScore and checks it lies in [0,100].
func (e Engagement) Score() (int, error) {
	s := strings.TrimSpace(e.EngagementScore)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("engagement score %q is not a number", e.EngagementScore)
	}
	if math.IsNaN(f) || f < 0 || f > 100 {
		return 0, fmt.Errorf("engagement score %s is outside [0,100]", s)
	}
	return int(f + 0.5), nil
}

type State struct {
	InputText string `json:"input_text"`
	State     string `json:"state"`
}

// Extractor is satisfied by *extractor.Extractor.
type Extractor interface {
	ExtractE(ctx context.Context, template string, schema extractor.Schema, inputs map[string]string) (extractor.Result, error)
}

type Service struct {
	ext     Extractor
	catalog prompts.Catalog
}

func NewService(ext Extractor, catalog prompts.Catalog) *Service {
	return &Service{ext: ext, catalog: catalog}
}

// EngagementScore returns nil when the model reply could not be used; err
// says why.
func (s *Service) EngagementScore(ctx context.Context, headline, summary string) (*Engagement, error) {
	r, err := s.ext.ExtractE(ctx, s.catalog.Engagement, EngagementSchema, map[string]string{
		"headline": headline,
		"summary":  summary,
	})
	if err != nil {
		return nil, err
	}
	return &Engagement{
		Headline:        r["headline"],
		Summary:         r["summary"],
		EngagementScore: r["engagement_score"],
	}, nil
}

func (s *Service) State(ctx context.Context, inputText string) (*State, error) {
	r, err := s.ext.ExtractE(ctx, s.catalog.State, StateSchema, map[string]string{
		"input_text": inputText,
	})
	if err != nil {
		return nil, err
	}
	return &State{InputText: r["input_text"], State: r["state"]}, nil
}
