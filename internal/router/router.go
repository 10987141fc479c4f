// Package router decides which remote agent should handle an utterance,
// scoring discovered capabilities against the ranked intent extracted by
// the language-model backend.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/intent"
	"github.com/ensembleai/ensemble/internal/registry"
	"github.com/ensembleai/ensemble/pkg/card"
)

// ErrNoMatch is returned when no candidate meets the minimum match
// threshold. Callers surface it as a "no capable agent" response rather
// than guessing.
var ErrNoMatch = errors.New("no capable agent for utterance")

// Decision names exactly one target agent and the task payload for it.
type Decision struct {
	AgentName string
	Address   string
	SkillID   string
	Payload   string
	Score     float64
	Streaming bool
}

// Router scores candidates deterministically: identical utterance,
// candidate set and intent result always yield the same decisions.
type Router struct {
	classifier intent.Classifier
	fallback   intent.KeywordClassifier
	minScore   float64
	logger     *logrus.Logger
}

func New(classifier intent.Classifier, minScore float64, logger *logrus.Logger) *Router {
	return &Router{
		classifier: classifier,
		minScore:   minScore,
		logger:     logger,
	}
}

// Route produces one Decision per sub-task step, in execution order.
func (r *Router) Route(ctx context.Context, utterance string, history []string, candidates []registry.Entry) ([]Decision, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no reachable agents", ErrNoMatch)
	}

	result, err := r.classify(ctx, utterance, history)
	if err != nil {
		return nil, err
	}

	decisions := make([]Decision, 0, len(result.Steps))
	for _, step := range result.Steps {
		decision, ok := r.pick(step, candidates)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoMatch, step.Utterance)
		}
		decisions = append(decisions, decision)
	}

	return decisions, nil
}

func (r *Router) classify(ctx context.Context, utterance string, history []string) (*intent.Result, error) {
	if r.classifier != nil {
		result, err := r.classifier.Classify(ctx, utterance, history)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, intent.ErrDisabled) {
			r.logger.Warnf("Intent backend failed, falling back to keywords: %v", err)
		}
	}
	return r.fallback.Classify(ctx, utterance, history)
}

// pick scores every candidate for one step and applies the tie-break
// policy: best score, then most recent successful contact, then stable
// registration order.
func (r *Router) pick(step intent.Step, candidates []registry.Entry) (Decision, bool) {
	type scored struct {
		entry   registry.Entry
		skillID string
		score   float64
	}

	ranked := make([]scored, 0, len(candidates))
	for _, entry := range candidates {
		skillID, score := scoreCard(step.Keywords, entry.Card)
		ranked = append(ranked, scored{entry: entry, skillID: skillID, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if !ranked[i].entry.LastContact.Equal(ranked[j].entry.LastContact) {
			return ranked[i].entry.LastContact.After(ranked[j].entry.LastContact)
		}
		return ranked[i].entry.Order < ranked[j].entry.Order
	})

	best := ranked[0]
	if best.score < r.minScore {
		r.logger.Infof("No candidate above threshold %.2f for %q (best %.2f)", r.minScore, step.Utterance, best.score)
		return Decision{}, false
	}

	r.logger.Debugf("Routing %q to %s (skill %s, score %.2f)", step.Utterance, best.entry.Card.Name, best.skillID, best.score)
	return Decision{
		AgentName: best.entry.Card.Name,
		Address:   best.entry.Address,
		SkillID:   best.skillID,
		Payload:   step.Utterance,
		Score:     best.score,
		Streaming: best.entry.Card.Capabilities.Streaming,
	}, true
}

// scoreCard returns the best-matching skill and the card's overall score:
// the fraction of step keywords that appear in the skill's tags, name or
// example utterances.
func scoreCard(keywords []string, c *card.AgentCard) (string, float64) {
	if c == nil || len(keywords) == 0 {
		return "", 0
	}

	bestID := ""
	bestScore := 0.0
	for _, skill := range c.Skills {
		terms := skillTerms(skill)
		matched := 0
		for _, kw := range keywords {
			if terms[kw] {
				matched++
			}
		}
		score := float64(matched) / float64(len(keywords))
		if score > bestScore {
			bestScore = score
			bestID = skill.ID
		}
	}
	if bestID == "" && len(c.Skills) > 0 {
		bestID = c.Skills[0].ID
	}
	return bestID, bestScore
}

func skillTerms(skill card.Skill) map[string]bool {
	terms := make(map[string]bool)
	add := func(text string) {
		for _, kw := range intent.Keywords(text) {
			terms[kw] = true
		}
	}

	for _, tag := range skill.Tags {
		terms[strings.ToLower(tag)] = true
		add(tag)
	}
	add(skill.Name)
	for _, example := range skill.Examples {
		add(example)
	}
	return terms
}
