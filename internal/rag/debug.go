package rag

import (
	"context"
	"fmt"
	"time"
)

// DebugStage is one timed step of a diagnostic search run.
type DebugStage struct {
	Name       string `json:"name"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
	Detail     string `json:"detail"`
}

// DebugReport traces a search through its pipeline stages. Result is set
// only when every stage succeeded.
type DebugReport struct {
	Query  string       `json:"query"`
	Stages []DebugStage `json:"stages"`
	Result *Result      `json:"result,omitempty"`
}

// DebugSearch runs the pipeline stage by stage, recording timing and
// outcome for each, and stops at the first failing stage. The run is not
// written to the search log.
func (e *Engine) DebugSearch(ctx context.Context, query string, collections []int64) (*DebugReport, error) {
	report := &DebugReport{Query: query}

	stage := func(name string, fn func() (string, error)) bool {
		start := time.Now()
		detail, err := fn()
		s := DebugStage{
			Name:       name,
			Success:    err == nil,
			DurationMs: time.Since(start).Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			s.Detail = err.Error()
		}
		report.Stages = append(report.Stages, s)
		return err == nil
	}

	ok := stage("vector_store", func() (string, error) {
		total, err := e.vectors.Total(ctx)
		if err != nil {
			return "", err
		}
		if total == 0 {
			return "", ErrNoVectorsIndexed
		}
		return fmt.Sprintf("%d vectors indexed", total), nil
	})
	if !ok {
		return report, nil
	}

	var queryVec []float32
	ok = stage("query_embedding", func() (string, error) {
		vec, err := e.embedder.GenerateEmbedding(ctx, query)
		if err != nil {
			return "", err
		}
		queryVec = vec
		return fmt.Sprintf("%d dimensions", len(vec)), nil
	})
	if !ok {
		return report, nil
	}

	var items []ResultItem
	ok = stage("retrieval", func() (string, error) {
		matches, err := e.vectors.Search(ctx, queryVec, e.maxItems, collections)
		if err != nil {
			return "", err
		}
		if len(matches) == 0 {
			return "", ErrNoResults
		}
		items = make([]ResultItem, len(matches))
		for i, m := range matches {
			items[i] = resultItem(m, query)
		}
		return fmt.Sprintf("%d matches, best %.1f%%", len(items), items[0].Score), nil
	})
	if !ok {
		return report, nil
	}

	var response string
	ok = stage("generation", func() (string, error) {
		r, err := e.chat.Generate(ctx, e.systemPrompt, userPrompt(query, items))
		if err != nil {
			return "", err
		}
		response = r
		return fmt.Sprintf("%d characters", len(r)), nil
	})
	if !ok {
		return report, nil
	}

	report.Result = &Result{
		Query:        query,
		Response:     response,
		Items:        items,
		TotalResults: len(items),
	}
	return report, nil
}
