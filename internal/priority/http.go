package priority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPScorer asks an external model service for a score and falls back to
// Fallback when the call fails for any reason.
type HTTPScorer struct {
	BaseURL  string
	Client   *http.Client
	Fallback Scorer
	Logger   zerolog.Logger
}

type scoreResponse struct {
	Score        float64 `json:"score"`
	ModelVersion string  `json:"model_version"`
}

func (h HTTPScorer) Score(ctx context.Context, in Input) (Result, error) {
	res, err := h.remote(ctx, in)
	if err == nil {
		return res, nil
	}
	fallback := h.Fallback
	if fallback == nil {
		fallback = RuleScorer{}
	}
	h.Logger.Warn().Err(err).Str("category", string(in.Category)).Msg("priority service unavailable, using rules")
	return fallback.Score(ctx, in)
}

func (h HTTPScorer) remote(ctx context.Context, in Input) (Result, error) {
	if strings.TrimSpace(h.BaseURL) == "" {
		return Result{}, fmt.Errorf("priority service url is not set")
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}

	b, _ := json.Marshal(in)
	url := strings.TrimRight(h.BaseURL, "/") + "/score"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("priority service error: %s", resp.Status)
	}
	var r scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Result{}, fmt.Errorf("decode priority response: %w", err)
	}
	if r.Score < 0 || r.Score > 100 {
		return Result{}, fmt.Errorf("priority service returned out-of-range score %v", r.Score)
	}
	source := "model"
	if r.ModelVersion != "" {
		source = "model:" + r.ModelVersion
	}
	return Result{Score: r.Score, Source: source}, nil
}
