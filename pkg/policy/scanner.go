package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ScannerRule delegates the decision to an external HTTP scanner.
//
// The artifact is POSTed as {"rule_id": ..., "artifact": ...}; the scanner
// answers {"violated": bool, "reason": string}. Any transport error or
// non-2xx status is an evaluation error, which the validator fails closed.
type ScannerRule struct {
	ruleInfo
	url    string
	client *http.Client
}

// ScannerResponse is the JSON body returned by an external scanner.
type ScannerResponse struct {
	Violated bool   `json:"violated"`
	Reason   string `json:"reason,omitempty"`
}

type scannerRequest struct {
	RuleID   string `json:"rule_id"`
	Artifact string `json:"artifact"`
}

// NewScannerRule creates a scanner-backed rule. A zero timeout uses 5s.
func NewScannerRule(id, description, url string, timeout time.Duration) *ScannerRule {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ScannerRule{
		ruleInfo: ruleInfo{id: id, description: description},
		url:      url,
		client:   &http.Client{Timeout: timeout},
	}
}

// Deterministic implements Rule. External scanners may change their answer.
func (r *ScannerRule) Deterministic() bool { return false }

// Evaluate implements Rule.
func (r *ScannerRule) Evaluate(ctx context.Context, artifact string) (bool, error) {
	body, err := json.Marshal(scannerRequest{RuleID: r.id, Artifact: artifact})
	if err != nil {
		return false, fmt.Errorf("marshal scanner request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create scanner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("scanner request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("scanner returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var result ScannerResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode scanner response: %w", err)
	}
	return result.Violated, nil
}
