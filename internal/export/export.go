package export

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/AngelCh415/ad-performance-scorer/internal/config"
	"github.com/AngelCh415/ad-performance-scorer/internal/ingest"
	"github.com/AngelCh415/ad-performance-scorer/internal/models"
	"github.com/AngelCh415/ad-performance-scorer/internal/telemetry"
)

var ErrSinkNotConfigured = errors.New("sink not configured")

const SignatureHeader = "X-Signature"

// Exporter pushes a run's reports to a webhook sink. The body is signed with
// HMAC-SHA256 over the raw JSON.
type Exporter struct {
	c       ingest.HTTPClient
	sinkURL string
	secret  string
	now     func() time.Time
}

func NewExporter(c ingest.HTTPClient, cfg config.ExportConfig) *Exporter {
	return &Exporter{c: c, sinkURL: cfg.SinkURL, secret: cfg.SinkSecret, now: time.Now}
}

type payload struct {
	RunID      string            `json:"run_id"`
	ExportedAt time.Time         `json:"exported_at"`
	Reports    []models.AdReport `json:"reports"`
}

// Export sends every report of run and returns how many were delivered. A run
// without reports is not sent.
func (e *Exporter) Export(ctx context.Context, run models.Run) (int, error) {
	if e.sinkURL == "" || e.secret == "" {
		return 0, ErrSinkNotConfigured
	}
	if len(run.Reports) == 0 {
		return 0, nil
	}
	b, err := json.Marshal(payload{RunID: run.ID, ExportedAt: e.now().UTC(), Reports: run.Reports})
	if err != nil {
		return 0, fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.sinkURL, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(e.secret, b))
	resp, err := e.c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, &ingest.StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	telemetry.ExportedReports.Add(float64(len(run.Reports)))
	return len(run.Reports), nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
