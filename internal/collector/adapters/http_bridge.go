package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/speedwagon-io/helmet/internal/lib/logger/sl"
	"github.com/speedwagon-io/helmet/internal/model"
)

var ErrMalformedSnapshot = errors.New("malformed sensor snapshot")

// HTTPBridge talks to the local sensor daemon that owns the IMU and camera.
// GET /snapshot returns the latest reading, POST /fatigue runs the detector
// on the frame referenced by that reading.
type HTTPBridge struct {
	log     *slog.Logger
	baseURL string
	mode    string
	client  *http.Client
}

func NewHTTPBridge(log *slog.Logger, baseURL string, timeout time.Duration, mode string) *HTTPBridge {
	return &HTTPBridge{
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		mode:    mode,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (b *HTTPBridge) Name() string {
	return "http_bridge"
}

func (b *HTTPBridge) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *HTTPBridge) ReadSnapshot(ctx context.Context) (model.SensorSnapshot, error) {
	raw, err := b.do(ctx, http.MethodGet, "/snapshot", nil)
	if err != nil {
		return model.SensorSnapshot{}, err
	}

	g, ok := toFloat(raw["g_force"])
	if !ok {
		return model.SensorSnapshot{}, fmt.Errorf("%w: g_force=%v", ErrMalformedSnapshot, raw["g_force"])
	}

	return model.SensorSnapshot{Frame: raw["frame_id"], GForce: g}, nil
}

func (b *HTTPBridge) DetectFatigue(ctx context.Context, snapshot model.SensorSnapshot) (model.FatigueVerdict, error) {
	req := map[string]any{
		"frame_id": snapshot.Frame,
		"g_force":  snapshot.GForce,
		"mode":     b.mode,
	}

	raw, err := b.do(ctx, http.MethodPost, "/fatigue", req)
	if err != nil {
		return model.FatigueVerdict{}, err
	}

	verdict := model.FatigueVerdict{
		IsDrowsy:   toBool(raw["is_drowsy"]),
		FalseAlert: toBool(raw["false_alert"]),
		Mode:       b.mode,
	}
	verdict.EAR, _ = toFloat(raw["ear"])
	verdict.LatencyMs, _ = toFloat(raw["latency_ms"])
	verdict.Perclos, _ = toFloat(raw["perclos"])
	if mode, ok := raw["mode"].(string); ok && mode != "" {
		verdict.Mode = mode
	}

	return verdict, nil
}

// SensorHealth reports the daemon's view of its devices. A bridge that
// cannot be reached is reported as such instead of failing the status.
func (b *HTTPBridge) SensorHealth(ctx context.Context) map[string]any {
	raw, err := b.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		b.log.Debug("sensor health unavailable", sl.Err(err))
		return map[string]any{"bridge": "unreachable"}
	}
	if len(raw) == 0 {
		return map[string]any{"bridge": "ok"}
	}
	return raw
}

func (b *HTTPBridge) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return decodeBridgeBody(respBody)
}

// decodeBridgeBody accepts the daemon's JSON, which may carry Python-style
// True/False literals, and bare boolean acknowledgements.
func decodeBridgeBody(body []byte) (map[string]any, error) {
	bodyStr := string(bytes.TrimSpace(body))
	switch bodyStr {
	case "True", "true", "False", "false", "":
		return map[string]any{}, nil
	}

	bodyStr = strings.ReplaceAll(bodyStr, ":True,", ":true,")
	bodyStr = strings.ReplaceAll(bodyStr, ":True}", ":true}")
	bodyStr = strings.ReplaceAll(bodyStr, ":False,", ":false,")
	bodyStr = strings.ReplaceAll(bodyStr, ":False}", ":false}")
	bodyStr = strings.ReplaceAll(bodyStr, ": True", ": true")
	bodyStr = strings.ReplaceAll(bodyStr, ": False", ": false")

	var raw map[string]any
	if err := json.Unmarshal([]byte(bodyStr), &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return raw, nil
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return val == "1" || val == "on"
		}
		return b
	default:
		return false
	}
}
