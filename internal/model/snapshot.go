package model

const DefaultDetectorMode = "heuristic-ear-perclos"

// SensorSnapshot is what the sensor boundary returns each cycle. Frame is
// opaque to the pipeline and may be nil.
type SensorSnapshot struct {
	Frame  any     `json:"-"`
	GForce float64 `json:"g_force"`
}

type FatigueVerdict struct {
	IsDrowsy   bool    `json:"is_drowsy"`
	EAR        float64 `json:"ear"`
	LatencyMs  float64 `json:"latency_ms"`
	FalseAlert bool    `json:"false_alert"`
	Mode       string  `json:"mode"`
	Perclos    float64 `json:"perclos"`
}

func SafeVerdict(mode string) FatigueVerdict {
	if mode == "" {
		mode = DefaultDetectorMode
	}
	return FatigueVerdict{Mode: mode}
}
