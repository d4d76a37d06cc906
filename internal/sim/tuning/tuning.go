package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed tuning.schema.json
var schemaJSON string

const schemaURL = "mem://tuning.schema.json"

type Tuning struct {
	TickRateHz         int   `yaml:"tick_rate_hz"`
	SendRateHz         int   `yaml:"send_rate_hz"`
	DispatchRateHz     int   `yaml:"dispatch_rate_hz"`
	GridDims           []int `yaml:"grid_dims"`
	SnapshotEveryTicks int   `yaml:"snapshot_every_ticks"`

	Gen       Gen       `yaml:"gen"`
	Movement  Movement  `yaml:"movement"`
	Brush     Brush     `yaml:"brush"`
	Reconcile Reconcile `yaml:"reconcile"`
	Net       Net       `yaml:"net"`
}

type Gen struct {
	Seed       int64 `yaml:"seed"`
	BaseHeight int   `yaml:"base_height"`
	Amplitude  int   `yaml:"amplitude"`
	CellSize   int   `yaml:"cell_size"`
	Falloff    int   `yaml:"falloff"`
}

type Movement struct {
	WalkSpeed        float32 `yaml:"walk_speed"`
	JumpSpeed        float32 `yaml:"jump_speed"`
	Gravity          float32 `yaml:"gravity"`
	MouseSensitivity float32 `yaml:"mouse_sensitivity"`
	EyeHeight        float32 `yaml:"eye_height"`
	MaxDT            float32 `yaml:"max_dt"`
}

type Brush struct {
	Radius   float32 `yaml:"radius"`
	Strength float32 `yaml:"strength"`
	Reach    float32 `yaml:"reach"`
}

type Reconcile struct {
	PositionEpsilon  float32 `yaml:"position_epsilon"`
	DirectionEpsilon float32 `yaml:"direction_epsilon"`
	RevertRingDepth  int     `yaml:"revert_ring_depth"`
	CycleLogDepth    int     `yaml:"cycle_log_depth"`
}

type Net struct {
	IngressQueue        int     `yaml:"ingress_queue"`
	IngressRatePerSec   float64 `yaml:"ingress_rate_per_sec"`
	IngressBurst        int     `yaml:"ingress_burst"`
	HardUpdatesPerCycle int     `yaml:"hard_updates_per_cycle"`
	SessionQueue        int     `yaml:"session_queue"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         60,
		SendRateHz:         30,
		DispatchRateHz:     20,
		GridDims:           []int{8, 4, 8},
		SnapshotEveryTicks: 3600,
		Gen: Gen{
			Seed:       1337,
			BaseHeight: 24,
			Amplitude:  8,
			CellSize:   16,
			Falloff:    32,
		},
		Movement: Movement{
			WalkSpeed:        5,
			JumpSpeed:        7,
			Gravity:          20,
			MouseSensitivity: 0.15,
			EyeHeight:        1.6,
			MaxDT:            0.1,
		},
		Brush: Brush{
			Radius:   2.5,
			Strength: 96,
			Reach:    8,
		},
		Reconcile: Reconcile{
			PositionEpsilon:  0.01,
			DirectionEpsilon: 0.001,
			RevertRingDepth:  20,
			CycleLogDepth:    64,
		},
		Net: Net{
			IngressQueue:        1024,
			IngressRatePerSec:   200,
			IngressBurst:        64,
			HardUpdatesPerCycle: 4,
			SessionQueue:        32,
		},
	}
}

// Validate checks the semantic constraints the schema cannot express.
func (t Tuning) Validate() error {
	if len(t.GridDims) != 3 {
		return fmt.Errorf("grid_dims: want 3 values, got %d", len(t.GridDims))
	}
	for i, d := range t.GridDims {
		if d <= 0 {
			return fmt.Errorf("grid_dims[%d]: must be positive, got %d", i, d)
		}
	}
	if t.TickRateHz <= 0 || t.SendRateHz <= 0 || t.DispatchRateHz <= 0 {
		return errors.New("tick, send and dispatch rates must be positive")
	}
	if t.SendRateHz > t.TickRateHz {
		return fmt.Errorf("send_rate_hz %d exceeds tick_rate_hz %d", t.SendRateHz, t.TickRateHz)
	}
	if t.DispatchRateHz > t.TickRateHz {
		return fmt.Errorf("dispatch_rate_hz %d exceeds tick_rate_hz %d", t.DispatchRateHz, t.TickRateHz)
	}
	if t.Reconcile.RevertRingDepth <= 0 {
		return errors.New("reconcile.revert_ring_depth must be positive")
	}
	if t.Reconcile.CycleLogDepth <= 0 {
		return errors.New("reconcile.cycle_log_depth must be positive")
	}
	if t.Net.HardUpdatesPerCycle <= 0 {
		return errors.New("net.hard_updates_per_cycle must be positive")
	}
	return nil
}

// TicksPer converts a rate into a tick interval, at least 1.
func (t Tuning) TicksPer(rateHz int) int {
	if rateHz <= 0 || rateHz >= t.TickRateHz {
		return 1
	}
	return t.TickRateHz / rateHz
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := validateSchema(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func validateSchema(raw []byte) error {
	schema, err := jsonschema.CompileString(schemaURL, schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees json.Number values.
	js, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return errors.New(strings.TrimSpace(err.Error()))
	}
	return nil
}
