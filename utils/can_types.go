package utils

import "sort"

type SignalDef struct {
	Name       string
	StartBit   int
	BitLength  int
	Signed     bool
	Factor     float64
	Offset     float64
	Min        float64
	Max        float64
	Default    float64
	Unit       string
	Comment    string
	Endianness string // only "little" supported
}

type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction string
	CycleMS   int
	Signals   []SignalDef
}

// Signal returns the named signal of the frame.
func (fd *FrameDef) Signal(name string) (SignalDef, bool) {
	for _, s := range fd.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return SignalDef{}, false
}

type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
}

func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Signal names of the MPC_CMD frame in config/can/can_map.csv.
const (
	SigSteerCmdRad    = "steer_cmd_rad"
	SigAccelCmd       = "accel_cmd"
	SigPlanConverged  = "plan_converged"
	SigFallbackActive = "fallback_active"
	SigRollingCounter = "rolling_counter"
)

// ActuatorCommand is one cycle's command as it goes out on the bus.
type ActuatorCommand struct {
	SteerRad       float64
	Accel          float64
	PlanConverged  bool
	FallbackActive bool
	Counter        uint8
}

// Values flattens the command into the signal map consumed by EncodeFrame.
func (c ActuatorCommand) Values() map[string]float64 {
	return map[string]float64{
		SigSteerCmdRad:    c.SteerRad,
		SigAccelCmd:       c.Accel,
		SigPlanConverged:  BoolToFloat(c.PlanConverged),
		SigFallbackActive: BoolToFloat(c.FallbackActive),
		SigRollingCounter: float64(c.Counter & 0x0F),
	}
}

// CommandFromValues is the inverse of Values for decoded frames.
func CommandFromValues(v map[string]float64) ActuatorCommand {
	return ActuatorCommand{
		SteerRad:       v[SigSteerCmdRad],
		Accel:          v[SigAccelCmd],
		PlanConverged:  v[SigPlanConverged] != 0,
		FallbackActive: v[SigFallbackActive] != 0,
		Counter:        uint8(v[SigRollingCounter]),
	}
}

// BoolToFloat converts bool to float64 (for CAN encoding)
func BoolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
