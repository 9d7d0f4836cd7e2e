package validate

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
)

const memorySuffix = "Gi"

// cpuMemoryGrid lists the allowed cpu cores and their memory in Gi on
// consumption-only environments.
var cpuMemoryGrid = map[float64]float64{
	0.25: 0.5,
	0.5:  1.0,
	0.75: 1.5,
	1.0:  2.0,
	1.25: 2.5,
	1.5:  3.0,
	1.75: 3.5,
	2.0:  4.0,
}

// ParseCPU parses a cpu flag.
func ParseCPU(s string) (float64, error) {
	cpu, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || cpu <= 0 {
		return 0, apperrors.Validation("invalid cpu %q: must be a positive number of cores, e.g. 0.5", s)
	}
	return cpu, nil
}

// NormalizeMemory accepts "1", "1.5" or "1.5Gi" and returns the value with
// the Gi suffix.
func NormalizeMemory(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !memoryPattern.MatchString(s) {
		return "", apperrors.Validation(`invalid memory %q: must be a number optionally ending with "Gi", e.g. 1.0Gi`, s)
	}
	if !strings.HasSuffix(s, memorySuffix) {
		s += memorySuffix
	}
	return s, nil
}

func memoryValue(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, memorySuffix), 64)
	return v, err == nil
}

func formatMemory(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + memorySuffix
}

// CoerceResources snaps a cpu and memory pair onto the grid. A memory that
// does not match the cpu is replaced with the grid value; an unknown cpu
// drops both so the service defaults apply. Missing halves are filled from
// the grid. Each adjustment is logged as a warning.
func CoerceResources(cpu *float64, memory string, logger *zap.Logger) (*float64, string) {
	if cpu == nil && memory == "" {
		return nil, ""
	}

	if cpu == nil {
		mem, ok := memoryValue(memory)
		if !ok {
			return nil, memory
		}
		for c, m := range cpuMemoryGrid {
			if m == mem {
				return &c, formatMemory(m)
			}
		}
		logger.Warn("Memory is not a supported value; dropping cpu and memory",
			zap.String("memory", memory),
		)
		return nil, ""
	}

	want, ok := cpuMemoryGrid[*cpu]
	if !ok {
		logger.Warn("Cpu is not a supported value; dropping cpu and memory",
			zap.Float64("cpu", *cpu),
		)
		return nil, ""
	}
	if mem, ok := memoryValue(memory); !ok || mem != want {
		if memory != "" {
			logger.Warn("Memory does not match cpu; using the supported combination",
				zap.Float64("cpu", *cpu),
				zap.String("memory", memory),
				zap.String("coercedMemory", formatMemory(want)),
			)
		}
		return cpu, formatMemory(want)
	}
	return cpu, formatMemory(want)
}
