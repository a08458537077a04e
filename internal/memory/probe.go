package memory

import (
	"golang.org/x/sys/unix"
)

// defaultCeilingBytes is the conservative fallback ceiling when the host
// cannot be probed.
const defaultCeilingBytes = 2 << 30

// Probe reports the maximum safe allocation ceiling for conversion work.
type Probe interface {
	Ceiling() (int64, error)
}

// FixedProbe is a probe with a predetermined ceiling.
type FixedProbe int64

func (p FixedProbe) Ceiling() (int64, error) {
	return int64(p), nil
}

// SystemProbe derives the ceiling from installed system memory, allowing
// conversions to use up to half of it.
type SystemProbe struct{}

func (SystemProbe) Ceiling() (int64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	total := int64(info.Totalram) * int64(info.Unit)
	if total <= 0 {
		return defaultCeilingBytes, nil
	}
	return total / 2, nil
}

// ResolveCeiling picks the effective ceiling: the configured value when
// set, otherwise the probe's answer, otherwise the conservative default.
func ResolveCeiling(configuredBytes int64, probe Probe) int64 {
	if configuredBytes > 0 {
		return configuredBytes
	}
	if probe == nil {
		probe = SystemProbe{}
	}
	ceiling, err := probe.Ceiling()
	if err != nil || ceiling <= 0 {
		return defaultCeilingBytes
	}
	return ceiling
}
