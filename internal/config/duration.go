package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a yaml-friendly wrapper around time.Duration. It accepts Go
// duration strings ("700ms", "1m30s") and bare numbers, which are read as
// seconds for compatibility with older configs.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		var secs float64
		if _, serr := fmt.Sscanf(raw, "%f", &secs); serr == nil {
			*d = Duration(time.Duration(secs * float64(time.Second)))
			return nil
		}
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
