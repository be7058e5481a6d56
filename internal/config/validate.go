package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags first, then the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	labels := make(map[string]bool, len(c.Imaging.Sizes))
	for _, s := range c.Imaging.Sizes {
		if labels[s.Label] {
			return fmt.Errorf("imaging.sizes: duplicate label %q", s.Label)
		}
		labels[s.Label] = true
	}

	seen := make(map[string]bool, len(c.Airports))
	for _, ap := range c.Airports {
		id := strings.ToLower(ap.ID)
		if seen[id] {
			return fmt.Errorf("airports: duplicate id %q", ap.ID)
		}
		seen[id] = true

		if ap.Timezone != "" {
			if _, err := time.LoadLocation(ap.Timezone); err != nil {
				return fmt.Errorf("airport %s: invalid timezone %q: %w", ap.ID, ap.Timezone, err)
			}
		}
		for i, cam := range ap.Webcams {
			if cam.Type != "push" && cam.Push == nil && cam.URL == "" {
				return fmt.Errorf("airport %s webcam %d: pull camera needs url", ap.ID, i)
			}
		}
	}
	return nil
}
