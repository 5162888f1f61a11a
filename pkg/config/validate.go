package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and cross-field constraints.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	for _, name := range cfg.Protocol.Serializers.Deny {
		if name == cfg.Protocol.DefaultSerializer {
			return fmt.Errorf("protocol: default serializer %q is denied", name)
		}
	}

	for name, app := range cfg.Applications {
		if name == "" {
			return fmt.Errorf("applications: empty application name")
		}
		if app.SubMaxInactiveInterval < 0 || app.MaxInactiveInterval < 0 {
			return fmt.Errorf("applications.%s: negative inactivity interval", name)
		}
	}
	return nil
}
