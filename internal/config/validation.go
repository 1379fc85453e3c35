package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/yoanbernabeu/nbexec/internal/security"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// validate is shared; building a validator caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their yaml names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateGlobalConfig validates the global configuration
func ValidateGlobalConfig(config *GlobalConfig) ValidationErrors {
	errs := structErrors(config, "")

	if config.DefaultUser != "" {
		if err := security.ValidateRemoteUser(config.DefaultUser); err != nil {
			errs = append(errs, ValidationError{Field: "default_user", Message: err.Error()})
		}
	}
	if config.DefaultKeyPath != "" {
		if err := security.ValidateKeyPath(config.DefaultKeyPath); err != nil {
			errs = append(errs, ValidationError{Field: "default_key_path", Message: err.Error()})
		}
	}

	for _, name := range config.ListHosts() {
		host := config.Hosts[name]
		errs = append(errs, customHostErrors(name, &host, "hosts["+name+"].")...)
	}

	return errs
}

// ValidateHostConfig validates a single named host
func ValidateHostConfig(name string, config *HostConfig) ValidationErrors {
	errs := structErrors(config, "")
	return append(errs, customHostErrors(name, config, "")...)
}

// structErrors runs the tag rules and converts failures to ValidationErrors
func structErrors(s interface{}, prefix string) ValidationErrors {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Field: prefix, Message: err.Error()}}
	}

	var out ValidationErrors
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   prefix + fieldPath(fe.Namespace()),
			Message: ruleMessage(fe),
		})
	}
	return out
}

// fieldPath drops the root struct name from a validator namespace
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "startswith":
		return "must start with " + fe.Param()
	case "hostname_port":
		return "must be host:port"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// customHostErrors applies the rules the tags cannot express
func customHostErrors(name string, h *HostConfig, prefix string) ValidationErrors {
	var errs ValidationErrors

	if err := security.ValidateHostName(name); err != nil {
		errs = append(errs, ValidationError{Field: prefix + "name", Message: err.Error()})
	}
	if h.Host != "" {
		if err := security.ValidateHost(h.Host); err != nil {
			errs = append(errs, ValidationError{Field: prefix + "host", Message: err.Error()})
		}
	}
	if h.User != "" {
		if err := security.ValidateRemoteUser(h.User); err != nil {
			errs = append(errs, ValidationError{Field: prefix + "user", Message: err.Error()})
		}
	}
	if h.KeyPath != "" {
		if err := security.ValidateKeyPath(h.KeyPath); err != nil {
			errs = append(errs, ValidationError{Field: prefix + "key_path", Message: err.Error()})
		}
	}

	return errs
}
