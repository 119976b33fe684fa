package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// AddFlagValidation wraps a flag's value so Set rejects bad input before the
// command runs.
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	originalSet := flag.Value.Set
	flag.Value = &validatingValue{
		Value:       flag.Value,
		validator:   validator,
		originalSet: originalSet,
	}
}

type validatingValue struct {
	pflag.Value
	validator   func(string) error
	originalSet func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.originalSet(val)
}

// ValidateFormat rejects output formats outside the supported set.
func ValidateFormat(supported []string) func(string) error {
	return func(format string) error {
		for _, s := range supported {
			if strings.EqualFold(format, s) {
				return nil
			}
		}
		return fmt.Errorf("unsupported format: %s (supported: %s)", format, strings.Join(supported, ", "))
	}
}
