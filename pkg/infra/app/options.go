package app

import (
	"github.com/spf13/pflag"
)

// CliOptions abstracts configuration options for an application command line.
type CliOptions interface {
	// AddFlags binds all option flags to the specified FlagSet.
	AddFlags(fs *pflag.FlagSet)

	// Validate checks all options for validity.
	Validate() error

	// Complete fills in defaults for unset options.
	Complete() error
}
