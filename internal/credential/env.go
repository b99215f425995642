package credential

import (
	"context"
	"os"
	"strings"
)

// EnvPrefix is prepended to the upper-cased key to form the variable name,
// e.g. FINVOICE_OPENAI_EPHEMERAL_TOKEN.
const EnvPrefix = "FINVOICE_"

// EnvStore reads tokens from environment variables.
type EnvStore struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

var _ Store = EnvStore{}

// Get implements [Store].
func (e EnvStore) Get(_ context.Context, key string) (string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(EnvVar(key))
	return nonEmpty(v)
}

// EnvVar returns the variable name consulted for key.
func EnvVar(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}
