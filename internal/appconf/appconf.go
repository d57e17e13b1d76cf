// Package appconf enumerates the operating environments the server runs in.
package appconf

// Environment names the current operating environment.
type Environment string

const (
	Development Environment = "development"
	Test        Environment = "test"
	Production  Environment = "production"
)

// EnvFlagToEnvironment maps the -env flag value, defaulting unknown values
// to development.
func EnvFlagToEnvironment(value string) Environment {
	switch value {
	case string(Test):
		return Test
	case string(Production):
		return Production
	default:
		return Development
	}
}
