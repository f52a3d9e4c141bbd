package asr

import (
	"github.com/foxseedlab/emasr/internal/asr"
	"github.com/foxseedlab/emasr/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (asr.Initializer, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewInitializer(c), nil
	})
}

// NewInitializer picks the backend named by the configuration. Unknown
// names are rejected by config validation before this is reached.
func NewInitializer(c *config.Config) asr.Initializer {
	if c.ASRBackend == config.BackendCloudSpeech {
		return NewCloudSpeechInitializer(CloudSpeechConfig{
			ProjectID:       c.GoogleCloudProjectID,
			CredentialsJSON: c.GoogleCloudCredentialsJSON,
			Language:        c.DefaultLanguage,
			Location:        c.GoogleCloudSpeechLocation,
			Model:           c.GoogleCloudSpeechModel,
		})
	}
	return NullInitializer{}
}
