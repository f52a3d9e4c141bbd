package journal

import (
	"github.com/foxseedlab/emasr/internal/repository"
	"github.com/foxseedlab/emasr/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Journal, error) {
		repo, err := do.Invoke[repository.Repository](i)
		if err != nil {
			return nil, err
		}
		wh := do.MustInvoke[webhook.Sender](i)
		return New(repo, wh), nil
	})
}
