package hotword

import (
	"github.com/foxseedlab/emasr/internal/config"
	"github.com/foxseedlab/emasr/internal/hotword"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (hotword.Loader, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewFileLoader(c.FstIncWts), nil
	})
}
