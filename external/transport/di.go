package transport

import (
	"github.com/foxseedlab/emasr/internal/config"
	"github.com/foxseedlab/emasr/internal/transport"
	"github.com/samber/do/v2"
)

// New selects the transport variant from the certificate configuration.
// The returned listener is not bound yet.
func New(cfg *config.Config) transport.Listener {
	variant := transport.SelectVariant(cfg.CertFile)
	return NewWebSocketListener(variant, cfg.CertFile, cfg.KeyFile)
}

func RegisterDI(injector do.Injector) {
	do.ProvideValue(injector, transport.Factory(New))
}
