package gateway

import (
	"net"

	"github.com/polisai/polis-gateway/pkg/config"
	gwtls "github.com/polisai/polis-gateway/internal/tls"
)

// NewArtifactStore builds the artifact store for the configured network
// directory, generating new material according to cfg.PKI.
func NewArtifactStore(cfg *config.Config, logger *gwtls.TLSLogger, metrics *gwtls.TLSMetricsCollector) (*gwtls.ArtifactStore, error) {
	algorithm, err := gwtls.ParseKeyAlgorithm(cfg.PKI.KeyAlgorithm)
	if err != nil {
		return nil, gwtls.NewConfigValidationError("pki.key_algorithm", cfg.PKI.KeyAlgorithm, err.Error())
	}
	keys := gwtls.NewKeyPairGenerator(algorithm)
	if cfg.PKI.RSABits > 0 {
		keys.RSABits = cfg.PKI.RSABits
	}

	ips := make([]net.IP, 0, len(cfg.GRPC.ExtraIPs))
	for _, s := range cfg.GRPC.ExtraIPs {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, gwtls.NewConfigValidationError("grpc.extra_ips", s, "not an IP address")
		}
		ips = append(ips, ip)
	}

	authority := gwtls.NewCertificateAuthority(gwtls.AuthorityOptions{
		Keys:           keys,
		Organization:   cfg.PKI.Organization,
		Validity:       cfg.PKI.Validity.Std(),
		ServerDNSNames: cfg.GRPC.ExtraDNSNames,
		ServerIPs:      ips,
	})

	return gwtls.NewArtifactStore(cfg.ArtifactDir(), gwtls.StoreOptions{
		Authority:  authority,
		ServerName: cfg.GRPC.ServerName,
		Logger:     logger,
		Metrics:    metrics,
	})
}
