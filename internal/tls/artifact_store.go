package tls

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "polis.gateway/tls"

// StoreOptions configures an ArtifactStore.
type StoreOptions struct {
	Authority *CertificateAuthority

	// ServerName is the subject of the server certificate. Clients must use
	// the same name as their TLS target name.
	ServerName string

	// RootName and ClientName default to names derived from ServerName.
	RootName   string
	ClientName string

	Logger  *TLSLogger
	Metrics *TLSMetricsCollector
	Tracer  trace.Tracer
}

// ArtifactStore is the only writer of the bundle files in its directory.
type ArtifactStore struct {
	dir        string
	authority  *CertificateAuthority
	serverName string
	rootName   string
	clientName string
	logger     *TLSLogger
	metrics    *TLSMetricsCollector
	tracer     trace.Tracer
}

// NewArtifactStore creates a store rooted at dir.
func NewArtifactStore(dir string, opts StoreOptions) (*ArtifactStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, NewConfigMissingError("artifact_dir")
	}
	if strings.TrimSpace(opts.ServerName) == "" {
		return nil, NewConfigMissingError("server_name")
	}

	store := &ArtifactStore{
		dir:        dir,
		authority:  opts.Authority,
		serverName: opts.ServerName,
		rootName:   opts.RootName,
		clientName: opts.ClientName,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
	}
	if store.authority == nil {
		store.authority = NewCertificateAuthority(AuthorityOptions{})
	}
	if store.rootName == "" {
		store.rootName = opts.ServerName + " Root CA"
	}
	if store.clientName == "" {
		store.clientName = opts.ServerName + " client"
	}
	if store.logger == nil {
		store.logger = NewTLSLogger(nil)
	}
	if store.tracer == nil {
		store.tracer = otel.Tracer(tracerName)
	}
	return store, nil
}

// Dir returns the artifact directory.
func (s *ArtifactStore) Dir() string {
	return s.dir
}

// Probe reports which artifact files exist. Any error other than a missing
// file is a StorageError.
func (s *ArtifactStore) Probe() (Presence, error) {
	return ProbeDir(s.dir)
}

// ProbeDir reports which artifact files exist in dir.
func ProbeDir(dir string) (Presence, error) {
	var present Presence
	for _, f := range Artifacts() {
		path := f.Path(dir)
		info, err := os.Stat(path)
		switch {
		case err == nil:
			if !info.Mode().IsRegular() {
				return present, NewStorageReadError(path, fmt.Errorf("not a regular file (mode %s)", info.Mode()))
			}
			present[f] = true
		case errors.Is(err, fs.ErrNotExist):
		case errors.Is(err, fs.ErrPermission):
			return present, NewStoragePermissionError(path, "stat", err)
		default:
			return present, NewStorageReadError(path, err)
		}
	}
	return present, nil
}

// Reconcile makes the directory hold a complete bundle and returns it. When
// all six files exist they are loaded untouched. Otherwise only the
// incomplete pairs are regenerated, except that a missing CA regenerates
// everything. It must finish before the gateway starts listening.
func (s *ArtifactStore) Reconcile(ctx context.Context) (bundle *Bundle, err error) {
	ctx, span := s.tracer.Start(ctx, "tls.reconcile", trace.WithAttributes(
		attribute.String("tls.artifact_dir", s.dir),
	))
	defer span.End()

	start := time.Now()
	state := StateComplete
	plan := Plan{}
	defer func() {
		duration := time.Since(start)
		s.logger.LogReconcile(ctx, s.dir, state, plan, duration, err)
		if s.metrics != nil {
			s.metrics.RecordReconcile(ctx, state, duration, err)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reconcile failed")
		}
	}()

	if err = os.MkdirAll(s.dir, 0o700); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, NewStoragePermissionError(s.dir, "mkdir", err)
		}
		return nil, NewStorageWriteError(s.dir, err)
	}

	present, err := s.Probe()
	if err != nil {
		return nil, err
	}

	state = DetectState(present)
	plan = PlanFor(state)
	span.SetAttributes(
		attribute.String("tls.bundle_state", state.String()),
		attribute.String("tls.plan", plan.String()),
	)

	bundle = &Bundle{Dir: s.dir}
	if plan.CA {
		bundle.CA, err = s.authority.CreateRoot(s.rootName)
	} else {
		bundle.CA, err = s.load(ctx, RoleCA)
	}
	if err != nil {
		return nil, err
	}

	if plan.Server {
		bundle.Server, err = s.authority.Issue(RoleServer, s.serverName, bundle.CA)
	} else {
		bundle.Server, err = s.load(ctx, RoleServer)
	}
	if err != nil {
		return nil, err
	}

	if plan.Client {
		bundle.Client, err = s.authority.Issue(RoleClient, s.clientName, bundle.CA)
	} else {
		bundle.Client, err = s.load(ctx, RoleClient)
	}
	if err != nil {
		return nil, err
	}

	if err = s.persist(ctx, bundle, plan, present); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (s *ArtifactStore) load(ctx context.Context, role Role) (*Identity, error) {
	certFile, keyFile := pairFiles(role)

	certPEM, err := s.read(ctx, certFile)
	if err != nil {
		return nil, err
	}
	keyPEM, err := s.read(ctx, keyFile)
	if err != nil {
		return nil, err
	}

	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		err = NewStorageCorruptError(certFile.Path(s.dir), err)
		s.logger.LogArtifactLoad(ctx, certFile, certFile.Path(s.dir), err)
		return nil, err
	}
	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		err = NewStorageCorruptError(keyFile.Path(s.dir), err)
		s.logger.LogArtifactLoad(ctx, keyFile, keyFile.Path(s.dir), err)
		return nil, err
	}

	s.logger.LogArtifactLoad(ctx, certFile, certFile.Path(s.dir), nil)
	s.logger.LogArtifactLoad(ctx, keyFile, keyFile.Path(s.dir), nil)
	return &Identity{
		Role:        role,
		Certificate: cert,
		Key:         key,
		CertPEM:     certPEM,
		KeyPEM:      keyPEM,
	}, nil
}

func (s *ArtifactStore) read(ctx context.Context, f ArtifactFile) ([]byte, error) {
	path := f.Path(s.dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			err = NewStoragePermissionError(path, "read", err)
		} else {
			err = NewStorageReadError(path, err)
		}
		s.logger.LogArtifactLoad(ctx, f, path, err)
		return nil, err
	}
	return data, nil
}

func (s *ArtifactStore) persist(ctx context.Context, bundle *Bundle, plan Plan, present Presence) error {
	for _, f := range plan.WriteOrder(present) {
		id := bundle.Identity(f.Role())
		data := id.CertPEM
		if f.IsKey() {
			data = id.KeyPEM
		}

		path := f.Path(s.dir)
		if err := writeFileAtomic(path, data, f.Mode()); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				err = NewStoragePermissionError(path, "write", err)
			} else {
				err = NewStorageWriteError(path, err)
			}
			s.logger.LogArtifactWrite(ctx, f, path, err)
			return err
		}

		s.logger.LogArtifactWrite(ctx, f, path, nil)
		if s.metrics != nil {
			s.metrics.RecordArtifactWritten(ctx, f)
		}
	}
	return nil
}
