package tls

import "strings"

// Presence records which artifact files exist on disk.
type Presence [artifactCount]bool

// PresenceOf builds a Presence with the given files marked present.
func PresenceOf(files ...ArtifactFile) Presence {
	var p Presence
	for _, f := range files {
		p[f] = true
	}
	return p
}

// Has reports whether f exists.
func (p Presence) Has(f ArtifactFile) bool { return p[f] }

// pairComplete reports whether both files of role's pair exist.
func (p Presence) pairComplete(role Role) bool {
	cert, key := pairFiles(role)
	return p[cert] && p[key]
}

// BundleState is a bit set describing which pairs are missing. Zero means
// every file is present.
type BundleState uint8

const StateComplete BundleState = 0

const (
	StateMissingCA BundleState = 1 << iota
	StateMissingServerPair
	StateMissingClientPair
)

func (s BundleState) String() string {
	if s == StateComplete {
		return "complete"
	}
	var parts []string
	if s&StateMissingCA != 0 {
		parts = append(parts, "missing_ca")
	}
	if s&StateMissingServerPair != 0 {
		parts = append(parts, "missing_server_pair")
	}
	if s&StateMissingClientPair != 0 {
		parts = append(parts, "missing_client_pair")
	}
	return strings.Join(parts, "|")
}

// DetectState classifies a presence probe. A pair with only one of its two
// files counts as missing.
func DetectState(p Presence) BundleState {
	state := StateComplete
	if !p.pairComplete(RoleCA) {
		state |= StateMissingCA
	}
	if !p.pairComplete(RoleServer) {
		state |= StateMissingServerPair
	}
	if !p.pairComplete(RoleClient) {
		state |= StateMissingClientPair
	}
	return state
}

// Plan lists the pairs a reconciliation regenerates.
type Plan struct {
	CA     bool
	Server bool
	Client bool
}

// PlanFor maps a state to the smallest regeneration that yields a usable
// bundle. A new CA invalidates every leaf, so it regenerates all pairs.
func PlanFor(s BundleState) Plan {
	if s&StateMissingCA != 0 {
		return Plan{CA: true, Server: true, Client: true}
	}
	return Plan{
		Server: s&StateMissingServerPair != 0,
		Client: s&StateMissingClientPair != 0,
	}
}

// Empty reports whether nothing needs regenerating.
func (p Plan) Empty() bool { return !p.CA && !p.Server && !p.Client }

// Regenerates reports whether role's pair is rewritten.
func (p Plan) Regenerates(role Role) bool {
	switch role {
	case RoleCA:
		return p.CA
	case RoleServer:
		return p.Server
	case RoleClient:
		return p.Client
	default:
		return false
	}
}

func (p Plan) String() string {
	if p.Empty() {
		return "load"
	}
	var roles []string
	for _, role := range []Role{RoleCA, RoleServer, RoleClient} {
		if p.Regenerates(role) {
			roles = append(roles, role.String())
		}
	}
	return "regenerate:" + strings.Join(roles, ",")
}

// WriteOrder returns the files the plan writes, in the order they must be
// committed. Leaves go before the CA, and inside each pair the file that was
// missing goes last. An interrupted write therefore always leaves some pair
// incomplete, and the next reconciliation redoes the work.
func (p Plan) WriteOrder(present Presence) []ArtifactFile {
	var order []ArtifactFile
	for _, role := range []Role{RoleServer, RoleClient, RoleCA} {
		if !p.Regenerates(role) {
			continue
		}
		cert, key := pairFiles(role)
		if !present[cert] {
			order = append(order, key, cert)
		} else {
			order = append(order, cert, key)
		}
	}
	return order
}
