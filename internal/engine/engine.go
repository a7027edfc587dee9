// Package engine abstracts the transcoding backends. The local engine drives
// ffmpeg on this host; the remote engine ships the source to a server-side
// service. The orchestrator resolves which engines to try once per job.
package engine

import (
	"context"

	"veil/internal/filtergraph"
	"veil/internal/services"
)

// Kind identifies a transcoding backend.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Request describes one transcode invocation. The graph carries every
// filter decision already made by the stages; engines only execute it.
type Request struct {
	SourcePath string
	OutputPath string
	Graph      *filtergraph.Graph
	Quality    string
}

// Engine executes transcode requests.
type Engine interface {
	Kind() Kind
	Available(ctx context.Context) bool
	Transcode(ctx context.Context, req Request) error
}

// Resolve returns the ordered engine candidates for an execution mode,
// filtered to those currently available. Local mode uses only the local
// engine, server mode only the remote one, and hybrid tries local first with
// remote as the fallback.
func Resolve(ctx context.Context, mode string, local, remote Engine) ([]Engine, error) {
	var ordered []Engine
	switch mode {
	case "local":
		ordered = []Engine{local}
	case "server":
		ordered = []Engine{remote}
	default:
		ordered = []Engine{local, remote}
	}

	var available []Engine
	for _, candidate := range ordered {
		if candidate == nil {
			continue
		}
		if candidate.Available(ctx) {
			available = append(available, candidate)
		}
	}
	if len(available) == 0 {
		return nil, services.Wrap(services.ErrEngineUnavailable, "engine", "resolve",
			"no transcoding engine available for mode "+mode, nil)
	}
	return available, nil
}
