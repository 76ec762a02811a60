package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/TFMV/duckprof/pkg/client"
	"github.com/TFMV/duckprof/pkg/models"
)

// backend is what the read and analyze commands need, served either by a
// local engine or by a remote server.
type backend interface {
	Analyze(ctx context.Context, query string) (*models.AnalysisResult, error)
	GetRecord(ctx context.Context, id int64) (*models.QueryRecord, error)
	ListRecords(ctx context.Context, opts models.ListOptions) ([]models.RecordSummary, error)
	HasVisualization(ctx context.Context, id int64) (bool, error)
	Summarize(ctx context.Context, id int64) (string, error)
	Close()
}

// backend connects to remote.address when set and opens the local
// databases otherwise.
func (a *app) backend(ctx context.Context, cmd *cobra.Command) (backend, error) {
	if err := a.setup(cmd); err != nil {
		return nil, err
	}
	if !a.cfg.Remote.Enabled() {
		e, err := a.openEngine(ctx)
		if err != nil {
			return nil, err
		}
		return localBackend{e}, nil
	}

	r := a.cfg.Remote
	c, err := client.New(client.Config{
		Address:  r.Address,
		TLS:      r.TLS,
		Token:    r.Token,
		Username: r.Username,
		Password: r.Password,
		Timeout:  r.Timeout,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.logger.Debug().Str("address", r.Address).Msg("Using remote server")
	return remoteBackend{c}, nil
}

type localBackend struct {
	*engine
}

func (b localBackend) Analyze(ctx context.Context, query string) (*models.AnalysisResult, error) {
	return b.analysis.Analyze(ctx, query)
}

func (b localBackend) GetRecord(ctx context.Context, id int64) (*models.QueryRecord, error) {
	return b.analysis.GetRecord(ctx, id)
}

func (b localBackend) ListRecords(ctx context.Context, opts models.ListOptions) ([]models.RecordSummary, error) {
	return b.analysis.ListRecords(ctx, opts)
}

func (b localBackend) HasVisualization(_ context.Context, id int64) (bool, error) {
	return b.analysis.HasVisualization(id), nil
}

func (b localBackend) Summarize(ctx context.Context, id int64) (string, error) {
	return b.analysis.Summarize(ctx, id)
}

type remoteBackend struct {
	*client.Client
}

func (b remoteBackend) HasVisualization(ctx context.Context, id int64) (bool, error) {
	info, err := b.Client.HasVisualization(ctx, id)
	if err != nil {
		return false, err
	}
	return info.HasVisualization, nil
}

func (b remoteBackend) Close() {
	_ = b.Client.Close()
}
