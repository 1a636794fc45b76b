package modules

import (
	"context"
	"net/http"

	"contrib.go.opencensus.io/exporter/prometheus"
	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-dataspace/build"
	"github.com/filecoin-project/go-dataspace/journal"
	"github.com/filecoin-project/go-dataspace/journal/fsjournal"
	"github.com/filecoin-project/go-dataspace/metrics"
	"github.com/filecoin-project/go-dataspace/node/config"
	"github.com/filecoin-project/go-dataspace/node/modules/dtypes"
	"github.com/filecoin-project/go-dataspace/node/modules/helpers"
	"github.com/filecoin-project/go-dataspace/node/repo"
)

// DisabledEvents reads the journal events to skip from the config, or from
// the environment when the config leaves them unset
func DisabledEvents(cfg *config.Node) (journal.DisabledEvents, error) {
	if cfg.Journal.DisabledEvents == "" {
		return journal.EnvDisabledEvents(), nil
	}
	return journal.ParseDisabledEvents(cfg.Journal.DisabledEvents)
}

// OpenFilesystemJournal opens the journal in the repo, or a journal that
// records nothing when it is disabled
func OpenFilesystemJournal(lr repo.LockedRepo, lc fx.Lifecycle, cfg *config.Node, disabled journal.DisabledEvents) (journal.Journal, error) {
	if !cfg.Journal.Enabled {
		return journal.NilJournal(), nil
	}

	var opts []fsjournal.Option
	if cfg.Journal.MaxSize > 0 {
		opts = append(opts, fsjournal.WithSizeLimit(cfg.Journal.MaxSize))
	}
	if cfg.Journal.MaxBackups > 0 {
		opts = append(opts, fsjournal.WithMaxBackups(cfg.Journal.MaxBackups))
	}

	jrnl, err := fsjournal.OpenFSJournal(lr.Path(), disabled, opts...)
	if err != nil {
		return nil, xerrors.Errorf("failed to open filesystem journal: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error { return jrnl.Close() },
	})

	return jrnl, err
}

// MetricsHandler registers the views and returns the prometheus scrape handler.
// The default registry also carries the datastore and process collectors.
func MetricsHandler(cfg *config.Node) (dtypes.MetricsHandler, error) {
	if err := view.Register(metrics.DefaultViews...); err != nil {
		return nil, xerrors.Errorf("registering metric views: %w", err)
	}

	registry, ok := promclient.DefaultRegisterer.(*promclient.Registry)
	if !ok {
		return nil, xerrors.Errorf("unexpected default prometheus registerer %T", promclient.DefaultRegisterer)
	}
	exporter, err := prometheus.NewExporter(prometheus.Options{
		Registry:  registry,
		Namespace: cfg.Metrics.Namespace,
	})
	if err != nil {
		return nil, xerrors.Errorf("creating prometheus exporter: %w", err)
	}
	return exporter, nil
}

// NilMetricsHandler is used when metrics are disabled
func NilMetricsHandler() dtypes.MetricsHandler {
	return http.NotFoundHandler()
}

// RecordNodeInfo records the node info metric once
func RecordNodeInfo(mctx helpers.MetricsCtx, cfg *config.Node, _ dtypes.MetricsHandler) error {
	ctx, err := tag.New(mctx,
		tag.Upsert(metrics.Version, build.BuildVersion),
		tag.Upsert(metrics.Commit, build.CurrentCommit),
		tag.Upsert(metrics.NodeType, cfg.Negotiation.Roles),
		tag.Upsert(metrics.Participant, cfg.ParticipantID),
	)
	if err != nil {
		return err
	}
	stats.Record(ctx, metrics.DataspaceInfo.M(1))
	return nil
}
