package main

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"threatlens/pkg/analytics"
	"threatlens/pkg/config"
	"threatlens/pkg/structlog"
	"threatlens/pkg/validation"
)

type overviewOptions struct {
	tenant   string
	start    string
	end      string
	top      int
	lookback time.Duration
}

func newOverviewCmd(root *rootOptions) *cobra.Command {
	opts := &overviewOptions{}
	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Print the threat landscape overview as JSON",
		Long: `Runs the landscape aggregation directly against the event store and prints
the result. The timeline is always hourly. Without --tenant the overview
covers every tenant.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configFile)
			if err != nil {
				return err
			}
			q, err := opts.query(time.Now().UTC(), cfg.Analytics.MaxWindow)
			if err != nil {
				return err
			}

			logger, err := structlog.New(cfg.Telemetry.ServiceName, cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.Landscape(ctx, q)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.tenant, "tenant", "", "tenant id to scope the overview to")
	f.StringVar(&opts.start, "start", "", "window start (RFC3339 or YYYY-MM-DD)")
	f.StringVar(&opts.end, "end", "", "window end (RFC3339 or YYYY-MM-DD)")
	f.IntVar(&opts.top, "top", 10, "entries per ranking")
	f.DurationVar(&opts.lookback, "lookback", 24*time.Hour, "window length when --start is omitted")
	return cmd
}

// query decodes the flags the same way the HTTP API decodes query strings.
func (o *overviewOptions) query(now time.Time, maxWindow time.Duration) (analytics.Query, error) {
	end := o.end
	if end == "" {
		end = now.Format(time.RFC3339)
	}
	start := o.start
	if start == "" {
		endAt, err := validation.ParseTime("end", end)
		if err != nil {
			return analytics.Query{}, err
		}
		start = endAt.Add(-o.lookback).Format(time.RFC3339)
	}
	values := url.Values{
		"start": {start},
		"end":   {end},
		"top":   {strconv.Itoa(o.top)},
	}
	q, err := validation.ParseQuery(values, maxWindow)
	if err != nil {
		return q, err
	}
	if o.tenant != "" {
		id, err := validation.ValidateTenantID(o.tenant)
		if err != nil {
			return q, err
		}
		q.TenantID = &id
	}
	return q, nil
}
