package main

import (
	"github.com/cockroachdb/errors"
	"github.com/metabrainz/brainzutils-go/config"
	"github.com/metabrainz/brainzutils-go/ratelimit"
	"github.com/spf13/cobra"
)

// limitsView prints a window as a duration string in both formats.
type limitsView struct {
	Scope    string `json:"scope" yaml:"scope"`
	PerToken int64  `json:"per_token" yaml:"per_token"`
	PerIP    int64  `json:"per_ip" yaml:"per_ip"`
	Window   string `json:"window" yaml:"window"`
}

func viewLimits(scope string, l ratelimit.Limits) limitsView {
	v := limitsView{Scope: scope, PerToken: l.PerToken, PerIP: l.PerIP}
	if l.Window > 0 {
		v.Window = l.Window.String()
	}
	return v
}

func (a *app) limiter(cmd *cobra.Command) (*ratelimit.Limiter, error) {
	c, err := a.connect(cmd.Context())
	if err != nil {
		return nil, err
	}
	return ratelimit.New(c, ratelimit.WithLogger(a.log))
}

func newRateLimitCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Manage the stored rate limits",
	}
	cmd.AddCommand(newRateLimitGetCommand(a), newRateLimitSetCommand(a), newRateLimitWatchCommand(a))
	return cmd
}

func newRateLimitGetCommand(a *app) *cobra.Command {
	var (
		scope    string
		resolved bool
	)
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the stored limits of a scope, the global ones by default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.limiter(cmd)
			if err != nil {
				return err
			}
			var limits ratelimit.Limits
			if resolved {
				limits, err = l.Resolve(cmd.Context(), scope, ratelimit.Limits{})
			} else {
				limits, err = l.GetRateLimits(cmd.Context(), scope)
			}
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, viewLimits(scope, limits))
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "limit scope")
	cmd.Flags().BoolVar(&resolved, "resolved", false, "print the effective limits, with global and default fallbacks")
	return cmd
}

func newRateLimitSetCommand(a *app) *cobra.Command {
	var (
		scope    string
		file     string
		perToken int64
		perIP    int64
		window   string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the limits of a scope, or every limit of a limits file",
		Long: "Store the limits of a scope. Without any limit flag the global limits come\n" +
			"from the ratelimit section of the configuration. With --file every entry\n" +
			"of the limits file is stored.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				f, err := config.LoadLimits(file)
				if err != nil {
					return err
				}
				l, err := a.limiter(cmd)
				if err != nil {
					return err
				}
				if err := f.Apply(cmd.Context(), l); err != nil {
					return err
				}
				a.log.Info("applied limits from %s (%d scopes)", file, len(f.Scopes))
				return nil
			}

			flags := cmd.Flags()
			var limits ratelimit.Limits
			switch {
			case flags.Changed("per-token") || flags.Changed("per-ip") || flags.Changed("window"):
				w, err := parseExpire(window)
				if err != nil {
					return err
				}
				limits = ratelimit.Limits{PerToken: perToken, PerIP: perIP, Window: w}
			case scope == "":
				limits = a.cfg.RateLimit.Limits()
			default:
				return errors.New("no limits given, use --per-token, --per-ip or --window")
			}
			if err := limits.Validate(); err != nil {
				return err
			}
			l, err := a.limiter(cmd)
			if err != nil {
				return err
			}
			if err := l.SetRateLimits(cmd.Context(), limits, scope); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, viewLimits(scope, limits))
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "limit scope, empty for the global limits")
	cmd.Flags().StringVar(&file, "file", "", "limits file to apply")
	cmd.Flags().Int64Var(&perToken, "per-token", 0, "requests per window for an authenticated user, 0 unsets")
	cmd.Flags().Int64Var(&perIP, "per-ip", 0, "requests per window for an anonymous address, 0 unsets")
	cmd.Flags().StringVar(&window, "window", "", "window length in whole seconds, e.g. 10s")
	return cmd
}

func newRateLimitWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [FILE]",
		Short: "Apply a limits file and keep applying it when it changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.RateLimit.LimitsFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no limits file, pass one or set ratelimit.limits_file")
			}
			l, err := a.limiter(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			w, err := config.WatchLimits(ctx, path,
				func(f config.LimitsFile) {
					if err := f.Apply(ctx, l); err != nil {
						a.log.Error("cannot apply limits from %s: %v", path, err)
						return
					}
					a.log.Info("applied limits from %s (%d scopes)", path, len(f.Scopes))
				},
				func(err error) {
					a.log.Error("%v", err)
				},
			)
			if err != nil {
				return err
			}
			<-ctx.Done()
			w.Stop()
			return nil
		},
	}
}
