package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/metabrainz/brainzutils-go/cache"
	"github.com/spf13/cobra"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// keyFlags are the per call options shared by the key commands.
type keyFlags struct {
	namespace string
	raw       bool
	verbatim  bool
}

func (f *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.namespace, "namespace", "n", "", "versioned namespace of the keys")
	cmd.Flags().BoolVar(&f.raw, "raw", false, "store and read bytes without encoding")
	cmd.Flags().BoolVar(&f.verbatim, "verbatim", false, "use the keys as they are, without prefix or hashing")
}

func (f *keyFlags) options() []cache.CallOption {
	var opts []cache.CallOption
	if f.namespace != "" {
		opts = append(opts, cache.Namespace(f.namespace))
	}
	if f.raw {
		opts = append(opts, cache.Raw())
	}
	if f.verbatim {
		opts = append(opts, cache.Verbatim())
	}
	return opts
}

// parseExpire accepts Go durations plus days and weeks, e.g. 1d2h.
func parseExpire(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid expiry %q", s)
	}
	if d < 0 {
		return 0, errors.Newf("invalid expiry %q", s)
	}
	return d, nil
}

// parseJSONValue decodes a JSON value, keeping whole numbers as int64.
func parseJSONValue(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrap(err, "invalid json value")
	}
	return fromJSON(v), nil
}

func fromJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i, e := range t {
			t[i] = fromJSON(e)
		}
	case map[string]any:
		for k, e := range t {
			t[k] = fromJSON(e)
		}
	}
	return v
}

func newGetCommand(a *app) *cobra.Command {
	var kf keyFlags
	cmd := &cobra.Command{
		Use:   "get KEY...",
		Short: "Print the values of keys, missing ones as null",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			values, err := c.GetMany(cmd.Context(), args, kf.options()...)
			if err != nil {
				return err
			}
			out := make(map[string]any, len(values))
			for k, v := range values {
				out[k] = printable(v)
			}
			return render(cmd.OutOrStdout(), a.output, out)
		},
	}
	kf.register(cmd)
	return cmd
}

func newSetCommand(a *app) *cobra.Command {
	var (
		kf      keyFlags
		expire  string
		asJSON  bool
		onlyNew bool
	)
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := parseExpire(expire)
			if err != nil {
				return err
			}
			var value any = args[1]
			if asJSON {
				if value, err = parseJSONValue(args[1]); err != nil {
					return err
				}
			}
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			var stored bool
			if onlyNew {
				stored, err = c.Add(cmd.Context(), args[0], value, ttl, kf.options()...)
			} else {
				stored, err = c.Set(cmd.Context(), args[0], value, ttl, kf.options()...)
			}
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, map[string]any{"key": args[0], "stored": stored})
		},
	}
	kf.register(cmd)
	cmd.Flags().StringVar(&expire, "expire", "", "time to live, e.g. 90s or 1d2h")
	cmd.Flags().BoolVar(&asJSON, "json", false, "parse VALUE as JSON")
	cmd.Flags().BoolVar(&onlyNew, "nx", false, "only store the value if the key does not exist")
	return cmd
}

func newDelCommand(a *app) *cobra.Command {
	var kf keyFlags
	cmd := &cobra.Command{
		Use:   "del KEY...",
		Short: "Delete keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			n, err := c.DeleteMany(cmd.Context(), args, kf.options()...)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, map[string]any{"deleted": n})
		},
	}
	kf.register(cmd)
	return cmd
}

func newIncrCommand(a *app) *cobra.Command {
	var (
		kf keyFlags
		by int64
	)
	cmd := &cobra.Command{
		Use:   "incr KEY",
		Short: "Increment a counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			n, err := c.IncrementBy(cmd.Context(), args[0], by, kf.options()...)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, n)
		},
	}
	kf.register(cmd)
	cmd.Flags().Int64Var(&by, "by", 1, "amount to add")
	return cmd
}

func newKeyCommand(a *app) *cobra.Command {
	var kf keyFlags
	cmd := &cobra.Command{
		Use:   "key KEY",
		Short: "Print the physical key a logical key maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			k, err := c.DeriveKey(cmd.Context(), args[0], kf.options()...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), k)
			return err
		},
	}
	kf.register(cmd)
	return cmd
}

type namespaceVersion struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Found     bool   `json:"found" yaml:"found"`
	Version   int64  `json:"version" yaml:"version"`
}

func newNamespaceCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "namespace",
		Short: "Inspect and invalidate versioned namespaces",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "version NAMESPACE",
		Short: "Print the current version of a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			found, v, err := c.NamespaceVersion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.output, namespaceVersion{Namespace: args[0], Found: found, Version: v})
		},
	}, &cobra.Command{
		Use:   "invalidate NAMESPACE...",
		Short: "Make every key of the namespaces unreachable",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]namespaceVersion, 0, len(args))
			for _, ns := range args {
				v, err := c.InvalidateNamespace(cmd.Context(), ns)
				if err != nil {
					return err
				}
				a.log.Info("invalidated namespace %s, now at version %d", ns, v)
				out = append(out, namespaceVersion{Namespace: ns, Found: true, Version: v})
			}
			return render(cmd.OutOrStdout(), a.output, out)
		},
	})
	return cmd
}

func newFlushCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Remove every key of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("flush removes every key of the database, pass --yes to confirm")
			}
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.FlushAll(cmd.Context()); err != nil {
				return err
			}
			a.log.Warn("flushed database %d on %s:%d", a.cfg.Cache.DB, a.cfg.Cache.Host, a.cfg.Cache.Port)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the flush")
	return cmd
}
