// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
	"github.com/tejzpr/palmem/internal/engine"
)

// withEngine opens the app and the engine of the selected streamer for the
// duration of fn
func withEngine(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app, e *engine.Engine) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, flags.appOptions(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	e, err := a.Engine(ctx, "")
	if err != nil {
		return err
	}
	return fn(ctx, a, e)
}

// withExclusiveEngine is withEngine for commands that delete or write
// memories. It fails while a run holds the streamer's lease.
func withExclusiveEngine(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app, e *engine.Engine) error) error {
	return withEngine(cmd, flags, func(ctx context.Context, a *app, e *engine.Engine) error {
		leases := newLeaseKeeper(a.db, a.logger)
		return leases.locker.WithLease(ctx, e.Streamer(), leases.holder, func() error {
			return fn(ctx, a, e)
		})
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// searchHit is a similarity match with its memory content
type searchHit struct {
	ID         uint    `json:"id"`
	Similarity float64 `json:"similarity"`
	Kind       string  `json:"kind"`
	Content    string  `json:"content"`
}

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var (
		limit     int
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find memories similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withEngine(cmd, flags, func(ctx context.Context, a *app, e *engine.Engine) error {
				matches := e.FindSimilar(query, limit, threshold)
				ids := make([]uint, 0, len(matches))
				similarity := make(map[uint]float64, len(matches))
				for _, m := range matches {
					ids = append(ids, m.ID)
					similarity[m.ID] = m.Similarity
				}

				hits := make([]searchHit, 0, len(matches))
				for _, mem := range e.Store().GetByIDs(ctx, ids) {
					hits = append(hits, searchHit{
						ID:         mem.ID,
						Similarity: similarity[mem.ID],
						Kind:       mem.Kind,
						Content:    mem.Content,
					})
				}
				return printJSON(cmd.OutOrStdout(), hits)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Maximum number of matches")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.1, "Minimum cosine similarity")
	return cmd
}

func newContextCmd(flags *globalFlags) *cobra.Command {
	var (
		username string
		maxItems int
	)
	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Assemble the memory context a reply to query would get",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withEngine(cmd, flags, func(ctx context.Context, a *app, e *engine.Engine) error {
				if maxItems <= 0 {
					maxItems = a.cfg.Context.MaxItems
				}
				for _, line := range e.AssembleContext(ctx, query, username, maxItems) {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "Include memories about this viewer")
	cmd.Flags().IntVarP(&maxItems, "max", "n", 0, "Maximum number of items (default from config)")
	return cmd
}

func newKeywordsCmd(flags *globalFlags) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "keywords <text>",
		Short: "Extract the highest tf*idf tokens of a text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withEngine(cmd, flags, func(ctx context.Context, a *app, e *engine.Engine) error {
				return printJSON(cmd.OutOrStdout(), e.ExtractKeywords(text, top))
			})
		},
	}
	cmd.Flags().IntVarP(&top, "top", "n", 5, "Number of keywords")
	return cmd
}

func newClusterCmd(flags *globalFlags) *cobra.Command {
	var similarity float64
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Group indexed memories by similarity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, a *app, e *engine.Engine) error {
				if similarity <= 0 {
					similarity = a.cfg.Retention.ClusterSimilarity
				}
				clusters := e.Cluster(similarity)
				if clusters == nil {
					clusters = [][]uint{}
				}
				return printJSON(cmd.OutOrStdout(), clusters)
			})
		},
	}
	cmd.Flags().Float64Var(&similarity, "similarity", 0, "Minimum similarity to the cluster seed (default from config)")
	return cmd
}

func newPruneCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete old memories below the importance floor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExclusiveEngine(cmd, flags, func(ctx context.Context, a *app, e *engine.Engine) error {
				n, err := e.Prune(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d memories\n", n)
				return nil
			})
		},
	}
}

func newConsolidateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Summarize old memory clusters into archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExclusiveEngine(cmd, flags, func(ctx context.Context, a *app, e *engine.Engine) error {
				res, err := e.Consolidate(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newMaintainCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Purge old conversations, prune and consolidate once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExclusiveEngine(cmd, flags, func(ctx context.Context, a *app, e *engine.Engine) error {
				res, err := e.Maintain(ctx)
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func newProfileCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <username>",
		Short: "Show what is known about a viewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, a *app, e *engine.Engine) error {
				p, ok := e.Store().GetProfile(ctx, args[0])
				if !ok {
					return goerr.New("profile not found", goerr.V("username", args[0]), goerr.V("streamer", e.Streamer()))
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
}

func newSupportersCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "supporters",
		Short: "List viewers by total gift value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, a *app, e *engine.Engine) error {
				return printJSON(cmd.OutOrStdout(), e.Store().TopSupporters(ctx, limit))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of viewers")
	return cmd
}

func newArchivesCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List consolidated archives, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, a *app, e *engine.Engine) error {
				return printJSON(cmd.OutOrStdout(), e.Store().ListArchives(ctx, limit))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of archives")
	return cmd
}

func newStatsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts and index sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, a *app, e *engine.Engine) error {
				return printJSON(cmd.OutOrStdout(), e.Stats(ctx))
			})
		},
	}
}

func newPersonalityCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personality",
		Short: "Manage the shared personality settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml|file.md>",
		Short: "Import settings from a YAML file or a Markdown personality sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags.appOptions(cmd))
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.settings.ImportFile(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d settings\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print all personality settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags.appOptions(cmd))
			if err != nil {
				return err
			}
			defer a.Close()

			all := a.settings.All(ctx)
			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, all[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Print all settings as a Markdown personality sheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags.appOptions(cmd))
			if err != nil {
				return err
			}
			defer a.Close()

			return a.settings.ExportMarkdown(ctx, cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one personality setting",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags.appOptions(cmd))
			if err != nil {
				return err
			}
			defer a.Close()

			return a.settings.Set(ctx, args[0], strings.Join(args[1:], " "))
		},
	})

	return cmd
}
