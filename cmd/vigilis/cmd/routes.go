package cmd

import (
	"cmp"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vigilis/sentinel/internal/config"
	"github.com/vigilis/sentinel/internal/infra/http"
	"github.com/vigilis/sentinel/pkg/logger"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the status server routes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		r := http.NewChiRouter()
		http.RegisterRoutes(r, newHandlers(&config.Config{}, nil, logger.NewNop()))

		type route struct{ method, path string }
		var routes []route
		if err := r.Walk(func(method, path string) error {
			routes = append(routes, route{method, path})
			return nil
		}); err != nil {
			return err
		}
		slices.SortFunc(routes, func(a, b route) int {
			if c := cmp.Compare(a.path, b.path); c != 0 {
				return c
			}
			return cmp.Compare(a.method, b.method)
		})

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "METHOD\tPATH")
		for _, rt := range routes {
			fmt.Fprintf(tw, "%s\t%s\n", rt.method, rt.path)
		}
		return tw.Flush()
	},
}
