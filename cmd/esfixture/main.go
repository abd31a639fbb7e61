package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"esfixture/internal/config"
	"esfixture/pkg/models"
	"esfixture/pkg/node"
	"esfixture/pkg/settings"
	"esfixture/pkg/transport"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	home          string
	nodeName      string
	clusterName   string
	settingsFile  string
	overrides     []string
	httpPort      int
	transportPort int
	graphqlOn     bool
	persistent    bool

	addresses     []string
	expectCluster string
	waitStatus    string
	timeout       time.Duration
	searchSize    int
	searchOffset  int
)

func main() {
	conf, err := config.Parse()
	if err != nil {
		slog.Error("could not parse config", slog.Any("error", errors.WithStack(err)))
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(conf.Logger.Level),
	})))

	gin.SetMode(gin.ReleaseMode)

	rootCmd := &cobra.Command{Use: "esfixture", SilenceUsage: true}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Run a standalone embedded node until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context())
		},
	}
	startCmd.Flags().StringVar(&home, "home", conf.Home, "Node home directory")
	startCmd.Flags().StringVarP(&nodeName, "name", "n", "", "Node name (generated when empty)")
	startCmd.Flags().StringVarP(&clusterName, "cluster", "c", node.DefaultClusterName, "Cluster name")
	startCmd.Flags().StringVarP(&settingsFile, "config", "f", "", "Settings file (yml, json or properties)")
	startCmd.Flags().StringArrayVarP(&overrides, "set", "s", nil, "Setting override as key=value")
	startCmd.Flags().IntVar(&httpPort, "http-port", 9200, "HTTP API port")
	startCmd.Flags().IntVar(&transportPort, "transport-port", transport.DefaultPort, "Transport port")
	startCmd.Flags().BoolVar(&graphqlOn, "graphql", false, "Serve /graphql/:index")
	startCmd.Flags().BoolVar(&persistent, "persistent", false, "Keep indices on disk with a write-ahead log")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Print the cluster health of a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *transport.Client) error {
				if waitStatus == "" {
					health, err := c.Health(ctx)
					if err != nil {
						return err
					}
					return printJSON(health)
				}
				min, err := models.ParseStatus(waitStatus)
				if err != nil {
					return errors.WithStack(err)
				}
				health, err := c.WaitForStatus(ctx, min, 0)
				if perr := printJSON(health); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	healthCmd.Flags().StringVar(&waitStatus, "wait-for-status", "", "Block until green, yellow or red")

	indexCmd := &cobra.Command{
		Use:   "index [index] [id] [json]",
		Short: "Index a document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc map[string]interface{}
			if err := json.Unmarshal([]byte(args[2]), &doc); err != nil {
				return errors.Wrap(err, "invalid document")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *transport.Client) error {
				return c.Index(ctx, args[0], args[1], doc)
			})
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search [index] [query]",
		Short: "Run a query string search",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.SearchRequest{Query: "*", From: searchOffset, Size: searchSize}
			if len(args) == 2 {
				req.Query = args[1]
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *transport.Client) error {
				res, err := c.Search(ctx, args[0], req)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	searchCmd.Flags().IntVar(&searchSize, "size", 10, "Number of hits")
	searchCmd.Flags().IntVar(&searchOffset, "from", 0, "Offset of the first hit")

	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the fixture home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.InfoContext(cmd.Context(), "removing fixture home", slog.String("home", home))
			return errors.WithStack(os.RemoveAll(home))
		},
	}
	cleanCmd.Flags().StringVar(&home, "home", conf.Home, "Fixture home directory")

	for _, cmd := range []*cobra.Command{healthCmd, indexCmd, searchCmd} {
		cmd.Flags().StringSliceVarP(&addresses, "addr", "a", []string{fmt.Sprintf("127.0.0.1:%d", transport.DefaultPort)}, "Transport addresses")
		cmd.Flags().StringVarP(&expectCluster, "cluster", "c", "", "Expected cluster name")
		cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	}

	rootCmd.AddCommand(startCmd, healthCmd, indexCmd, searchCmd, cleanCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func nodeSettings() (settings.Settings, error) {
	defaults := settings.Defaults(home).
		Put(settings.ClusterName, clusterName).
		Put(settings.HTTPPort, fmt.Sprint(httpPort)).
		Put(settings.TransportPort, fmt.Sprint(transportPort)).
		Put(settings.GraphQLEnabled, fmt.Sprint(graphqlOn))
	if nodeName != "" {
		defaults.Put(settings.NodeName, nodeName)
	}
	if persistent {
		defaults.Put(settings.StoreType, "fs").Put(settings.GatewayType, "local")
	}

	parsed := make([]settings.Setting, 0, len(overrides))
	for _, raw := range overrides {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || key == "" {
			return nil, errors.Errorf("invalid setting '%s', expected key=value", raw)
		}
		parsed = append(parsed, settings.Setting{Key: key, Value: value})
	}

	return settings.Build(defaults, settingsFile, parsed)
}

func runNode(ctx context.Context) error {
	s, err := nodeSettings()
	if err != nil {
		return err
	}

	n, err := node.Start(ctx, s)
	if err != nil {
		return err
	}
	defer n.Close()

	slog.InfoContext(ctx, "node started",
		slog.String("name", n.Name()),
		slog.String("cluster", n.ClusterName()),
		slog.String("http", n.HTTPAddr()),
		slog.String("transport", n.TransportAddr()),
		slog.String("home", n.Home()),
	)
	slog.InfoContext(ctx, "use ctrl+c to interrupt")

	<-ctx.Done()

	slog.Info("stopping node", slog.String("name", n.Name()))
	return errors.WithStack(n.Close())
}

func withClient(ctx context.Context, fn func(ctx context.Context, c *transport.Client) error) error {
	addrs := make([]transport.Address, 0, len(addresses))
	for _, raw := range addresses {
		addr, err := transport.ParseAddress(raw)
		if err != nil {
			return err
		}
		addrs = append(addrs, addr)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := transport.Connect(ctx, transport.Options{
		ClusterName: expectCluster,
		Addresses:   addrs,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return errors.WithStack(enc.Encode(v))
}
