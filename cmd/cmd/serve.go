package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	fusion "github.com/edge-ai-suites/fusion-pipeline"
	"github.com/edge-ai-suites/fusion-pipeline/nodes/k8sdiscovery"
	"github.com/edge-ai-suites/fusion-pipeline/telemetry"
	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
)

const (
	topologyFileKey = "fusion.topology"
	portKey         = "fusion.port"
	nodeLibDirKey   = "fusion.node_lib_dir"
)

var (
	autoscale          bool
	autoscaleInCluster bool
	autoscaleSelector  string
)

// serveCmd loads a topology document, builds and runs a Pipeline, and
// exposes a minimal fiber control surface over it.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve - build and run a pipeline from the topology named in $HOME/.fusion.yaml",
	Long: `serve loads a topology document, builds and runs the Pipeline it
describes, and serves GET /health and POST /events/:code on fusion.port.

The following keys are read from $HOME/.fusion.yaml:

	fusion:
		topology: /path/to/topology.yaml
		port: 5000
		node_lib_dir: /path/to/plugin/dir  # optional, FUSION_NODE_LIB_PATH
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := viper.GetString(nodeLibDirKey)
		if dir == "" {
			dir = os.Getenv(fusion.NodeLibraryPathEnv)
		}
		if dir != "" {
			if err := fusion.LoadNodeLibraries(dir); err != nil {
				return fmt.Errorf("loading node libraries: %w", err)
			}
		}

		path := viper.GetString(topologyFileKey)
		if path == "" {
			return fmt.Errorf("fusion.topology not set")
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading topology %q: %w", path, err)
		}

		doc, err := fusion.ParseTopologyYAML(raw)
		if err != nil {
			return fmt.Errorf("parsing topology %q: %w", path, err)
		}

		if autoscale {
			replicas, err := k8sdiscovery.RecommendedReplicas(cmd.Context(), autoscaleInCluster, autoscaleSelector)
			if err != nil {
				return fmt.Errorf("autoscale discovery: %w", err)
			}
			fmt.Printf("autoscale: recommending %d thread(s) per non-source node\n", replicas)
			for i := range doc.Nodes {
				if !doc.Nodes[i].Source {
					doc.Nodes[i].Threads = replicas
				}
			}
		}

		p, err := fusion.BuildPipeline(doc)
		if err != nil {
			return fmt.Errorf("building pipeline %q: %w", doc.ID, err)
		}

		logHandler := telemetry.New(nil, otel.Meter("fusion"), otel.Tracer("fusion"), true)
		slog.SetDefault(slog.New(logHandler))

		p.Events().RegisterCallback(fusion.EventLatencySample, func(data any) {
			sample, ok := data.(fusion.LatencySample)
			if !ok {
				return
			}
			telemetry.Float64Histogram(cmd.Context(), "fusion_node_latency_seconds", sample.Value,
				slog.String("node_id", sample.NodeID))
		})
		p.Events().RegisterCallback(fusion.EventEOS, func(any) {
			telemetry.SpanEvent(cmd.Context(), "pipeline.eos", slog.String("pipeline_id", doc.ID))
		})

		if err := p.Start(); err != nil {
			return fmt.Errorf("starting pipeline %q: %w", doc.ID, err)
		}

		app := fiber.New()
		app.Get("/health", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{
				"id":    p.ID,
				"state": p.State().String(),
				"stats": p.Stats(),
			})
		})
		app.Post("/events/:code", func(c *fiber.Ctx) error {
			code, err := strconv.ParseUint(c.Params("code"), 10, 64)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid event code")
			}
			if err := p.EmitEvent(fusion.EventCode(code), nil); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return c.SendStatus(fiber.StatusAccepted)
		})

		port := viper.GetInt(portKey)
		if port == 0 {
			port = 5000
		}
		go func() {
			if err := app.Listen(":" + strconv.Itoa(port)); err != nil {
				fmt.Printf("control surface stopped: %v\n", err)
			}
		}()

		quit := make(chan os.Signal, 2)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		fmt.Println("received interrupt, draining pipeline")

		if err := p.Stop(true); err != nil {
			return fmt.Errorf("starting graceful stop: %w", err)
		}

		drained := make(chan struct{})
		go func() {
			p.WaitForEvent(fusion.EventPipelineStop)
			close(drained)
		}()

		select {
		case <-drained:
		case <-quit:
			fmt.Println("received second interrupt, forcing stop")
			if err := p.Stop(false); err != nil {
				return fmt.Errorf("forced stop: %w", err)
			}
		}

		_ = app.Shutdown()
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoscale, "autoscale", false, "recommend each non-source node's thread count from Ready cluster node count")
	serveCmd.Flags().BoolVar(&autoscaleInCluster, "autoscale-in-cluster", false, "use in-cluster Kubernetes config instead of the operator's kubeconfig")
	serveCmd.Flags().StringVar(&autoscaleSelector, "autoscale-label", "", "label selector restricting which cluster nodes count toward --autoscale")
	rootCmd.AddCommand(serveCmd)
}
