package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mind/pkg/api"
	"mind/pkg/api/cohort"
	"mind/pkg/api/images"
	"mind/pkg/api/processing"
	"mind/pkg/graph"
	"mind/pkg/jobs"
	"mind/pkg/methods"
	"mind/pkg/objectstore"
)

const drainTimeout = 5 * time.Minute

var servicePort int

func serviceCommands() []*cobra.Command {
	cohortCmd := &cobra.Command{
		Use:   "cohort-service",
		Short: "Serve the cohort, patient and container API",
		RunE:  runCohortService,
	}
	processingCmd := &cobra.Command{
		Use:   "processing-service",
		Short: "Serve method submission and job status",
		RunE:  runProcessingService,
	}
	imagesCmd := &cobra.Command{
		Use:   "images-service",
		Short: "Serve DICOM to image conversion backed by the object store",
		RunE:  runImagesService,
	}
	for _, c := range []*cobra.Command{cohortCmd, processingCmd, imagesCmd} {
		c.Flags().IntVar(&servicePort, "port", 0, "listen port (default from the app config)")
	}
	return []*cobra.Command{cohortCmd, processingCmd, imagesCmd}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func portOr(def int) int {
	if servicePort > 0 {
		return servicePort
	}
	return def
}

func connectGraph(ctx context.Context) (*graph.Conn, error) {
	return graph.Connect(ctx, graph.Options{
		URI:      app.GraphURI,
		User:     app.GraphUser,
		Password: app.GraphPassword,
		Database: app.GraphDatabase,
	}, logger)
}

func runCohortService(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	conn, err := connectGraph(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	router := api.NewRouter(cohort.ServiceName, logger)
	cohort.RegisterRoutes(router, cohort.NewHandlers(conn, logger))
	return api.Serve(ctx, router, portOr(app.CohortServicePort), logger)
}

func runProcessingService(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	conn, err := connectGraph(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	store, err := jobs.OpenStore(jobs.StoreConfig{Path: app.JobStorePath})
	if err != nil {
		return err
	}
	defer store.Close()

	exec := jobs.NewExecutor(store, app.ProcessingProcesses, logger)
	runner := methods.NewRunner(conn, app.DataDir, logger)

	router := api.NewRouter(processing.ServiceName, logger)
	processing.RegisterRoutes(router, processing.NewHandlers(conn, runner, exec, logger))
	serveErr := api.Serve(ctx, router, portOr(app.ProcessingServicePort), logger)

	logger.Info("Draining job queue", zap.Duration("timeout", drainTimeout))
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := exec.Shutdown(drainCtx); err != nil {
		logger.Warn("Job queue did not drain, running jobs were cancelled", zap.Error(err))
	}
	return serveErr
}

func runImagesService(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	store, err := objectstore.Connect(ctx, app.ObjectStore, logger)
	if err != nil {
		return err
	}

	router := api.NewRouter(images.ServiceName, logger)
	images.RegisterRoutes(router, images.NewHandlers(store, logger))
	return api.Serve(ctx, router, portOr(app.ImagesServicePort), logger)
}
