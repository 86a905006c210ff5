// Command controlplane wires the distributor, resource monitor, quality
// controller, and fabric into a running AWCP instance, backed by the AWS
// domain adapters when their environment variables are present and by the
// in-memory defaults otherwise.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentmesh/awcp/pkg/common/cache"
	"github.com/agentmesh/awcp/pkg/controlplane"
	"github.com/agentmesh/awcp/pkg/distributor"
	"github.com/agentmesh/awcp/pkg/distributor/dynamostore"
	"github.com/agentmesh/awcp/pkg/distributor/staticnaming"
	"github.com/agentmesh/awcp/pkg/distributor/stepfn"
	"github.com/agentmesh/awcp/pkg/fabric"
	"github.com/agentmesh/awcp/pkg/fabric/eventbridge"
	"github.com/agentmesh/awcp/pkg/fabric/sqstransport"
	"github.com/agentmesh/awcp/pkg/observability"
	"github.com/agentmesh/awcp/pkg/quality"
	"github.com/agentmesh/awcp/pkg/resources"
	"github.com/agentmesh/awcp/pkg/resources/alertsink"
	"github.com/agentmesh/awcp/pkg/resources/autoscaling"
	"github.com/agentmesh/awcp/pkg/resources/cloudwatch"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewLogger("controlplane")

	qualityController := quality.NewController(
		quality.WithLogger(logger),
		quality.WithScoreCache(cache.NewInMemory()),
	)

	distOpts := []distributor.Option{
		distributor.WithLogger(logger),
		distributor.WithQualityController(qualityController),
		distributor.WithNamingService(staticnaming.New()),
	}
	if region := os.Getenv("AWCP_STEPFN_REGION"); region != "" {
		roleARN := os.Getenv("AWCP_STEPFN_ROLE_ARN")
		engine, err := stepfn.New(ctx, region, roleARN)
		if err != nil {
			log.Fatalf("initialize step functions engine: %v", err)
		}
		distOpts = append(distOpts, distributor.WithWorkflowEngine(engine))
	}
	if table := os.Getenv("AWCP_TASKS_TABLE"); table != "" {
		region := os.Getenv("AWCP_TASKS_TABLE_REGION")
		store, err := dynamostore.New(ctx, region, table)
		if err != nil {
			log.Fatalf("initialize dynamodb task store: %v", err)
		}
		if err := store.EnsureTable(ctx); err != nil {
			log.Fatalf("ensure dynamodb task table: %v", err)
		}
		distOpts = append(distOpts, distributor.WithTaskStore(store))
	}
	dist := distributor.New(distOpts...)

	resOpts := []resources.Option{resources.WithLogger(logger)}
	if namespace := os.Getenv("AWCP_METRICS_NAMESPACE"); namespace != "" {
		region := os.Getenv("AWCP_METRICS_REGION")
		sink, err := cloudwatch.New(ctx, region, namespace)
		if err != nil {
			log.Fatalf("initialize cloudwatch metric sink: %v", err)
		}
		resOpts = append(resOpts, resources.WithMetricSink(sink))
	}
	if region := os.Getenv("AWCP_AUTOSCALING_REGION"); region != "" {
		scaler, err := autoscaling.New(ctx, region)
		if err != nil {
			log.Fatalf("initialize autoscaling client: %v", err)
		}
		resOpts = append(resOpts, resources.WithAutoscaler(scaler))
	}
	if token := os.Getenv("AWCP_SLACK_TOKEN"); token != "" {
		channel := os.Getenv("AWCP_SLACK_ALERT_CHANNEL")
		resOpts = append(resOpts, resources.WithAlertSink(alertsink.New(token, channel)))
	}
	monitor := resources.NewMonitor(resOpts...)

	fabOpts := []fabric.Option{fabric.WithLogger(logger)}
	mesh := fabric.New(fabOpts...)
	if region := os.Getenv("AWCP_SQS_REGION"); region != "" {
		transport, err := sqstransport.New(ctx, region)
		if err != nil {
			log.Fatalf("initialize sqs transport: %v", err)
		}
		mesh.EnableQueue(transport)
		if queueName := os.Getenv("AWCP_SQS_QUEUE_NAME"); queueName != "" {
			if _, err := mesh.CreateQueue(ctx, queueName, false, nil); err != nil {
				log.Fatalf("create sqs queue %s: %v", queueName, err)
			}
		}
	}
	if region := os.Getenv("AWCP_EVENTBRIDGE_REGION"); region != "" {
		busName := os.Getenv("AWCP_EVENTBRIDGE_BUS")
		eventSource := os.Getenv("AWCP_EVENTBRIDGE_SOURCE")
		transport, err := eventbridge.New(ctx, region)
		if err != nil {
			log.Fatalf("initialize eventbridge transport: %v", err)
		}
		mesh.EnableEventBridge(transport, busName, eventSource)
	}

	server := controlplane.New(dist, monitor, qualityController, mesh)

	monitor.StartMonitoring(15 * time.Second)
	defer monitor.StopMonitoring()

	stop := make(chan struct{})
	go distributionLoop(ctx, server.Distributor, stop)

	logger.Info("control plane started", nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received", nil)

	close(stop)
	cancel()
}

// distributionLoop periodically assigns queued tasks to available agents
// across every known tenant, ending when stop is closed.
func distributionLoop(ctx context.Context, dist *distributor.Distributor, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			dist.Distribute(ctx, "")
		case <-stop:
			return
		}
	}
}
