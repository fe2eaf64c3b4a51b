package orchestrator

import (
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/tolldata-cli/internal/config"
	"github.com/sells-group/tolldata-cli/internal/tolldata"
)

// Registry is the registration surface shared by worker.Worker and the
// Temporal test environments.
type Registry interface {
	RegisterWorkflowWithOptions(w any, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a any, options activity.RegisterOptions)
}

// Register adds the workflow and every activity to r.
func Register(r Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(TollDataWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.BeginRun, activity.RegisterOptions{Name: ActivityBeginRun})
	r.RegisterActivityWithOptions(acts.EndRun, activity.RegisterOptions{Name: ActivityEndRun})
	for _, name := range tolldata.StepNames() {
		r.RegisterActivityWithOptions(acts.StepActivity(name), activity.RegisterOptions{Name: name})
	}
}

// Dial connects to the Temporal frontend named in cfg.
func Dial(cfg config.OrchestratorConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewZapLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: dial %s", cfg.HostPort)
	}
	return c, nil
}

// NewWorker creates a worker on cfg.TaskQueue hosting the workflow and
// activities.
func NewWorker(c client.Client, cfg config.OrchestratorConfig, acts *Activities) worker.Worker {
	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	Register(w, acts)
	return w
}

// ZapLogger routes Temporal SDK logs to zap.
type ZapLogger struct {
	s *zap.SugaredLogger
}

var _ log.Logger = (*ZapLogger)(nil)

// NewZapLogger wraps l for the Temporal SDK.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{s: l.With(zap.String("component", "temporal")).WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z *ZapLogger) Debug(msg string, keyvals ...any) { z.s.Debugw(msg, keyvals...) }
func (z *ZapLogger) Info(msg string, keyvals ...any)  { z.s.Infow(msg, keyvals...) }
func (z *ZapLogger) Warn(msg string, keyvals ...any)  { z.s.Warnw(msg, keyvals...) }
func (z *ZapLogger) Error(msg string, keyvals ...any) { z.s.Errorw(msg, keyvals...) }
