package p4mesh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/p4mesh/p4mesh/p4mesh"

// NewWorker returns a new control plane worker for the given switch.
func NewWorker(
	sw Switch,
	pipeline *Pipeline,
	compiler *Compiler,
	builder *Builder,
	dialer Dialer,
	log *zap.SugaredLogger,
	metrics *Metrics,
) *Worker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	w := &Worker{
		sw:       sw,
		pipeline: pipeline,
		compiler: compiler,
		builder:  builder,
		dialer:   dialer,
		log: log.With(
			zap.String("switch", sw.Name),
			zap.Int("router", sw.RouterID),
		),
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}

	w.setState(StateDisconnected)

	return w
}

// Worker owns the session to one switch and drives it through arbitration, pipeline config and
// rule installation, then holds the session until shutdown. Every failure is fatal to the worker;
// nothing is retried.
type Worker struct {
	sw       Switch
	pipeline *Pipeline
	compiler *Compiler
	builder  *Builder
	dialer   Dialer

	log     *zap.SugaredLogger
	metrics *Metrics
	tracer  trace.Tracer

	state atomic.Int32
}

// Switch returns the switch the worker is responsible for.
func (w *Worker) Switch() Switch {
	return w.sw
}

// State returns the current lifecycle state of the worker.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	prev := State(w.state.Swap(int32(s)))

	if prev != s {
		w.log.Debugw("worker state change", zap.Stringer("from", prev), zap.Stringer("to", s))
	}

	w.metrics.SetWorkerState(w.sw.Name, s)
}

// Run runs the worker until ctx is cancelled or a fatal error occurs. A nil error means the worker
// reached steady state and was shut down cleanly.
func (w *Worker) Run(ctx context.Context) (err error) {
	w.log.Infof("connecting to p4runtime server on %s (%s)...", w.sw.Name, w.sw.Address)

	defer func() {
		if err != nil {
			w.setState(StateFailed)
			w.metrics.IncWorkerFailure(w.sw.Name, failureReason(err))
		}
	}()

	w.setState(StateDisconnected)

	session, err := w.dialer.Open(ctx, w.sw)
	if err != nil {
		return fmt.Errorf(
			"%w: failed opening session to switch %q at %q, err: %w",
			ErrConnection, w.sw.Name, w.sw.Address, err,
		)
	}

	w.setState(StateArbitrating)

	err = w.setup(ctx, session)
	if err != nil {
		w.closeSession(session)

		return err
	}

	w.setState(StateSteadyState)

	w.log.Infow("switch configured, holding session until shutdown")

	err = w.hold(ctx, session)

	w.setState(StateShuttingDown)

	w.closeSession(session)

	if err != nil {
		return err
	}

	w.setState(StateTerminated)

	w.log.Infow("worker shutdown complete")

	return nil
}

// setup takes the session from freshly opened to having every rule installed.
func (w *Worker) setup(ctx context.Context, session Session) error {
	err := w.traced(ctx, "arbitrate", func(ctx context.Context) error {
		arbErr := session.Arbitrate(ctx, w.sw.ElectionID)
		if arbErr != nil {
			return fmt.Errorf(
				"%w: switch %q election id %d, err: %w",
				ErrArbitration, w.sw.Name, w.sw.ElectionID, arbErr,
			)
		}

		return nil
	})
	if err != nil {
		return err
	}

	w.log.Infow("mastership granted", zap.Uint64("election_id", w.sw.ElectionID))

	err = w.traced(ctx, "push_pipeline", func(ctx context.Context) error {
		pushErr := session.PushPipeline(ctx, w.pipeline)
		if pushErr != nil {
			return fmt.Errorf(
				"%w: switch %q, err: %w", ErrPipelineConfig, w.sw.Name, pushErr,
			)
		}

		return nil
	})
	if err != nil {
		return err
	}

	w.setState(StatePipelineConfigured)

	rules, err := w.compiler.Compile(w.sw.RouterID)
	if err != nil {
		return fmt.Errorf("failed compiling rules for router %d, err: %w", w.sw.RouterID, err)
	}

	err = w.traced(ctx, "install_rules", func(ctx context.Context) error {
		return w.install(ctx, session, rules)
	})
	if err != nil {
		return err
	}

	w.setState(StateRulesInstalled)

	w.log.Infow("rules installed", zap.Int("count", len(rules)))

	return nil
}

// install writes the rules one at a time in order, stopping at the first failure. Rules written
// before the failure stay on the switch.
func (w *Worker) install(ctx context.Context, session Session, rules []Rule) error {
	for idx := range rules {
		rule := &rules[idx]

		entry, err := w.builder.Encode(rule)
		if err != nil {
			return fmt.Errorf(
				"failed encoding rule %d/%d %s for switch %q, err: %w",
				idx+1, len(rules), rule, w.sw.Name, err,
			)
		}

		err = session.InstallRule(ctx, entry)
		if err != nil {
			return fmt.Errorf(
				"%w: rule %d/%d %s on switch %q, err: %w",
				ErrRuleInstall, idx+1, len(rules), rule, w.sw.Name, err,
			)
		}

		w.log.Debugw("installed rule", zap.Stringer("rule", rule))

		w.metrics.IncRulesInstalled(w.sw.Name, rule.Table)
	}

	return nil
}

// hold idles in steady state until a shutdown is requested or the session is lost.
func (w *Worker) hold(ctx context.Context, session Session) error {
	select {
	case <-ctx.Done():
		w.log.Infow("received shutdown signal, closing session")

		return nil
	case <-session.Done():
		cause := session.Err()
		if cause == nil {
			cause = errors.New("session closed")
		}

		return fmt.Errorf("%w: lost session with switch %q, err: %w", ErrConnection, w.sw.Name, cause)
	}
}

func (w *Worker) closeSession(session Session) {
	err := session.Close()
	if err != nil {
		w.log.Warnf("ignoring error closing session, err: %s", err)
	}
}

func (w *Worker) traced(ctx context.Context, name string, f func(ctx context.Context) error) error {
	ctx, span := w.tracer.Start(
		ctx,
		name,
		trace.WithAttributes(
			attribute.String("switch", w.sw.Name),
			attribute.Int("router", w.sw.RouterID),
		),
	)

	err := f(ctx)

	endSpan(span, err)

	return err
}

// failureReason maps an error to a short label for metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrArbitration):
		return "arbitration"
	case errors.Is(err, ErrPipelineConfig):
		return "pipeline_config"
	case errors.Is(err, ErrEncoding):
		return "encoding"
	case errors.Is(err, ErrRuleInstall):
		return "rule_install"
	case errors.Is(err, ErrUnknownRouter), errors.Is(err, ErrUnknownHost),
		errors.Is(err, ErrUnreachableHost), errors.Is(err, ErrValidation):
		return "topology"
	default:
		return "other"
	}
}
