package actor

import (
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"

	"sunledger/internal/config"
	"sunledger/internal/core/domain"
	. "sunledger/internal/util/actorutil"
)

// MonitorActorProvider builds the monitor actor; injected so tests can
// substitute a fake.
type MonitorActorProvider func() actor.Actor

// MasterActor supervises the monitor and is the single entry point for the
// HTTP layer: domain requests are forwarded into the monitor mailbox,
// health checks are aggregated here.
type MasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	monitorActor       *actor.PID
	monitorProvider    MonitorActorProvider
	logger             *zap.Logger
}

type healthCheckResult struct {
	monitorHealthy bool
	checksReceived int
	respondTo      *actor.PID
}

func NewMasterActor(cfg config.Config, monitorProvider MonitorActorProvider, logger *zap.Logger) *MasterActor {
	act := &MasterActor{
		config:          cfg,
		behavior:        actor.NewBehavior(),
		stash:           &Stash{},
		logger:          ActorLogger("master", logger),
		monitorProvider: monitorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		monitorPID, err := state.startMonitorActor(ctx)
		if err != nil {
			panic(err)
		}
		state.monitorActor = monitorPID

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.monitorActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				ID:      domain.ActorIDMonitor,
				Healthy: false,
			}
		})
		ctx.SetReceiveTimeout(1 * time.Second)
		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.HomeStateRequest:
		ctx.Forward(state.monitorActor)
	case domain.DeviceListRequest:
		ctx.Forward(state.monitorActor)
	case domain.SetPowerModeRequest:
		ctx.Forward(state.monitorActor)
	case domain.OptimizeRequest:
		ctx.Forward(state.monitorActor)
	case *actor.Terminated:
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ActorIDMaster, domain.ActorIDMonitor) {
			state.logger.Error("master@default monitor terminated")
			panic(fmt.Errorf("monitor terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// unresponsive child counts as unhealthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.ID), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy && msg.ID == domain.ActorIDMonitor {
			state.currentHealthCheck.monitorHealthy = true
		}
		if state.currentHealthCheck.allReceived() {
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) startMonitorActor(ctx actor.Context) (*actor.PID, error) {
	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	monitorProps := actor.PropsFromProducer(func() actor.Actor {
		return state.monitorProvider()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(monitorProps, domain.ActorIDMonitor)
}

func (state *healthCheckResult) reset() {
	state.monitorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 1
}

func (state *healthCheckResult) allHealthy() bool {
	return state.monitorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		ID:      domain.ActorIDMaster,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
