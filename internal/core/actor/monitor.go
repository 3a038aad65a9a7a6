package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"

	"sunledger/internal/config"
	"sunledger/internal/core/domain"
	"sunledger/internal/core/port"
	"sunledger/internal/core/service"
	. "sunledger/internal/util/actorutil"
)

const (
	cycleTimeout    = 20 * time.Second
	optimizeTimeout = 5 * time.Minute
)

// MonitorActor owns the home and runs the periodic update cycle. All reads
// and mutations of the home go through its mailbox, so cycles, power mode
// changes and API snapshots are serialized without locks.
type MonitorActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	config     *config.Config
	home       *service.Home
	repository domain.StatesRepository
	optimizer  port.Optimizer
	store      port.MeasurementStore

	lastUpdate   time.Time
	lastCycleErr error
	logger       *zap.Logger
	now          func() time.Time
}

type monitorTick struct{}

func NewMonitorActor(
	cfg *config.Config,
	home *service.Home,
	repository domain.StatesRepository,
	optimizer port.Optimizer,
	store port.MeasurementStore,
	logger *zap.Logger,
) *MonitorActor {
	act := &MonitorActor{
		config:     cfg,
		home:       home,
		repository: repository,
		optimizer:  optimizer,
		store:      store,
		behavior:   actor.NewBehavior(),
		stash:      &Stash{},
		logger:     ActorLogger("monitor", logger),
		now:        time.Now,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MonitorActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MonitorActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("monitor@starting started")

		state.restore()

		if state.config.Monitor.PollIntervalMillis > 0 {
			state.scheduler = scheduler.NewTimerScheduler(ctx)
			state.scheduler.RequestOnce(time.Duration(state.config.Monitor.PollIntervalMillis)*time.Millisecond, ctx.Self(), monitorTick{})
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("monitor@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MonitorActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("monitor@default ActorHealthRequest")
		healthState := "idle"
		if state.lastCycleErr != nil {
			healthState = "degraded"
		}
		ctx.Respond(domain.ActorHealthResponse{
			ID:      domain.ActorIDMonitor,
			Healthy: state.lastCycleErr == nil,
			State:   healthState,
		})
	case monitorTick:
		state.logger.Debug("monitor@default tick")
		state.lastCycleErr = state.runCycle()
		if state.lastCycleErr != nil {
			state.logger.Error("monitor cycle failed", zap.Error(state.lastCycleErr))
		}
		state.scheduler.RequestOnce(time.Duration(state.config.Monitor.PollIntervalMillis)*time.Millisecond, ctx.Self(), monitorTick{})
	case domain.HomeStateRequest:
		state.logger.Debug("monitor@default HomeStateRequest")
		ctx.Respond(domain.HomeStateResponse{Home: state.homeInfo()})
	case domain.DeviceListRequest:
		state.logger.Debug("monitor@default DeviceListRequest")
		ctx.Respond(domain.DeviceListResponse{Devices: state.deviceInfos()})
	case domain.SetPowerModeRequest:
		state.logger.Debug("monitor@default SetPowerModeRequest",
			zap.String("device", msg.DeviceID.String()), zap.String("mode", string(msg.PowerMode)))
		ctx.Respond(state.setPowerMode(msg))
	case domain.OptimizeRequest:
		state.logger.Info("monitor@default OptimizeRequest")
		sender := ctx.Sender()
		NewBackgroundTaskNoError(ctx, func() *domain.OptimizeResponse {
			return &domain.OptimizeResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: state.runOptimization()},
			}
		}).OnSuccess(func(response domain.OptimizeResponse) {
			if response.HasResponseError() {
				state.logger.Error("optimization failed", zap.Error(response.GetResponseError()))
			}
			if sender != nil {
				ctx.Send(sender, response)
			}
		}).Run()
	default:
		state.logger.Debug("monitor@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// restore seeds the home and devices from the last persisted measurement so
// a restart does not produce spurious energy deltas.
func (state *MonitorActor) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()
	measurement, err := state.store.Load(ctx)
	if err != nil {
		state.logger.Error("cannot load persisted measurement", zap.Error(err))
		return
	}
	if measurement == nil {
		state.logger.Info("no persisted measurement, starting fresh")
		return
	}
	state.home.RestoreState(measurement.ProducedSolarEnergy, measurement.GridImportedEnergy, measurement.GridExportedEnergy)
	for _, deviceMeasurement := range measurement.Devices {
		if device := state.home.GetDevice(deviceMeasurement.DeviceID); device != nil {
			device.RestoreState(deviceMeasurement.ConsumedSolarEnergy, deviceMeasurement.ConsumedEnergy)
		}
	}
	state.lastUpdate = measurement.Date
	state.logger.Info("restored persisted measurement", zap.Time("date", measurement.Date))
}

// runCycle is one monitoring round: day rollover, read all transports,
// update the home, drive device control, flush staged writes, persist.
func (state *MonitorActor) runCycle() error {
	now := state.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !state.lastUpdate.IsZero() && !today.Equal(state.lastUpdate) {
		state.logger.Info("day rollover, storing energy snapshot")
		state.home.StoreEnergySnapshot()
	}
	state.lastUpdate = today

	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()

	if err := state.repository.ReadStates(ctx); err != nil {
		return fmt.Errorf("read states: %w", err)
	}
	if err := state.home.UpdateState(state.repository); err != nil {
		return fmt.Errorf("update home: %w", err)
	}
	if state.optimizer != nil {
		if err := state.home.UpdatePowerConsumption(state.repository, state.optimizer); err != nil {
			return fmt.Errorf("update power consumption: %w", err)
		}
	}
	if err := state.repository.WriteStates(ctx); err != nil {
		return fmt.Errorf("write states: %w", err)
	}
	if err := state.store.Store(ctx, state.measurement(today)); err != nil {
		return fmt.Errorf("persist measurement: %w", err)
	}
	if state.optimizer != nil {
		if err := state.optimizer.UpdateLoads(ctx, state.loadInfos()); err != nil {
			state.logger.Warn("cannot update optimizer loads", zap.Error(err))
		}
	}
	return nil
}

func (state *MonitorActor) runOptimization() error {
	if state.optimizer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), optimizeTimeout)
	defer cancel()
	return state.optimizer.Optimize(ctx)
}

func (state *MonitorActor) setPowerMode(msg domain.SetPowerModeRequest) domain.SetPowerModeResponse {
	device := state.home.GetDevice(msg.DeviceID)
	if device == nil {
		return domain.SetPowerModeResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: domain.NewUnknownDeviceError(msg.DeviceID),
			},
			DeviceID: msg.DeviceID,
		}
	}
	if err := device.SetPowerMode(msg.PowerMode); err != nil {
		return domain.SetPowerModeResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			DeviceID:           msg.DeviceID,
		}
	}
	return domain.SetPowerModeResponse{DeviceID: msg.DeviceID, PowerMode: device.PowerMode()}
}

func (state *MonitorActor) measurement(date time.Time) port.HomeMeasurement {
	measurement := port.HomeMeasurement{
		Date:                date,
		ProducedSolarEnergy: state.home.ProducedSolarEnergy(),
		GridImportedEnergy:  state.home.GridImportedEnergy(),
		GridExportedEnergy:  state.home.GridExportedEnergy(),
	}
	for _, device := range state.home.Devices() {
		measurement.Devices = append(measurement.Devices, port.DeviceMeasurement{
			DeviceID:            device.ID(),
			ConsumedEnergy:      device.ConsumedEnergy(),
			ConsumedSolarEnergy: device.ConsumedSolarEnergy(),
		})
	}
	return measurement
}

func (state *MonitorActor) loadInfos() []domain.LoadInfo {
	var loads []domain.LoadInfo
	for _, device := range state.home.Devices() {
		if info := device.LoadInfo(); info != nil {
			loads = append(loads, *info)
		}
	}
	return loads
}

func (state *MonitorActor) homeInfo() domain.HomeInfo {
	home := state.home
	info := domain.HomeInfo{
		Name:                 home.Name(),
		SolarProductionPower: home.SolarProductionPower(),
		GridImportedPower:    home.GridImportedPower(),
		HomeConsumptionPower: home.HomeConsumptionPower(),
		SelfSufficiency:      home.SelfSufficiency(),
		ProducedSolarEnergy:  home.ProducedSolarEnergy(),
		GridImportedEnergy:   home.GridImportedEnergy(),
		GridExportedEnergy:   home.GridExportedEnergy(),
		ConsumedEnergy:       home.ConsumedEnergy(),
		ConsumedSolarEnergy:  home.ConsumedSolarEnergy(),
		Timestamp:            state.now(),
	}
	if snapshot := home.EnergySnapshot(); snapshot != nil {
		info.DailyConsumedEnergy = home.ConsumedEnergy() - snapshot.ConsumedEnergy()
		info.DailyConsumedSolarEnergy = home.ConsumedSolarEnergy() - snapshot.ConsumedSolarEnergy()
		info.DailyProducedSolarEnergy = home.ProducedSolarEnergy() - snapshot.ProducedSolarEnergy
	}
	return info
}

func (state *MonitorActor) deviceInfos() []domain.DeviceInfo {
	devices := state.home.Devices()
	infos := make([]domain.DeviceInfo, 0, len(devices))
	for _, device := range devices {
		infos = append(infos, domain.DeviceInfo{
			ID:                  device.ID(),
			Name:                device.Name(),
			Type:                device.Type(),
			Icon:                device.Icon(),
			State:               device.State(),
			Available:           device.Available(),
			Power:               device.Power(),
			ConsumedEnergy:      device.ConsumedEnergy(),
			ConsumedSolarEnergy: device.ConsumedSolarEnergy(),
			PowerMode:           device.PowerMode(),
			SupportedPowerModes: device.SupportedPowerModes(),
			Attributes:          device.Attributes(),
		})
	}
	return infos
}
