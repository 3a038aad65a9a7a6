// Package modbus polls configured input or holding registers over Modbus
// TCP and exposes them as numeric states. Writes are not supported on this
// channel.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"

	"sunledger/internal/config"
	"sunledger/internal/core/domain"
)

const readTimeout = 5 * time.Second

type Repository struct {
	*domain.StatesCache

	registers []config.ModbusRegisterConfig
	client    *modbus.ModbusClient
	logger    *zap.Logger
}

func NewRepository(cfg config.ModbusConfig, logger *zap.Logger) (*Repository, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port),
		Timeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("modbus client: %w", err)
	}
	if cfg.UnitId > 0 {
		if err := client.SetUnitId(cfg.UnitId); err != nil {
			return nil, fmt.Errorf("modbus unit id: %w", err)
		}
	}
	return &Repository{
		StatesCache: domain.NewStatesCache(domain.ChannelModbus),
		registers:   cfg.Registers,
		client:      client,
		logger:      logger.With(zap.String("channel", domain.ChannelModbus)),
	}, nil
}

func (r *Repository) Connect() error {
	if err := r.client.Open(); err != nil {
		return fmt.Errorf("modbus open: %w", err)
	}
	return nil
}

func (r *Repository) Disconnect() {
	_ = r.client.Close()
}

// ReadStates reads every configured register. A register that fails to read
// becomes an unavailable state so consumers can keep their last good value.
func (r *Repository) ReadStates(ctx context.Context) error {
	var errs []error
	for _, register := range r.registers {
		regType := modbus.INPUT_REGISTER
		if register.Kind == "holding" {
			regType = modbus.HOLDING_REGISTER
		}
		raw, err := r.client.ReadFloat32(register.Address, regType)
		if err != nil {
			r.logger.Warn("modbus read failed",
				zap.String("id", register.Id), zap.Uint16("address", register.Address), zap.Error(err))
			r.UpdateReadState(domain.NewUnavailableState(register.Id))
			errs = append(errs, fmt.Errorf("register %q: %w", register.Id, err))
			continue
		}
		value := float64(raw)
		if register.Scale != 0 {
			value *= register.Scale
		}
		r.UpdateReadState(domain.NewState(register.Id, strconv.FormatFloat(value, 'f', -1, 64), nil))
	}
	return errors.Join(errs...)
}

func (r *Repository) WriteStates(ctx context.Context) error {
	for _, state := range r.StagedWrites() {
		return fmt.Errorf("modbus channel is read only, cannot write %q", state.ID())
	}
	return nil
}
