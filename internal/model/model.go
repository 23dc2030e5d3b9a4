package model

import (
	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	Config                = entities.Config
	ScheduleEntry         = entities.ScheduleEntry
	Sensor                = entities.Sensor
	ValveState            = entities.ValveState
	SensorData            = messages.SensorData
	SensorReport          = messages.SensorReport
	StateChangeEvent      = messages.StateChangeEvent
	IrrigationResultEvent = messages.IrrigationResultEvent
	ScheduleChangedEvent  = messages.ScheduleChangedEvent
	ValveIntent           = messages.ValveIntent
	RemoteSchedule        = messages.RemoteSchedule
)

const (
	StateOn   = entities.StateOn
	StateOff  = entities.StateOff
	SlotCount = entities.SlotCount
)
