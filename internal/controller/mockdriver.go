package controller

import (
	"context"
	"time"

	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
)

// LoggingDriver is a minimal Driver that logs every command and reports
// success. It exists to exercise the registry end to end (registration,
// lazy construction, command routing) without binding to any specific
// remote-control protocol, which spec.md §1 explicitly excludes. Real
// deployments register a Factory for their actual hardware/software
// drivers instead; this one is useful for local development and the
// host's default device roster when none is configured.
type LoggingDriver struct {
	category Category
	commands []CommandSpec
	log      logger.Logger
}

// NewLoggingDriverFactory returns a Factory constructing a LoggingDriver
// for the given category and command set, regardless of device model.
func NewLoggingDriverFactory(category Category, commands []CommandSpec, log logger.Logger) Factory {
	if log == nil {
		log = logger.Noop()
	}
	return func(deviceID, deviceModel string) (Driver, error) {
		return &LoggingDriver{category: category, commands: commands, log: log.With(logger.Fields{
			"device_id": deviceID, "device_model": deviceModel, "category": string(category),
		})}, nil
	}
}

func (d *LoggingDriver) Category() Category       { return d.category }
func (d *LoggingDriver) Commands() []CommandSpec { return d.commands }

func (d *LoggingDriver) Execute(ctx context.Context, command string, params map[string]interface{}) (bool, map[string]interface{}, error) {
	d.log.Info("driver execute", logger.Fields{"command": command, "params": params})
	return true, map[string]interface{}{"driver": "logging", "executed_at": time.Now().Format(time.RFC3339)}, nil
}

// DefaultCommandSets returns a representative CommandSpec list per
// category, mirroring the command names spec.md §4.4 uses as examples
// (press_key -> remote, DetectAudioSpeech -> verification.audio, ...).
func DefaultCommandSets() map[Category][]CommandSpec {
	return map[Category][]CommandSpec{
		CategoryRemote: {
			{Name: "press_key", TimeoutDefault: 5 * time.Second},
			{Name: "tap", TimeoutDefault: 5 * time.Second},
			{Name: "swipe", TimeoutDefault: 5 * time.Second},
		},
		CategoryAV: {
			{Name: "start_capture", TimeoutDefault: 10 * time.Second},
			{Name: "stop_capture", TimeoutDefault: 10 * time.Second},
		},
		CategoryVerificationImage: {
			{Name: "DetectImageMatch", TimeoutDefault: 15 * time.Second},
		},
		CategoryVerificationText: {
			{Name: "DetectText", TimeoutDefault: 15 * time.Second},
		},
		CategoryVerificationVideo: {
			{Name: "DetectMotion", TimeoutDefault: 15 * time.Second},
		},
		CategoryVerificationAudio: {
			{Name: "DetectAudioSpeech", TimeoutDefault: 15 * time.Second},
		},
	}
}
