package system

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// Action is a power command.
type Action string

// Supported power actions.
const (
	ActionReboot   Action = "reboot"
	ActionShutdown Action = "shutdown"
)

// Defaults for power commands.
const (
	DefaultPowerDelay   = 2 * time.Second
	powerCommandTimeout = 30 * time.Second
)

// ErrUnknownAction is returned for actions other than reboot and shutdown.
var ErrUnknownAction = errors.New("unknown power action")

// commands maps actions to the privileged commands that carry them out.
var commands = map[Action][]string{
	ActionReboot:   {"sudo", "reboot"},
	ActionShutdown: {"sudo", "shutdown", "-h", "now"},
}

// Power issues delayed power commands.
type Power struct {
	delay    time.Duration
	run      func(ctx context.Context, name string, args ...string) error
	fallback func(Action) error
	after    func(time.Duration, func()) *time.Timer
}

// NewPower creates a Power controller.
//
// Parameters:
//   - delay: Time between Schedule and the command, DefaultPowerDelay when zero.
//
// Returns:
//   - *Power: Controller running the commands through sudo.
func NewPower(delay time.Duration) *Power {
	if delay <= 0 {
		delay = DefaultPowerDelay
	}

	return &Power{
		delay:    delay,
		run:      runCommand,
		fallback: powerOff,
		after:    time.AfterFunc,
	}
}

// Schedule runs the command for action after the delay and returns immediately.
func (p *Power) Schedule(action Action) error {
	argv, ok := commands[action]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	logrus.WithFields(logrus.Fields{
		"action": action,
		"delay":  p.delay.String(),
	}).Info("Scheduled system " + string(action))

	p.after(p.delay, func() { p.execute(action, argv) })

	return nil
}

// execute runs the command and falls back to the reboot syscall when it fails.
func (p *Power) execute(action Action, argv []string) {
	ctx, cancel := context.WithTimeout(context.Background(), powerCommandTimeout)
	defer cancel()

	err := p.run(ctx, argv[0], argv[1:]...)
	if err == nil {
		return
	}

	logrus.WithError(err).
		WithField("action", action).
		Error("Power command failed, trying reboot syscall")

	if err := p.fallback(action); err != nil {
		logrus.WithError(err).WithField("action", action).Error("Power action failed")
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, output)
	}

	return nil
}
