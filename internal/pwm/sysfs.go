package pwm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultSysfsRoot is where the kernel exposes PWM chips.
const DefaultSysfsRoot = "/sys/class/pwm"

// SysfsChannel is a hardware PWM channel driven through /sys/class/pwm.
type SysfsChannel struct {
	chipDir  string
	chanDir  string
	channel  int
	periodNs int64
}

// OpenSysfsChannel exports channel on chip (e.g. "pwmchip0") under root,
// sets the period for freqHz and enables the output at 0% duty.
func OpenSysfsChannel(root, chip string, channel, freqHz int) (*SysfsChannel, error) {
	if root == "" {
		root = DefaultSysfsRoot
	}
	if freqHz <= 0 {
		freqHz = DefaultFrequencyHz
	}
	c := &SysfsChannel{
		chipDir:  filepath.Join(root, chip),
		channel:  channel,
		periodNs: int64(time.Second) / int64(freqHz),
	}
	c.chanDir = filepath.Join(c.chipDir, fmt.Sprintf("pwm%d", channel))

	if _, err := os.Stat(c.chanDir); errors.Is(err, os.ErrNotExist) {
		if err := c.write(c.chipDir, "export", strconv.Itoa(channel)); err != nil {
			return nil, err
		}
		if err := waitForDir(c.chanDir, time.Second); err != nil {
			return nil, err
		}
	}

	// duty_cycle must not exceed period, so clear it first.
	if err := c.write(c.chanDir, "duty_cycle", "0"); err != nil {
		return nil, err
	}
	if err := c.write(c.chanDir, "period", strconv.FormatInt(c.periodNs, 10)); err != nil {
		return nil, err
	}
	if err := c.write(c.chanDir, "enable", "1"); err != nil {
		return nil, err
	}
	return c, nil
}

// WriteDuty sets the physical duty cycle in percent.
func (c *SysfsChannel) WriteDuty(percent float64) error {
	ns := int64(float64(c.periodNs) * clamp(percent) / 100)
	return c.write(c.chanDir, "duty_cycle", strconv.FormatInt(ns, 10))
}

// Close disables and unexports the channel.
func (c *SysfsChannel) Close() error {
	var errs []error
	if err := c.write(c.chanDir, "duty_cycle", "0"); err != nil {
		errs = append(errs, err)
	}
	if err := c.write(c.chanDir, "enable", "0"); err != nil {
		errs = append(errs, err)
	}
	if err := c.write(c.chipDir, "unexport", strconv.Itoa(c.channel)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *SysfsChannel) write(dir, name, value string) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// waitForDir waits for udev to create the exported channel directory.
func waitForDir(dir string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(dir); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("pwm channel %s did not appear", dir)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
