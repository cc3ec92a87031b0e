// SPDX-License-Identifier: MIT

package udev

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// RulesFilePath is the system location for the generated udev rules file.
const RulesFilePath = "/etc/udev/rules.d/99-usb-soundcards.rules"

// DeviceInfo identifies a USB sound card by its physical port and USB
// bus/device numbers, for rule generation.
type DeviceInfo struct {
	PortPath string
	BusNum   int
	DevNum   int
	Product  string
	Serial   string
}

// GenerateRule builds a udev rule binding a USB sound card's ALSA control
// device to a stable symlink under /dev/snd/by-usb-port/, keyed by its
// physical port path. Does not validate its inputs; callers that need
// validation should use GenerateRuleWithValidation.
func GenerateRule(portPath string, busNum, devNum int) string {
	return fmt.Sprintf(
		`SUBSYSTEM=="sound", KERNEL=="controlC[0-9]*", ATTRS{busnum}=="%d", ATTRS{devnum}=="%d", SYMLINK+="snd/by-usb-port/%s"`,
		busNum, devNum, portPath,
	)
}

// GenerateRuleWithValidation validates portPath, busNum, and devNum before
// generating a rule, returning an error describing the first violation.
func GenerateRuleWithValidation(portPath string, busNum, devNum int) (string, error) {
	if err := validateDevice(portPath, busNum, devNum); err != nil {
		return "", err
	}
	return GenerateRule(portPath, busNum, devNum), nil
}

// GenerateRule builds the udev rule for this device.
func (d DeviceInfo) GenerateRule() string {
	return GenerateRule(d.PortPath, d.BusNum, d.DevNum)
}

func validateDevice(portPath string, busNum, devNum int) error {
	if !IsValidUSBPortPath(portPath) {
		return fmt.Errorf("invalid USB port path: %s", portPath)
	}
	if busNum <= 0 {
		return fmt.Errorf("invalid bus number: %d (must be positive)", busNum)
	}
	if devNum <= 0 {
		return fmt.Errorf("invalid dev number: %d (must be positive)", devNum)
	}
	return nil
}

// GenerateRulesFile builds the full contents of a udev rules file for the
// given devices: a header comment followed by one rule per device.
func GenerateRulesFile(devices []*DeviceInfo) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Generated by avcapd - stable device naming for USB sound cards\n")
	fmt.Fprintf(&b, "# Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "# Do not edit manually; regenerate with: avcapd devices --write-rules\n")

	for _, dev := range devices {
		b.WriteString(dev.GenerateRule())
		b.WriteString("\n")
	}

	return b.String()
}

// WriteRulesFile validates and writes udev rules for devices to the
// system rules path, reloading udev when reload is true.
func WriteRulesFile(devices []*DeviceInfo, reload bool) error {
	if err := WriteRulesFileToPath(devices, RulesFilePath, reload); err != nil {
		return fmt.Errorf("failed to write rules file: %w", err)
	}
	return nil
}

// WriteRulesFileToPath validates devices, generates their rules file, and
// writes it to path (mode 0644), optionally reloading udev afterward.
func WriteRulesFileToPath(devices []*DeviceInfo, path string, reload bool) error {
	return writeRulesFileToPathWithRunner(devices, path, reload, runCommand)
}

type commandRunner func(name string, args ...string) ([]byte, error)

func runCommand(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

func writeRulesFileToPathWithRunner(devices []*DeviceInfo, path string, reload bool, runner commandRunner) error {
	for i, dev := range devices {
		if err := validateDevice(dev.PortPath, dev.BusNum, dev.DevNum); err != nil {
			return fmt.Errorf("invalid device %d: %w", i, err)
		}
	}

	content := GenerateRulesFile(devices)
	// #nosec G306 - udev rules files are read by the kernel's udev daemon and must be world-readable
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if !reload {
		return nil
	}

	if err := reloadUdevRulesWith(runner); err != nil {
		return fmt.Errorf("failed to reload udev rules: %w", err)
	}

	return nil
}

// reloadUdevRulesWith reloads and triggers udev rules using the given
// command runner, so tests can substitute a fake udevadm.
func reloadUdevRulesWith(runner commandRunner) error {
	if _, err := runner("udevadm", "control", "--reload-rules"); err != nil {
		return fmt.Errorf("udevadm reload-rules failed: %w", err)
	}
	if _, err := runner("udevadm", "trigger"); err != nil {
		return fmt.Errorf("udevadm trigger failed: %w", err)
	}
	return nil
}
