// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/avcapd/avcapd/internal/audio"
	"github.com/avcapd/avcapd/internal/capture"
	"github.com/avcapd/avcapd/internal/capture/alsaexec"
	"github.com/avcapd/avcapd/internal/capture/ffmpegenc"
	"github.com/avcapd/avcapd/internal/capture/filesink"
	"github.com/avcapd/avcapd/internal/capture/v4l2"
	"github.com/avcapd/avcapd/internal/config"
	"github.com/avcapd/avcapd/internal/diagnostics"
	"github.com/avcapd/avcapd/internal/health"
	"github.com/avcapd/avcapd/internal/lock"
	"github.com/avcapd/avcapd/internal/menu"
	"github.com/avcapd/avcapd/internal/orchestrate"
	"github.com/avcapd/avcapd/internal/udev"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

const (
	defaultConfigPath = config.ConfigFilePath
	defaultLockDir    = "/var/run/avcapd"
	exitSuccess       = 0
	exitError         = 1
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}

// run is the main entry point, extracted for testability.
func run(args []string) error {
	if len(args) == 0 {
		return runHelp()
	}

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "help", "--help", "-h":
		return runHelp()
	case "version", "--version", "-v":
		return runVersion()
	case "run":
		return runRun(commandArgs)
	case "devices":
		return runDevices(commandArgs)
	case "diagnose":
		return runDiagnose(commandArgs)
	case "validate":
		return runValidate(commandArgs)
	case "setup":
		return runSetup(commandArgs)
	case "menu":
		return runMenu(commandArgs)
	default:
		return fmt.Errorf("unknown command: %s (run 'avcapd help' for usage)", command)
	}
}

func runHelp() error {
	fmt.Printf(`avcapd v%s

USAGE:
    avcapd [COMMAND] [OPTIONS]

COMMANDS:
    run         Run the capture/encode pipeline (foreground daemon)
    devices     List detected V4L2 and ALSA capture devices
    diagnose    Run system diagnostics
    validate    Validate a configuration file
    setup       Interactive setup wizard
    menu        Launch interactive management menu
    version     Show version information
    help        Show this help message

OPTIONS:
    --config PATH     Path to configuration file (default: %s)
    --help, -h        Show this help message (given in place of a command)

EXAMPLES:
    avcapd run --config /etc/avcapd/config.yaml
    avcapd devices
    avcapd diagnose --quick
    avcapd validate --config /etc/avcapd/config.yaml
`, Version, defaultConfigPath)
	return nil
}

func runVersion() error {
	fmt.Printf("avcapd %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	return nil
}

func parseConfigFlag(args []string) string {
	configPath := defaultConfigPath
	for i := 0; i < len(args); i++ {
		switch {
		case strings.HasPrefix(args[i], "--config="):
			configPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		}
	}
	return configPath
}

// loadConfiguration loads the config file, falling back to defaults if it
// doesn't exist.
func loadConfiguration(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// runRun starts the capture/encode pipeline and blocks until it exits
// (via SIGINT/SIGTERM, a configured duration, or a fatal stage error).
func runRun(args []string) error {
	configPath := parseConfigFlag(args)

	cfg, err := loadConfiguration(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("starting avcapd", "version", Version, "config", configPath)

	if err := os.MkdirAll(defaultLockDir, 0750); err != nil { //nolint:gosec // lock dir needs group read for service monitoring
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	videoLock, err := lock.NewFileLock(filepath.Join(defaultLockDir, sanitizeLockName(cfg.Video.Device)+".lock"))
	if err != nil {
		return fmt.Errorf("failed to create video device lock: %w", err)
	}
	if err := videoLock.Acquire(0); err != nil {
		return fmt.Errorf("video device %s already in use: %w", cfg.Video.Device, err)
	}
	defer videoLock.Release()

	audioLock, err := lock.NewFileLock(filepath.Join(defaultLockDir, sanitizeLockName(cfg.Audio.Device)+".lock"))
	if err != nil {
		return fmt.Errorf("failed to create audio device lock: %w", err)
	}
	if err := audioLock.Acquire(0); err != nil {
		return fmt.Errorf("audio device %s already in use: %w", cfg.Audio.Device, err)
	}
	defer audioLock.Release()

	h264Sink, pcmSink := buildSinks(cfg)

	orch, err := orchestrate.New(orchestrate.Config{
		Video: orchestrate.VideoConfig{
			Device:     cfg.Video.Device,
			Width:      cfg.Video.Width,
			Height:     cfg.Video.Height,
			FPS:        cfg.Video.FPS,
			Bitrate:    cfg.Video.Bitrate,
			Codec:      cfg.Video.Codec,
			OutputPath: cfg.Output.H264Path,
		},
		Audio: orchestrate.AudioConfig{
			Device:     cfg.Audio.Device,
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			OutputPath: cfg.Output.PcmPath,
		},
		DurationSec: cfg.DurationSec,
		VideoSource: v4l2.New(),
		AudioSource: alsaexec.New(),
		Encoder:     ffmpegenc.New(),
		H264Sink:    h264Sink,
		PcmSink:     pcmSink,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to construct orchestrator: %w", err)
	}

	if cfg.Health.Enabled {
		adapter := &healthAdapter{orch: orch}
		handler := health.NewHandler(adapter, adapter)
		ready := make(chan struct{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			if err := health.ListenAndServeReady(ctx, cfg.Health.Addr, handler, ready); err != nil {
				logger.Error("health server exited", "err", err)
			}
		}()
		<-ready
		logger.Info("health endpoint listening", "addr", cfg.Health.Addr)
	}

	logger.Info("pipeline running, press Ctrl-C to stop")
	if err := orch.Run(); err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// buildSinks constructs the H264 and PCM sinks, using the segmented
// rotating variant when configured.
func buildSinks(cfg *config.Config) (h264Sink, pcmSink capture.ByteSink) {
	if !cfg.Output.Segmented {
		return filesink.New(), filesink.New()
	}

	h264 := &filesink.SegmentedSink{
		Dir:           filepath.Dir(cfg.Output.H264Path),
		Prefix:        "video",
		Ext:           "h264",
		SegmentPeriod: cfg.Output.SegmentDuration,
		MaxAge:        cfg.Output.SegmentMaxAge,
		MaxTotalBytes: cfg.Output.SegmentMaxTotalBytes,
	}
	pcm := &filesink.SegmentedSink{
		Dir:           filepath.Dir(cfg.Output.PcmPath),
		Prefix:        "audio",
		Ext:           "pcm",
		SegmentPeriod: cfg.Output.SegmentDuration,
		MaxAge:        cfg.Output.SegmentMaxAge,
		MaxTotalBytes: cfg.Output.SegmentMaxTotalBytes,
	}
	return h264, pcm
}

// sanitizeLockName turns a device path into a safe lock filename.
func sanitizeLockName(device string) string {
	replacer := strings.NewReplacer("/", "_", ":", "_", ",", "_")
	return replacer.Replace(device)
}

// runDevices lists detected V4L2 and ALSA capture devices.
func runDevices(args []string) error {
	fmt.Println("Video devices (/dev/video*):")
	videoDevices, err := filepath.Glob("/dev/video*")
	if err != nil {
		return fmt.Errorf("failed to glob video devices: %w", err)
	}
	if len(videoDevices) == 0 {
		fmt.Println("  none found")
	}
	for _, dev := range videoDevices {
		fmt.Printf("  - %s\n", dev)
	}

	fmt.Println()
	fmt.Println("Audio devices (ALSA, /proc/asound):")
	var audioDevices []*audio.Device
	if _, statErr := os.Stat("/proc/asound"); statErr == nil {
		audioDevices, err = audio.DetectDevices("/proc/asound")
		if err != nil {
			return fmt.Errorf("failed to detect ALSA devices: %w", err)
		}
	}
	if len(audioDevices) == 0 {
		fmt.Println("  none found")
	}
	for _, dev := range audioDevices {
		fmt.Printf("  - hw:%d,0  %s  (usb %s, friendly name %s)\n", dev.CardNumber, dev.Name, dev.USBID, dev.FriendlyName())
		if caps, cerr := audio.DetectCapabilities("/proc/asound", dev.CardNumber); cerr == nil {
			fmt.Printf("      rates=%v channels=%v busy=%v\n", caps.SampleRates, caps.Channels, caps.IsBusy)
		}
	}

	writeRules := false
	for _, arg := range args {
		if arg == "--write-rules" {
			writeRules = true
		}
	}
	if writeRules {
		fmt.Println()
		if err := writeUdevRules(audioDevices); err != nil {
			return fmt.Errorf("failed to write udev rules: %w", err)
		}
	}

	return nil
}

// writeUdevRules resolves each detected ALSA card's USB bus/device numbers
// to a stable physical port path and writes one udev rule per card to
// udev.RulesFilePath, so a USB sound card keeps the same /dev/snd symlink
// across reboots regardless of ALSA's card-enumeration order.
func writeUdevRules(audioDevices []*audio.Device) error {
	if len(audioDevices) == 0 {
		fmt.Println("no ALSA devices detected; nothing to map")
		return nil
	}

	var rules []*udev.DeviceInfo
	for _, dev := range audioDevices {
		busNum, devNum, err := usbBusDevForCard(dev.CardNumber)
		if err != nil {
			fmt.Printf("  [!] card%d (%s): %v, skipping\n", dev.CardNumber, dev.Name, err)
			continue
		}
		portPath, product, serial, err := udev.GetUSBPhysicalPort("/sys/bus/usb/devices", busNum, devNum)
		if err != nil {
			fmt.Printf("  [!] card%d (%s): %v, skipping\n", dev.CardNumber, dev.Name, err)
			continue
		}
		fmt.Printf("  [✓] card%d (%s) -> port %s\n", dev.CardNumber, dev.Name, portPath)
		rules = append(rules, &udev.DeviceInfo{
			PortPath: portPath,
			BusNum:   busNum,
			DevNum:   devNum,
			Product:  product,
			Serial:   serial,
		})
	}

	if len(rules) == 0 {
		return fmt.Errorf("no devices could be mapped to a stable USB port")
	}

	if err := udev.WriteRulesFile(rules, false); err != nil {
		return err
	}
	fmt.Printf("wrote %d rule(s) to %s; run 'udevadm control --reload-rules && udevadm trigger' to apply\n", len(rules), udev.RulesFilePath)
	return nil
}

// usbBusDevForCard resolves an ALSA card number to its USB bus/device
// numbers by following /sys/class/sound/cardN/device up to the nearest
// ancestor that exposes busnum/devnum (the USB device node itself, as
// opposed to its sound/usb-audio child interfaces).
func usbBusDevForCard(cardNumber int) (busNum, devNum int, err error) {
	cardPath := fmt.Sprintf("/sys/class/sound/card%d/device", cardNumber)
	dir, err := filepath.EvalSymlinks(cardPath)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve %s: %w", cardPath, err)
	}

	for i := 0; i < 8 && dir != "/" && dir != "."; i++ {
		busBytes, errBus := os.ReadFile(filepath.Join(dir, "busnum"))
		devBytes, errDev := os.ReadFile(filepath.Join(dir, "devnum"))
		if errBus == nil && errDev == nil {
			busNum, err = udev.SafeBase10(strings.TrimSpace(string(busBytes)))
			if err != nil {
				return 0, 0, err
			}
			devNum, err = udev.SafeBase10(strings.TrimSpace(string(devBytes)))
			if err != nil {
				return 0, 0, err
			}
			return busNum, devNum, nil
		}
		dir = filepath.Dir(dir)
	}

	return 0, 0, fmt.Errorf("no busnum/devnum found walking up from %s", cardPath)
}

// runDiagnose runs the diagnostics battery.
func runDiagnose(args []string) error {
	opts := diagnostics.DefaultOptions()
	for _, arg := range args {
		if arg == "--quick" {
			opts.Mode = diagnostics.ModeQuick
		}
	}
	opts.ConfigPath = parseConfigFlag(args)

	runner := diagnostics.NewRunner(opts)
	report, err := runner.Run(context.Background())
	if err != nil {
		return fmt.Errorf("diagnostics failed: %w", err)
	}

	diagnostics.PrintReport(os.Stdout, report)
	return nil
}

// runValidate validates a configuration file.
func runValidate(args []string) error {
	configPath := parseConfigFlag(args)

	fmt.Printf("Validating configuration: %s\n\n", configPath)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Println("✓ Configuration is valid")
	fmt.Printf("✓ video: %s %dx%d@%dfps, %s\n", cfg.Video.Device, cfg.Video.Width, cfg.Video.Height, cfg.Video.FPS, cfg.Video.Codec)
	fmt.Printf("✓ audio: %s %dHz %dch\n", cfg.Audio.Device, cfg.Audio.SampleRate, cfg.Audio.Channels)
	fmt.Printf("✓ output: h264=%s pcm=%s\n", cfg.Output.H264Path, cfg.Output.PcmPath)

	return nil
}

// runSetup runs the interactive setup wizard, writing a new config file.
func runSetup(args []string) error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("setup requires root privileges (run with sudo)")
	}

	autoMode := false
	for _, arg := range args {
		if arg == "--auto" || arg == "-y" {
			autoMode = true
		}
	}

	fmt.Println("avcapd Setup Wizard")
	fmt.Println("===================")
	fmt.Println()

	fmt.Println("Step 1: Checking prerequisites...")
	prereqsOK := true

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		fmt.Println("  [!] ffmpeg not found - required for video encoding")
		prereqsOK = false
	} else {
		fmt.Println("  [✓] ffmpeg installed")
	}

	if _, err := os.Stat("/proc/asound"); os.IsNotExist(err) {
		fmt.Println("  [!] ALSA not available - required for audio capture")
		prereqsOK = false
	} else {
		fmt.Println("  [✓] ALSA available")
	}

	videoDevices, _ := filepath.Glob("/dev/video*")
	if len(videoDevices) == 0 {
		fmt.Println("  [!] No /dev/video* devices found")
		prereqsOK = false
	} else {
		fmt.Printf("  [✓] Found %d video device(s)\n", len(videoDevices))
	}

	if !prereqsOK && !autoMode {
		if !menu.Confirm(os.Stdin, os.Stdout, "Some prerequisites are missing. Continue anyway?") {
			return fmt.Errorf("setup cancelled - install missing prerequisites first")
		}
	}
	fmt.Println()

	fmt.Println("Step 2: udev device mapping")
	if _, err := os.Stat(udev.RulesFilePath); err == nil {
		fmt.Printf("  [✓] udev rules already exist (%s)\n", udev.RulesFilePath)
	} else if autoMode || menu.Confirm(os.Stdin, os.Stdout, "No udev rules found. Map USB sound cards to stable names now?") {
		audioDevices, derr := audio.DetectDevices("/proc/asound")
		if derr != nil {
			fmt.Printf("  [!] could not detect ALSA devices: %v\n", derr)
		} else if werr := writeUdevRules(audioDevices); werr != nil {
			fmt.Printf("  [!] %v\n", werr)
		}
	} else {
		fmt.Println("  [!] Skipped. Run 'avcapd devices --write-rules' later after identifying stable device names.")
	}
	fmt.Println()

	fmt.Println("Step 3: Configuration")
	if _, err := os.Stat(defaultConfigPath); err == nil {
		fmt.Printf("  [✓] Configuration exists (%s)\n", defaultConfigPath)
	} else {
		cfg := config.DefaultConfig()
		if len(videoDevices) > 0 {
			cfg.Video.Device = videoDevices[0]
		}
		if err := os.MkdirAll(filepath.Dir(defaultConfigPath), 0750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := cfg.Save(defaultConfigPath); err != nil {
			return fmt.Errorf("failed to write default configuration: %w", err)
		}
		fmt.Printf("  [✓] Wrote default configuration to %s\n", defaultConfigPath)
	}

	fmt.Println()
	fmt.Println("Setup complete. Run 'avcapd run' to start the pipeline.")
	return nil
}

// runMenu launches the interactive management menu.
func runMenu(args []string) error {
	m := createAvcapdMenu()
	return m.Display()
}

// createAvcapdMenu builds the top-level interactive menu, dispatching
// back into the same subcommands as the CLI.
func createAvcapdMenu() *menu.Menu {
	m := menu.New("avcapd Management Menu")

	m.AddItem(menu.MenuItem{
		Key:   "1",
		Label: "Run Setup Wizard",
		Action: func() error {
			return menu.RunCommand(os.Stdout, "avcapd", "setup")
		},
	})

	m.AddItem(menu.MenuItem{
		Key:   "2",
		Label: "List Devices",
		Action: func() error {
			err := menu.RunCommand(os.Stdout, "avcapd", "devices")
			menu.WaitForKey(os.Stdin, os.Stdout, "")
			return err
		},
	})

	m.AddItem(menu.MenuItem{
		Key:   "3",
		Label: "Run Diagnostics",
		Action: func() error {
			err := menu.RunCommand(os.Stdout, "avcapd", "diagnose")
			menu.WaitForKey(os.Stdin, os.Stdout, "")
			return err
		},
	})

	m.AddItem(menu.MenuItem{
		Key:   "4",
		Label: "Validate Configuration",
		Action: func() error {
			err := menu.RunCommand(os.Stdout, "avcapd", "validate")
			menu.WaitForKey(os.Stdin, os.Stdout, "")
			return err
		},
	})

	m.AddItem(menu.MenuItem{
		Key:   "5",
		Label: "Start Pipeline (foreground)",
		Action: func() error {
			if !menu.Confirm(os.Stdin, os.Stdout, "This runs in the foreground until interrupted. Continue?") {
				return nil
			}
			return menu.RunCommand(os.Stdout, "avcapd", "run")
		},
	})

	m.AddSeparator()

	m.AddItem(menu.MenuItem{
		Key:   "6",
		Label: "About / Version",
		Action: func() error {
			return menu.RunCommand(os.Stdout, "avcapd", "version")
		},
	})

	m.AddItem(menu.MenuItem{
		Key:    "0",
		Label:  "Exit",
		Action: nil,
	})

	return m
}

// healthAdapter wraps an *orchestrate.Orchestrator to satisfy
// health.StatusProvider and health.MetricsProvider.
type healthAdapter struct {
	orch *orchestrate.Orchestrator
}

func (h *healthAdapter) Stages() []health.StageInfo {
	statuses := h.orch.Status()
	out := make([]health.StageInfo, 0, len(statuses))
	for _, s := range statuses {
		info := health.StageInfo{
			Name:    s.Name,
			State:   s.State.String(),
			Healthy: s.State != orchestrate.StageFailed,
			Uptime:  s.Uptime,
		}
		if s.LastError != nil {
			info.Error = s.LastError.Error()
		}
		out = append(out, info)
	}
	return out
}

func (h *healthAdapter) VideoFrames() uint64    { return h.orch.Stats().VideoFrames.Load() }
func (h *healthAdapter) EncBytes() uint64       { return h.orch.Stats().EncBytes.Load() }
func (h *healthAdapter) AudioChunks() uint64    { return h.orch.Stats().AudioChunks.Load() }
func (h *healthAdapter) DropCount() uint64      { return h.orch.Stats().DropCount.Load() }
func (h *healthAdapter) VideoPTSDeltaUs() int64 { return h.orch.Stats().VideoPTSDeltaUs.Load() }
func (h *healthAdapter) AudioPTSDeltaUs() int64 { return h.orch.Stats().AudioPTSDeltaUs.Load() }

func (h *healthAdapter) QueueDepths() []health.QueueDepth {
	q := h.orch.Queues()
	return []health.QueueDepth{
		{Name: "raw", Size: q.Raw.Size(), Capacity: q.Raw.Capacity()},
		{Name: "h264", Size: q.H264.Size(), Capacity: q.H264.Capacity()},
		{Name: "pcm", Size: q.Pcm.Size(), Capacity: q.Pcm.Capacity()},
	}
}
