package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ambilight/internal/display"
	"ambilight/internal/logging"
	"ambilight/internal/pipeline"
	"ambilight/internal/settings"
)

var (
	version = "0.3.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "ambilight",
	Short: "Ambient light for a second monitor",
	Long: `ambilight samples the edges of one display and projects a blurred,
color-matched glow onto another. Optionally mirrors the glow to a Philips
Hue entertainment area.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the overlay without the control panel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHeadless(cmd)
	},
}

var monitorsCmd = &cobra.Command{
	Use:   "monitors",
	Short: "List displays (index 0 is the combined desktop)",
	RunE: func(cmd *cobra.Command, args []string) error {
		regions, err := display.Enumerate(display.ScreenBounds)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(regions, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := settingsPath()
		if err != nil {
			return err
		}
		s, err := settings.Load(path)
		if err != nil {
			return err
		}
		out, err := settings.Dump(s)
		if err != nil {
			return err
		}
		fmt.Printf("# %s\n%s", path, out)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ambilight v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default is ~/.ambilight/settings.yaml)")

	f := runCmd.Flags()
	f.Int("source", 0, "source monitor index")
	f.Int("target", 0, "target monitor index")
	f.Int("rate", 0, "update rate in frames per second")
	f.Int("blur", 0, "blur radius in output pixels")
	f.Float64("opacity", 0, "overlay opacity, 0-100")
	f.Bool("blend", true, "translucent overlay below other windows")
	f.String("strategy", "", "field strategy: resample or radial")
	f.String("backend", "", "capture backend: auto, pipewire, ffmpeg or screenshot")
	f.Bool("hue", false, "mirror to the saved Hue entertainment area")
	f.Bool("toggle-signal", true, "toggle the overlay on SIGHUP")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(monitorsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func settingsPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return settings.DefaultPath()
}

// applyFlags overlays explicitly set run flags on the saved settings.
func applyFlags(cmd *cobra.Command, s *settings.Settings) error {
	f := cmd.Flags()
	p := &s.Pipeline
	if f.Changed("source") {
		p.SourceMonitor, _ = f.GetInt("source")
	}
	if f.Changed("target") {
		p.TargetMonitor, _ = f.GetInt("target")
	}
	if f.Changed("rate") {
		p.UpdateRate, _ = f.GetInt("rate")
	}
	if f.Changed("blur") {
		p.BlurRadius, _ = f.GetInt("blur")
	}
	if f.Changed("opacity") {
		o, _ := f.GetFloat64("opacity")
		p.Opacity = o / 100
	}
	if f.Changed("blend") {
		p.BlendMode, _ = f.GetBool("blend")
	}
	if f.Changed("strategy") {
		name, _ := f.GetString("strategy")
		st, err := pipeline.ParseStrategy(name)
		if err != nil {
			return err
		}
		p.Strategy = st
	}
	if f.Changed("backend") {
		s.Backend, _ = f.GetString("backend")
	}
	if f.Changed("hue") {
		s.Hue.Enabled, _ = f.GetBool("hue")
	}
	*p = p.Normalize()
	return nil
}

func runHeadless(cmd *cobra.Command) error {
	path, err := settingsPath()
	if err != nil {
		return err
	}
	s, err := settings.Load(path)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, &s); err != nil {
		return err
	}
	logging.Init(s.Log.Format, s.Log.Level, os.Stderr)
	log := logging.L("main")

	a, err := newApp(path, s, nil)
	if err != nil {
		return err
	}

	if s.Hue.Enabled {
		if err := a.resumeHue(context.Background()); err != nil {
			log.Warn("hue mirror unavailable", "err", err)
		}
	}
	if res := a.coord.Start(s.Pipeline); !res.Success {
		a.disconnectHue()
		return fmt.Errorf("starting pipeline: %s", res.Error)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	if toggle, _ := cmd.Flags().GetBool("toggle-signal"); toggle {
		signal.Notify(sigs, syscall.SIGHUP)
	}
	go func() {
		defer signal.Stop(sigs)
		for sig := range sigs {
			if sig == syscall.SIGHUP {
				res := a.coord.Toggle()
				log.Info("toggled", "state", a.coord.State(), "success", res.Success)
				continue
			}
			log.Info("shutting down", "signal", sig.String())
			a.shutdown()
			return
		}
	}()

	// Ebitengine must own the main goroutine.
	return a.host.Run()
}

func runTUI() error {
	path, err := settingsPath()
	if err != nil {
		return err
	}
	s, err := settings.Load(path)
	if err != nil {
		return err
	}

	logPath := filepath.Join(filepath.Dir(path), "ambilight.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return err
	}
	logFile, err := tea.LogToFile(logPath, "ambilight")
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	logging.Init(s.Log.Format, s.Log.Level, logFile)

	var p *tea.Program
	a, err := newApp(path, s, func(st pipeline.State) {
		if p != nil {
			p.Send(stateMsg(st))
		}
	})
	if err != nil {
		return err
	}

	p = tea.NewProgram(newPanel(a.coord, newHueLink(a)), tea.WithAltScreen())
	errc := make(chan error, 1)
	go func() {
		_, err := p.Run()
		a.shutdown()
		errc <- err
	}()
	if s.Hue.Enabled {
		go func() {
			if err := a.resumeHue(context.Background()); err != nil {
				p.Send(hueStatusMsg{err: err})
				return
			}
			if sess := a.hueSession(); sess != nil {
				p.Send(hueStatusMsg{label: sess.Area.String()})
			}
		}()
	}

	if err := a.host.Run(); err != nil {
		p.Quit()
		<-errc
		return err
	}
	return <-errc
}
