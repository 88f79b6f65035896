package main

import (
	"flag"
	"fmt"
	"image/png"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"batterycounter/internal/agent"
	"batterycounter/internal/clock"
	"batterycounter/internal/display"
	"batterycounter/internal/indicator"
	"batterycounter/internal/logging"
	"batterycounter/internal/sensor"
)

func main() {
	// Parse command line flags
	sensors := sensor.DefaultRegistry()
	configPath := flag.String("config", "", "Path to the device configuration file")
	sensorKind := flag.String("sensor", "", "Sensor kind to test, overrides config: "+strings.Join(sensors.List(), ", "))
	displayKind := flag.String("display", "", "Display kind to test (overrides config)")
	duration := flag.Duration("duration", 10*time.Second, "How long to sample the sensor")
	pngPath := flag.String("png", "", "Also write the test readout frame to this PNG file")
	flag.Parse()

	cfg := agent.DefaultConfig()
	if *configPath != "" {
		loaded, err := agent.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *sensorKind != "" {
		cfg.Sensor.Kind = *sensorKind
	}
	if *displayKind != "" {
		cfg.Display.Kind = *displayKind
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: "text",
		Level:  logging.ParseLevel(cfg.LogLevel),
	})

	fmt.Printf("Testing battery counter hardware...\n")
	fmt.Printf("Sensor:  %s\n", cfg.Sensor.Kind)
	fmt.Printf("Display: %s\n", cfg.Display.Kind)
	fmt.Printf("\n")

	// Display first so a dead sensor still leaves a visible frame
	readout := display.Compose(cfg.Impact.Derive(1234), 5, cfg.Impact, -1)
	if err := testDisplay(cfg.Display, readout, logger); err != nil {
		fmt.Printf("❌ Display: %v\n", err)
	} else {
		fmt.Printf("✅ Display shows test readout (total %d)\n", readout.Total)
	}

	if *pngPath != "" {
		if err := writePNG(*pngPath, readout, cfg.Display.ShowDistance); err != nil {
			log.Fatalf("Failed to write %s: %v", *pngPath, err)
		}
		fmt.Printf("✅ Frame written to %s\n", *pngPath)
	}

	if cfg.LEDPin != "" {
		if err := testLED(cfg.LEDPin); err != nil {
			fmt.Printf("❌ LED on %s: %v\n", cfg.LEDPin, err)
		} else {
			fmt.Printf("✅ LED on %s blinked\n", cfg.LEDPin)
		}
	}

	s, err := sensors.Open(cfg.Sensor, logger)
	if err != nil {
		log.Fatalf("❌ Sensor: %v", err)
	}
	defer s.Close()

	tap := &tappedSensor{Sensor: s}
	detector := sensor.NewDetector(tap, cfg.Sensor.Debounce(), clock.Real{})
	fmt.Printf("\nSampling %s for %s, pass items in front of it...\n", s.Name(), *duration)

	detections, failures := sample(tap, detector, cfg.LoopInterval.Duration, *duration)

	fmt.Printf("\n")
	if failures > 0 {
		fmt.Printf("⚠️  %d read failures\n", failures)
	}
	fmt.Printf("✅ %d detections in %s\n", detections, *duration)
}

// tappedSensor remembers the last raw state read through it
type tappedSensor struct {
	sensor.Sensor
	last bool
}

func (t *tappedSensor) Triggered() (bool, error) {
	v, err := t.Sensor.Triggered()
	if err == nil {
		t.last = v
	}
	return v, err
}

// LastDistance forwards to range-finding sensors
func (t *tappedSensor) LastDistance() int {
	if r, ok := t.Sensor.(sensor.DistanceReporter); ok {
		return r.LastDistance()
	}
	return -1
}

// sample polls the sensor, printing each state change
func sample(tap *tappedSensor, detector *sensor.Detector, interval, duration time.Duration) (detections, failures int) {
	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastState := false
	for time.Now().Before(deadline) {
		<-ticker.C

		detected, err := detector.Detect()
		if err != nil {
			failures++
			fmt.Printf("  read error: %v\n", err)
			continue
		}

		triggered := tap.last
		if triggered != lastState {
			lastState = triggered
			if d := detector.LastDistance(); d >= 0 {
				fmt.Printf("  triggered=%t distance=%dmm\n", triggered, d)
			} else {
				fmt.Printf("  triggered=%t\n", triggered)
			}
		}
		if detected {
			detections++
			fmt.Printf("  detection #%d\n", detections)
		}
	}
	return detections, failures
}

func testDisplay(cfg display.Config, r display.Readout, logger *slog.Logger) error {
	d, err := display.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Show(r); err != nil {
		return err
	}
	// Leave the frame up long enough to inspect
	time.Sleep(2 * time.Second)
	return nil
}

func testLED(pin string) error {
	led, err := indicator.OpenLED(pin)
	if err != nil {
		return err
	}
	defer led.Close()

	for i := 0; i < 3; i++ {
		if err := led.Set(true); err != nil {
			return err
		}
		time.Sleep(200 * time.Millisecond)
		if err := led.Set(false); err != nil {
			return err
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil
}

func writePNG(path string, r display.Readout, showDistance bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, display.Render(r, showDistance))
}
