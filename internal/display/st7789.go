package display

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"sync"
	"time"

	"batterycounter/internal/hw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// ST7789 command set
const (
	cmdSWRESET = 0x01
	cmdSLPOUT  = 0x11
	cmdNORON   = 0x13
	cmdINVON   = 0x21
	cmdDISPOFF = 0x28
	cmdDISPON  = 0x29
	cmdCASET   = 0x2A
	cmdRASET   = 0x2B
	cmdRAMWR   = 0x2C
	cmdMADCTL  = 0x36
	cmdCOLMOD  = 0x3A
)

const (
	panelWidth  = 240
	panelHeight = 320
	// Text is drawn on a half-size canvas and doubled when sent
	textScale = 2
	// spidev rejects transfers larger than its default buffer
	maxTransfer = 4096
	spiSpeed    = 40 * physic.MegaHertz
)

var (
	colorBackground = color.RGBA{0, 0, 0, 255}
	colorTitle      = color.RGBA{0, 255, 255, 255}
	colorValue      = color.RGBA{255, 255, 255, 255}
	colorDetail     = color.RGBA{0, 255, 0, 255}
	colorPending    = color.RGBA{255, 255, 0, 255}
)

// spiConn is satisfied by spi.Conn
type spiConn interface {
	Tx(w, r []byte) error
}

// outPin is satisfied by gpio.PinOut
type outPin interface {
	Out(l gpio.Level) error
}

// ST7789 drives a 240x320 TFT panel over SPI
type ST7789 struct {
	mu           sync.Mutex
	conn         spiConn
	dc           outPin
	rst          outPin
	bl           outPin // optional
	showDistance bool
	sleep        func(time.Duration)
	closers      []func() error
	last         Readout
	shown        bool
}

// NewST7789 initialises a panel on already opened SPI and GPIO handles
func NewST7789(conn spiConn, dc, rst, bl outPin, showDistance bool) (*ST7789, error) {
	return newST7789(conn, dc, rst, bl, showDistance, time.Sleep)
}

func newST7789(conn spiConn, dc, rst, bl outPin, showDistance bool, sleep func(time.Duration)) (*ST7789, error) {
	p := &ST7789{
		conn:         conn,
		dc:           dc,
		rst:          rst,
		bl:           bl,
		showDistance: showDistance,
		sleep:        sleep,
	}
	if err := p.init(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return p, nil
}

// OpenST7789 opens the SPI port and control pins named in cfg
func OpenST7789(cfg Config, logger *slog.Logger) (*ST7789, error) {
	if err := hw.Init(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	dc, err := hw.Pin(cfg.DCPin)
	if err != nil {
		return nil, fmt.Errorf("%w: dc pin: %v", ErrUnavailable, err)
	}
	rst, err := hw.Pin(cfg.RSTPin)
	if err != nil {
		return nil, fmt.Errorf("%w: reset pin: %v", ErrUnavailable, err)
	}
	var bl outPin
	if cfg.BLPin != "" {
		p, err := hw.Pin(cfg.BLPin)
		if err != nil {
			return nil, fmt.Errorf("%w: backlight pin: %v", ErrUnavailable, err)
		}
		bl = p
	}

	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("%w: open spi port %q: %v", ErrUnavailable, cfg.SPIPort, err)
	}
	conn, err := port.Connect(spiSpeed, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: connect spi: %v", ErrUnavailable, err)
	}

	panel, err := NewST7789(conn, dc, rst, bl, cfg.ShowDistance)
	if err != nil {
		port.Close()
		return nil, err
	}
	panel.closers = []func() error{port.Close}

	logger.Info("st7789 display initialised",
		"component", "display",
		"spi_port", cfg.SPIPort,
		"dc_pin", cfg.DCPin,
		"rst_pin", cfg.RSTPin,
	)
	return panel, nil
}

func (p *ST7789) init() error {
	steps := []func() error{
		func() error { return p.rst.Out(gpio.High) },
		func() error { p.sleep(10 * time.Millisecond); return p.rst.Out(gpio.Low) },
		func() error { p.sleep(10 * time.Millisecond); return p.rst.Out(gpio.High) },
		func() error { p.sleep(120 * time.Millisecond); return p.backlight(gpio.High) },
		func() error { return p.command(cmdSWRESET) },
		func() error { p.sleep(150 * time.Millisecond); return p.command(cmdSLPOUT) },
		func() error { p.sleep(500 * time.Millisecond); return p.command(cmdCOLMOD, 0x55) },
		// Portrait, BGR colour order
		func() error { return p.command(cmdMADCTL, 0x08) },
		func() error { return p.setWindow(0, 0, panelWidth-1, panelHeight-1) },
		func() error { return p.command(cmdINVON) },
		func() error { return p.command(cmdNORON) },
		func() error { return p.command(cmdDISPON) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	p.sleep(100 * time.Millisecond)
	return nil
}

func (p *ST7789) backlight(l gpio.Level) error {
	if p.bl == nil {
		return nil
	}
	return p.bl.Out(l)
}

func (p *ST7789) command(cmd byte, data ...byte) error {
	if err := p.dc.Out(gpio.Low); err != nil {
		return err
	}
	if err := p.conn.Tx([]byte{cmd}, nil); err != nil {
		return fmt.Errorf("command 0x%02X: %w", cmd, err)
	}
	if len(data) == 0 {
		return nil
	}
	return p.data(data)
}

func (p *ST7789) data(buf []byte) error {
	if err := p.dc.Out(gpio.High); err != nil {
		return err
	}
	for len(buf) > 0 {
		n := len(buf)
		if n > maxTransfer {
			n = maxTransfer
		}
		if err := p.conn.Tx(buf[:n], nil); err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func (p *ST7789) setWindow(x0, y0, x1, y1 int) error {
	if err := p.command(cmdCASET, byte(x0>>8), byte(x0), byte(x1>>8), byte(x1)); err != nil {
		return err
	}
	return p.command(cmdRASET, byte(y0>>8), byte(y0), byte(y1>>8), byte(y1))
}

// Show redraws the panel when the readout changed
func (p *ST7789) Show(r Readout) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shown && r == p.last {
		return nil
	}

	frame := toRGB565(Render(r, p.showDistance), textScale)
	if err := p.setWindow(0, 0, panelWidth-1, panelHeight-1); err != nil {
		return err
	}
	if err := p.command(cmdRAMWR); err != nil {
		return err
	}
	if err := p.data(frame); err != nil {
		return err
	}
	p.last = r
	p.shown = true
	return nil
}

// Close turns the panel and backlight off and releases the SPI port
func (p *ST7789) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	errs := []error{p.command(cmdDISPOFF), p.backlight(gpio.Low)}
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	p.closers = nil
	return errors.Join(errs...)
}

// Render draws the readout on a half-resolution canvas
func Render(r Readout, showDistance bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, panelWidth/textScale, panelHeight/textScale))
	draw.Draw(img, img.Bounds(), image.NewUniform(colorBackground), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil() + 4
	y := 20
	for i, line := range r.Lines(showDistance) {
		col := colorDetail
		switch {
		case i == 0:
			col = colorTitle
		case i == 1:
			col = colorValue
		case len(line) > 7 && line[:7] == "PENDING":
			col = colorPending
		}

		width := font.MeasureString(face, line).Ceil()
		x := (img.Bounds().Dx() - width) / 2
		if x < 0 {
			x = 0
		}
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(col),
			Face: face,
			Dot:  fixed.P(x, y),
		}
		d.DrawString(line)
		y += lineHeight
		if i == 1 {
			y += lineHeight / 2
		}
	}
	return img
}

// toRGB565 scales img by an integer factor and packs it big-endian
func toRGB565(img *image.RGBA, scale int) []byte {
	b := img.Bounds()
	w, h := b.Dx()*scale, b.Dy()*scale
	out := make([]byte, 0, w*h*2)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.RGBAAt(b.Min.X+x/scale, b.Min.Y+y/scale)
			v := uint16(c.R&0xF8)<<8 | uint16(c.G&0xFC)<<3 | uint16(c.B>>3)
			out = append(out, byte(v>>8), byte(v))
		}
	}
	return out
}

var _ Display = (*ST7789)(nil)
