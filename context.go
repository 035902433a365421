package mmcspi

import "sync"

// Context is the single long-lived entity the driver operates on, one
// per card (spec.md §3). It is created once with a Bus binding; status
// starts at NOINIT. Initialize populates CardType and clears NOINIT.
// Read, Write and Ioctl (other than CTRL_POWER) are only meaningful
// once NOINIT is clear.
type Context struct {
	bus Bus

	mu       sync.Mutex
	status   Status
	cardType CardType
	power    bool
}

// Options configures a Context at construction time, the way the
// corpus's serial port is configured through serial.Options.
type Options struct {
	// InitialStatus seeds the status bitset beyond the NOINIT bit
	// every new Context starts with. Use it to start with NODISK
	// set, for example, when the host knows no card is present yet.
	InitialStatus Status
}

// NewOptions returns the default Options.
func NewOptions() *Options {
	return &Options{}
}

// WithInitialStatus sets extra status bits a new Context should start
// with (NOINIT is always included). Returns o for chaining.
func (o *Options) WithInitialStatus(s Status) *Options {
	o.InitialStatus = s
	return o
}

// NewContext creates a driver context bound to bus. opts may be nil
// for defaults.
func NewContext(bus Bus, opts *Options) *Context {
	if opts == nil {
		opts = NewOptions()
	}
	return &Context{
		bus:    bus,
		status: NOINIT | opts.InitialStatus,
	}
}

// SetNoDisk sets or clears the host-owned NODISK bit. It is the hook
// an external medium-detect source (for example spi.CardDetect) uses
// to report a hot-plug event; it never touches CardType or NOINIT.
func (c *Context) SetNoDisk(present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if present {
		c.status &^= NODISK
	} else {
		c.status |= NODISK
	}
}

// SetWriteProtect sets or clears the host-owned PROTECT bit.
func (c *Context) SetWriteProtect(protected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if protected {
		c.status |= PROTECT
	} else {
		c.status &^= PROTECT
	}
}

func (c *Context) getStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Context) getCardType() CardType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cardType
}

func (c *Context) setClassification(t CardType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cardType = t
	if t != 0 {
		c.status &^= NOINIT
	} else {
		c.status |= NOINIT
	}
}

func (c *Context) setPower(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.power = on
}

func (c *Context) getPower() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.power
}
