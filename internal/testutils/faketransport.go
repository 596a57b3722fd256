package testutils

import (
	"context"
	"sync"

	"github.com/srg/blescale/internal/transport"
)

// FakeTransport scripts the radio for tests. Scan and Connect capture
// the session's sink; the Emit methods push events through it exactly
// like a platform adapter would. Nothing is emitted implicitly except
// the FakeConn auto-acks that are switched on per test.
type FakeTransport struct {
	mu   sync.Mutex
	sink transport.Sink

	scanCalls   int
	stopCalls   int
	connects    []string
	lastOptions transport.ScanOptions

	// ScanErr and ConnectErr are returned synchronously by Scan and
	// Connect when set.
	ScanErr    error
	ConnectErr error
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

func (f *FakeTransport) Scan(_ context.Context, opts transport.ScanOptions, sink transport.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScanErr != nil {
		return f.ScanErr
	}
	f.scanCalls++
	f.lastOptions = opts
	f.sink = sink
	return nil
}

func (f *FakeTransport) StopScan() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
}

func (f *FakeTransport) Connect(_ context.Context, address string, sink transport.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connects = append(f.connects, address)
	f.sink = sink
	return nil
}

func (f *FakeTransport) ScanCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanCalls
}

func (f *FakeTransport) StopScanCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func (f *FakeTransport) Connects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connects...)
}

func (f *FakeTransport) LastScanOptions() transport.ScanOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOptions
}

func (f *FakeTransport) emit(ev transport.Event) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink == nil {
		panic("testutils: no sink captured, call Scan or Connect first")
	}
	sink(ev)
}

// EmitAdvertisement delivers one advertisement to the session.
func (f *FakeTransport) EmitAdvertisement(adv transport.Advertisement) {
	f.emit(transport.AdvertisementEvent{Adv: adv})
}

// EmitScanFailed reports an abnormal scan termination.
func (f *FakeTransport) EmitScanFailed(code int, err error) {
	f.emit(transport.ScanFailedEvent{Code: code, Err: err})
}

// EmitConnected completes a dial with the given connection. The conn is
// wired to this transport's sink so its auto-acks land in the session.
func (f *FakeTransport) EmitConnected(conn *FakeConn) {
	conn.attach(f)
	f.emit(transport.ConnectedEvent{Conn: conn})
}

// EmitDisconnected reports link loss, or a failed dial when no
// ConnectedEvent was emitted before it.
func (f *FakeTransport) EmitDisconnected(address string, err error) {
	f.emit(transport.DisconnectedEvent{Address: address, Err: err})
}

// EmitServices completes service discovery explicitly. Only needed when
// the FakeConn has no scripted profile.
func (f *FakeTransport) EmitServices(services []*transport.Service, err error) {
	f.emit(transport.ServicesEvent{Services: services, Err: err})
}

// EmitValue delivers a notified characteristic value.
func (f *FakeTransport) EmitValue(charUUID string, data []byte) {
	f.emit(transport.ValueEvent{CharUUID: charUUID, Data: data})
}

// EmitWriteResult completes one characteristic write explicitly.
func (f *FakeTransport) EmitWriteResult(charUUID string, err error) {
	f.emit(transport.WriteResultEvent{CharUUID: charUUID, Err: err})
}

// SubscribeCall records one Subscribe invocation.
type SubscribeCall struct {
	CharUUID string
	Indicate bool
}

// DescriptorWrite records one WriteDescriptor invocation.
type DescriptorWrite struct {
	UUID     string
	CharUUID string
	Value    []byte
}

// WriteCall records one characteristic write.
type WriteCall struct {
	CharUUID     string
	Data         []byte
	WithResponse bool
}

// FakeConn is a scripted link. The zero value records calls and replies
// to nothing; set Profile, AckDescriptor, AckWrites or CharValues to
// have the bootstrap, handshake and polling flows complete on their own.
type FakeConn struct {
	Addr     string
	PeerName string

	// Profile is auto-delivered as a ServicesEvent on Discover.
	Profile     []*transport.Service
	DiscoverErr error

	// AckDescriptor auto-completes descriptor writes; DescriptorErr
	// makes the completion a failure.
	AckDescriptor bool
	DescriptorErr error

	// AckWrites auto-completes characteristic writes; WriteErr makes
	// every completion a failure.
	AckWrites bool
	WriteErr  error

	// SubscribeErr is returned synchronously by Subscribe.
	SubscribeErr error

	// CharValues auto-completes reads per characteristic; a missing
	// entry leaves the read unanswered.
	CharValues map[string][]byte
	ReadErr    error

	mu         sync.Mutex
	ft         *FakeTransport
	discovers  int
	subscribes []SubscribeCall
	descWrites []DescriptorWrite
	writes     []WriteCall
	reads      []string
	closes     int
}

func (c *FakeConn) attach(ft *FakeTransport) {
	c.mu.Lock()
	c.ft = ft
	c.mu.Unlock()
}

func (c *FakeConn) reply(ev transport.Event) {
	c.mu.Lock()
	ft := c.ft
	c.mu.Unlock()
	if ft != nil {
		ft.emit(ev)
	}
}

func (c *FakeConn) Address() string { return c.Addr }
func (c *FakeConn) Name() string    { return c.PeerName }

func (c *FakeConn) Discover() {
	c.mu.Lock()
	c.discovers++
	c.mu.Unlock()

	if c.DiscoverErr != nil {
		c.reply(transport.ServicesEvent{Err: c.DiscoverErr})
		return
	}
	if c.Profile != nil {
		c.reply(transport.ServicesEvent{Services: c.Profile})
	}
}

func (c *FakeConn) Subscribe(ch *transport.Characteristic, indicate bool) error {
	c.mu.Lock()
	c.subscribes = append(c.subscribes, SubscribeCall{CharUUID: ch.UUID, Indicate: indicate})
	c.mu.Unlock()
	return c.SubscribeErr
}

func (c *FakeConn) WriteDescriptor(d *transport.Descriptor, value []byte) {
	c.mu.Lock()
	c.descWrites = append(c.descWrites, DescriptorWrite{
		UUID:     d.UUID,
		CharUUID: d.CharUUID,
		Value:    append([]byte(nil), value...),
	})
	c.mu.Unlock()

	if c.AckDescriptor {
		c.reply(transport.DescriptorWriteEvent{CharUUID: d.CharUUID, Err: c.DescriptorErr})
	}
}

func (c *FakeConn) Write(ch *transport.Characteristic, data []byte, withResponse bool) {
	c.mu.Lock()
	c.writes = append(c.writes, WriteCall{
		CharUUID:     ch.UUID,
		Data:         append([]byte(nil), data...),
		WithResponse: withResponse,
	})
	c.mu.Unlock()

	if c.AckWrites {
		c.reply(transport.WriteResultEvent{CharUUID: ch.UUID, Err: c.WriteErr})
	}
}

func (c *FakeConn) Read(ch *transport.Characteristic) {
	c.mu.Lock()
	c.reads = append(c.reads, ch.UUID)
	c.mu.Unlock()

	if c.ReadErr != nil {
		c.reply(transport.ReadResultEvent{CharUUID: ch.UUID, Err: c.ReadErr})
		return
	}
	if v, ok := c.CharValues[ch.UUID]; ok {
		c.reply(transport.ReadResultEvent{CharUUID: ch.UUID, Data: v})
	}
}

// Close records the call and reports the disconnect back, mirroring a
// transport that completes a requested teardown.
func (c *FakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	first := c.closes == 1
	c.mu.Unlock()

	if first {
		c.reply(transport.DisconnectedEvent{Address: c.Addr})
	}
	return nil
}

func (c *FakeConn) Discovers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discovers
}

func (c *FakeConn) Subscribes() []SubscribeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SubscribeCall(nil), c.subscribes...)
}

func (c *FakeConn) DescriptorWrites() []DescriptorWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DescriptorWrite(nil), c.descWrites...)
}

func (c *FakeConn) Writes() []WriteCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]WriteCall(nil), c.writes...)
}

// WrittenCommands renders the recorded writes as strings.
func (c *FakeConn) WrittenCommands() []string {
	calls := c.Writes()
	cmds := make([]string, len(calls))
	for i, w := range calls {
		cmds[i] = string(w.Data)
	}
	return cmds
}

func (c *FakeConn) Reads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.reads...)
}

func (c *FakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// DeniedPermissions is a PermissionSource that always reports false.
type DeniedPermissions struct{}

func (DeniedPermissions) HasPermissions() bool { return false }
