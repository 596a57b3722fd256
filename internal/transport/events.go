package transport

// Sink receives transport events. Implementations must be safe to call from
// any goroutine; the session's sink enqueues into its serialized event
// queue, so ordering between calls from a single goroutine is preserved.
type Sink func(Event)

// Event is the sum type of everything a transport reports. The variants
// below are the complete set; the session's event loop switches over them.
type Event interface {
	event()
}

// AdvertisementEvent delivers one received advertisement.
type AdvertisementEvent struct {
	Adv Advertisement
}

// ScanFailedEvent reports that a scan terminated abnormally. Code carries
// the platform error code when one exists.
type ScanFailedEvent struct {
	Code int
	Err  error
}

// ConnectedEvent reports a successful connect; Conn is the live handle.
type ConnectedEvent struct {
	Conn Conn
}

// DisconnectedEvent reports link loss from any state, including a failed
// connect attempt. Err is nil for a requested disconnect.
type DisconnectedEvent struct {
	Address string
	Err     error
}

// ServicesEvent reports service discovery completion.
type ServicesEvent struct {
	Services []*Service
	Err      error
}

// ValueEvent delivers a notified or indicated characteristic value.
type ValueEvent struct {
	CharUUID string
	Data     []byte
}

// WriteResultEvent reports completion of a characteristic write.
type WriteResultEvent struct {
	CharUUID string
	Err      error
}

// ReadResultEvent reports completion of a characteristic read.
type ReadResultEvent struct {
	CharUUID string
	Data     []byte
	Err      error
}

// DescriptorWriteEvent reports completion of a descriptor write.
type DescriptorWriteEvent struct {
	CharUUID string
	Err      error
}

func (AdvertisementEvent) event()   {}
func (ScanFailedEvent) event()      {}
func (ConnectedEvent) event()       {}
func (DisconnectedEvent) event()    {}
func (ServicesEvent) event()        {}
func (ValueEvent) event()           {}
func (WriteResultEvent) event()     {}
func (ReadResultEvent) event()      {}
func (DescriptorWriteEvent) event() {}
