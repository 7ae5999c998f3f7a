package pipeline

// Observer - notification sink for controller lifecycle events. All
// methods are optional: embed NopObserver and override what you need.
// Callbacks fire from internal goroutines, not from the caller of
// Start/Stop, and must not call back into the controller without
// re-entering the caller's serialization discipline.
type Observer interface {
	OnStart(camera string)
	OnStop(camera string)
	OnError(camera string, message string)
}

// NopObserver - default no-op implementation for embedding
type NopObserver struct{}

func (NopObserver) OnStart(string)         {}
func (NopObserver) OnStop(string)          {}
func (NopObserver) OnError(string, string) {}

// SetObserver - replace the notification sink. The controller does not
// own the observer; pass nil to detach before the observer goes away.
func (c *Controller) SetObserver(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// observer snapshot under lock, nil-checked at every dispatch
func (c *Controller) snapObserver() Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observer
}
