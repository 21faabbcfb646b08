package replication

import (
	"net/http"
	"sync"
)

// WriteClosure associates one in-flight request with its response across the
// consensus submission boundary. The engine owns it from submission until it
// fires, exactly once, with the apply outcome. On leadership loss or group
// failure the error reaches the caller here.
type WriteClosure struct {
	req  *Request
	res  *Response
	once sync.Once
}

// NewWriteClosure pairs a request with the response its caller is blocked on.
func NewWriteClosure(req *Request, res *Response) *WriteClosure {
	return &WriteClosure{req: req, res: res}
}

// Request returns the originating request.
func (c *WriteClosure) Request() *Request { return c.req }

// Response returns the response the caller is waiting on.
func (c *WriteClosure) Response() *Response { return c.res }

// Run completes the request. On success the apply path has already populated
// the response; on error the caller sees a retryable failure.
func (c *WriteClosure) Run(err error) {
	c.once.Do(func() {
		if err != nil {
			c.res.Fail(http.StatusInternalServerError, err)
		}
		c.res.signal()
	})
}

// refreshPeersClosure reports the outcome of an asynchronous membership
// change. Callers never block on it; the committed peer set is observed
// through OnConfigurationCommitted.
type refreshPeersClosure struct {
	logger Logger
}

func (c *refreshPeersClosure) Run(err error) {
	if err != nil {
		c.logger.Error("peer refresh failed", "error", err)
		return
	}
	c.logger.Info("peer refresh succeeded")
}

// initSnapshotClosure fires when the lazy startup snapshot finishes. On
// failure the init-snapshot flag is re-armed so a later write retries it.
type initSnapshotClosure struct {
	state *State
}

func (c *initSnapshotClosure) Run(err error) {
	if err != nil {
		c.state.logger.Error("init snapshot failed", "error", err)
		c.state.initSnapshotDone.Store(false)
		return
	}
	c.state.logger.Info("init snapshot succeeded")
}

// onDemandSnapshotClosure completes an operator-triggered snapshot request,
// unblocking the HTTP caller with the save outcome.
type onDemandSnapshotClosure struct {
	state *State
	res   *Response
	once  sync.Once
}

func (c *onDemandSnapshotClosure) Run(err error) {
	c.once.Do(func() {
		c.state.setExtSnapshotPath("")
		if err != nil {
			c.state.logger.Error("on-demand snapshot failed", "error", err)
			c.res.Fail(http.StatusInternalServerError, err)
		} else {
			c.state.logger.Info("on-demand snapshot succeeded")
			c.res.Ok(http.StatusCreated, []byte(`{"ok":true}`))
		}
		c.res.signal()
	})
}
