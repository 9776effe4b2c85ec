// Package command implements the step()-driven command contexts from
// spec.md §4.H: finite state machines that loop while each state
// returns success, suspend on EWOULDBLOCK, and propagate any other
// error. GetCommandContext is a close structural translation of
// _examples/original_source/daemon/protocol/mcbp/get_context.cc's
// GetCommandContext (getItem/inflateItem/sendResponse/noSuchItem),
// using github.com/couchbase/gomemcached's Status constants for the
// outgoing response code instead of the original's ENGINE_ERROR_CODE,
// and github.com/golang/snappy for inflateItem's decompression.
package command

import (
	"github.com/couchbase/gomemcached"
	"github.com/golang/snappy"

	kverrors "github.com/couchbase/kvengine/errors"
	"github.com/couchbase/kvengine/logging"
	"github.com/couchbase/kvengine/storedvalue"
	"github.com/couchbase/kvengine/vbucket"
)

// Response is the assembled outgoing packet a context hands back to
// the connection layer once it reaches Done.
type Response struct {
	Status   gomemcached.Status
	Flags    uint32
	Key      []byte
	Value    []byte
	Datatype storedvalue.Datatype
	Cas      uint64
	NoReply  bool
}

type getState int

const (
	getStateGetItem getState = iota
	getStateInflateItem
	getStateSendResponse
	getStateNoSuchItem
	getStateDone
)

func (s getState) String() string {
	switch s {
	case getStateGetItem:
		return "GetItem"
	case getStateInflateItem:
		return "InflateItem"
	case getStateSendResponse:
		return "SendResponse"
	case getStateNoSuchItem:
		return "NoSuchItem"
	case getStateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// GetCommandContext drives a single GET request to completion across
// possibly several calls to Step, parking on EWOULDBLOCK while a
// background fetch is outstanding.
type GetCommandContext struct {
	VB                  *vbucket.VBucket
	Key                 storedvalue.Key
	Quiet               bool // true for GETQ: ENOENT advances silently
	ClientSnappyEnabled bool
	ClientXattrEnabled  bool
	ShouldSendKey       bool
	Now                 uint32

	state    getState
	item     *storedvalue.StoredValue
	payload  []byte
	datatype storedvalue.Datatype // response datatype; diverges from item.Datatype once inflated
}

func NewGetCommandContext(vb *vbucket.VBucket, key storedvalue.Key) *GetCommandContext {
	return &GetCommandContext{VB: vb, Key: key, state: getStateGetItem}
}

// Step runs the state machine until it suspends (EWOULDBLOCK),
// propagates some other error, or reaches Done and returns a
// Response.
func (c *GetCommandContext) Step() (*Response, error) {
	for {
		logging.Debugf("GetCommandContext key %q: state %s", c.Key.String(), c.state)
		switch c.state {
		case getStateGetItem:
			if err := c.getItem(); err != nil {
				return nil, err
			}
		case getStateInflateItem:
			if err := c.inflateItem(); err != nil {
				return nil, err
			}
		case getStateSendResponse:
			return c.sendResponse(), nil
		case getStateNoSuchItem:
			return c.noSuchItem(), nil
		case getStateDone:
			return nil, nil
		}
	}
}

func (c *GetCommandContext) getItem() error {
	sv, ok := c.VB.FetchValidValue(c.Key, false, true, true, c.Now)
	if !ok {
		c.state = getStateNoSuchItem
		return nil
	}
	if sv.IsTempInitial() {
		return kverrors.ErrEWouldBlock
	}
	if !c.VB.Manifest.IsVisible(c.Key.CollectionName, sv.Seqno()) {
		c.state = getStateNoSuchItem
		return nil
	}

	c.item = sv
	c.payload = sv.Value()
	c.datatype = sv.Datatype

	needInflate := false
	if sv.Datatype.IsSnappy() {
		needInflate = sv.Datatype.IsXattr() || !c.ClientSnappyEnabled
	}
	if needInflate {
		c.state = getStateInflateItem
	} else {
		c.state = getStateSendResponse
	}
	return nil
}

// inflateItem decompresses a snappy payload that must be sent raw
// because the client cannot handle snappy, or because the xattr
// section must be stripped first. Grounded on get_context.cc's
// inflateItem, which inflates into the response buffer and never
// touches the stored Item: c.item is the live hash-table value, no
// longer under its bucket guard by this point, so only the local
// response state (payload/datatype) is updated here.
func (c *GetCommandContext) inflateItem() error {
	raw, err := snappy.Decode(nil, c.payload)
	if err != nil {
		failed := kverrors.NewFailed(err, "corrupt snappy payload for key %q", c.Key.String())
		logging.Warnf("%v", failed)
		return failed
	}
	c.payload = raw
	c.datatype &^= storedvalue.DatatypeSnappy
	c.state = getStateSendResponse
	return nil
}

func (c *GetCommandContext) sendResponse() *Response {
	datatype := c.datatype
	payload := c.payload
	if datatype.IsXattr() && !c.ClientXattrEnabled {
		datatype &^= storedvalue.DatatypeXattr
	}

	resp := &Response{
		Status:   gomemcached.SUCCESS,
		Flags:    c.item.Flags,
		Value:    payload,
		Datatype: datatype,
		Cas:      c.item.CAS(),
	}
	if c.ShouldSendKey {
		resp.Key = c.Key.Bytes()
	}
	c.state = getStateDone
	return resp
}

func (c *GetCommandContext) noSuchItem() *Response {
	c.state = getStateDone
	if c.Quiet {
		return &Response{Status: gomemcached.KEY_ENOENT, NoReply: true}
	}
	resp := &Response{Status: gomemcached.KEY_ENOENT}
	if c.ShouldSendKey {
		resp.Key = c.Key.Bytes()
	}
	return resp
}
