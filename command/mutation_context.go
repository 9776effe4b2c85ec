package command

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/couchbase/gomemcached"

	kverrors "github.com/couchbase/kvengine/errors"
	"github.com/couchbase/kvengine/storedvalue"
	"github.com/couchbase/kvengine/vbucket"
)

// Operation names the five memcached mutation verbs plus the
// input-CAS-implied CAS variant, per spec.md §4.H.
type Operation int

const (
	OperationAdd Operation = iota
	OperationSet
	OperationReplace
	OperationAppend
	OperationPrepend
	OperationCas
)

type mutationState int

const (
	mutationStateValidateInput mutationState = iota
	mutationStateAllocateNewItem
	mutationStateStoreItem
	mutationStateSendResponse
	mutationStateDone
)

// MutationStats accumulates the counters spec.md §4.H's Done/non-
// EWOULDBLOCK-exit paths charge, mirroring mutation_context.cc's
// SLAB_INCR(cmd_set)/cas_hits/cas_badval/cas_misses bookkeeping,
// including its documented cmd_set double-count: cmd_set is charged
// both when Done is reached AND, for a non-CAS op, again on every
// non-EWOULDBLOCK error exit (Open Question 2; preserved verbatim).
type MutationStats struct {
	CmdSet    int64
	CasHits   int64
	CasBadval int64
	CasMisses int64
}

// MutationCommandContext drives ADD/SET/REPLACE/APPEND/PREPEND/CAS to
// completion, grounded on
// _examples/original_source/daemon/protocol/mcbp/mutation_context.cc.
type MutationCommandContext struct {
	VB                         *vbucket.VBucket
	Key                        storedvalue.Key
	Value                      []byte
	InputCas                   uint64
	Flags                      uint32
	Expiration                 uint32
	Datatype                   storedvalue.Datatype
	ClientSupportsDatatype     bool
	ClientSupportsMutationExtras bool
	NoReply                    bool
	VBucketUUID                uint64

	operation Operation
	state     mutationState
	newItem   *storedvalue.StoredValue
	stats     *MutationStats
}

// NewMutationCommandContext mirrors the constructor's operation
// remap: a non-zero input CAS always means OPERATION_CAS regardless
// of the opcode requested.
func NewMutationCommandContext(vb *vbucket.VBucket, key storedvalue.Key, value []byte, inputCas uint64, op Operation, stats *MutationStats) *MutationCommandContext {
	if inputCas != 0 {
		op = OperationCas
	}
	return &MutationCommandContext{
		VB: vb, Key: key, Value: value, InputCas: inputCas,
		operation: op, state: mutationStateValidateInput, stats: stats,
	}
}

func (c *MutationCommandContext) Step() (*Response, error) {
	for {
		switch c.state {
		case mutationStateValidateInput:
			if err := c.validateInput(); err != nil {
				return nil, c.exit(err)
			}
		case mutationStateAllocateNewItem:
			if err := c.allocateNewItem(); err != nil {
				return nil, c.exit(err)
			}
		case mutationStateStoreItem:
			if err := c.storeItem(); err != nil {
				return nil, c.exit(err)
			}
		case mutationStateSendResponse:
			resp, err := c.sendResponse()
			if err != nil {
				return nil, c.exit(err)
			}
			return resp, c.exit(nil)
		case mutationStateDone:
			return nil, nil
		}
	}
}

// exit applies the Done / non-EWOULDBLOCK-exit stat charges.
func (c *MutationCommandContext) exit(err error) error {
	if err == nil {
		c.state = mutationStateDone
		c.stats.CmdSet++
		if c.operation == OperationCas {
			c.stats.CasHits++
		}
		return nil
	}
	if err != kverrors.ErrEWouldBlock {
		if c.operation == OperationCas {
			switch kverrors.Code(err) {
			case kverrors.KeyEexists:
				c.stats.CasBadval++
			case kverrors.KeyEnoent:
				c.stats.CasMisses++
			}
		} else {
			c.stats.CmdSet++
		}
	}
	return err
}

// validateInput speculatively upgrades an undeclared datatype to JSON
// when the value parses as JSON, mirroring validateInput's
// speculative-JSON-validation path when the client has not
// advertised datatype support.
func (c *MutationCommandContext) validateInput() error {
	if !c.ClientSupportsDatatype {
		if c.Datatype != storedvalue.DatatypeRaw {
			return kverrors.NewEinval("datatype bits set but client did not negotiate datatype support")
		}
		if json.Valid(c.Value) {
			c.Datatype = storedvalue.DatatypeJSON
		}
	}
	c.state = mutationStateAllocateNewItem
	return nil
}

// allocateNewItem reserves a new StoredValue charged against the
// partition's memory quota and copies the client's value into it,
// mirroring allocateNewItem's bucket_allocate + memcpy.
func (c *MutationCommandContext) allocateNewItem() error {
	if err := c.VB.Quota.Allocate(uint64(len(c.Value))); err != nil {
		return err
	}
	sv := storedvalue.New(c.Key, c.Value, c.Flags, c.Expiration, c.Datatype)
	sv.SetCAS(c.InputCas)
	c.newItem = sv
	c.state = mutationStateStoreItem
	return nil
}

// storeItem queues the new value and remaps NOT_STORED per ADD/
// REPLACE semantics, mirroring storeItem's remap of ENGINE_NOT_STORED.
func (c *MutationCommandContext) storeItem() error {
	guard := c.VB.HT.LockBucket(c.Key)
	existing, exists := guard.Find(c.Key, false)

	switch c.operation {
	case OperationAdd:
		if exists {
			guard.Unlock()
			return kverrors.NewKeyEexists("key already exists")
		}
	case OperationReplace:
		if !exists {
			guard.Unlock()
			return kverrors.NewKeyEnoent("key does not exist")
		}
	case OperationCas:
		if !exists {
			guard.Unlock()
			return kverrors.NewKeyEnoent("key does not exist")
		}
		if existing.CAS() != c.InputCas {
			guard.Unlock()
			return kverrors.NewKeyEexists("cas mismatch")
		}
	case OperationAppend, OperationPrepend:
		if !exists {
			guard.Unlock()
			return kverrors.NewNotStored("key does not exist")
		}
		if c.operation == OperationAppend {
			c.newItem.SetValue(append(append([]byte{}, existing.Value()...), c.Value...))
		} else {
			c.newItem.SetValue(append(append([]byte{}, c.Value...), existing.Value()...))
		}
	}

	newCas := c.VB.Clock.Next(time.Now())
	c.newItem.SetCAS(uint64(newCas))
	guard.Insert(c.newItem)
	guard.Unlock()

	c.VB.Filters.Add(c.Key.Bytes())
	c.VB.QueueDirty(c.newItem, true, false)
	c.state = mutationStateSendResponse
	return nil
}

func (c *MutationCommandContext) sendResponse() (*Response, error) {
	if c.NoReply {
		return &Response{Status: gomemcached.SUCCESS, NoReply: true, Cas: c.newItem.CAS()}, nil
	}

	resp := &Response{Status: gomemcached.SUCCESS, Cas: c.newItem.CAS()}
	if c.ClientSupportsMutationExtras {
		extras := make([]byte, 16)
		binary.BigEndian.PutUint64(extras[0:8], c.VBucketUUID)
		binary.BigEndian.PutUint64(extras[8:16], uint64(c.newItem.Seqno()))
		resp.Value = extras
	}
	return resp, nil
}
