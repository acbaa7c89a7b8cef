package slicing

import (
	"time"

	"github.com/KilimcininKorOglu/concord/internal/logging"
	"github.com/google/uuid"
)

// Options configures a Slicer or an Assembler.
type Options struct {
	SliceSize int
	// Expiry is how long a transfer may go without progress.
	Expiry time.Duration
	Now    func() time.Time
	Logger logging.Logger
}

func (o *Options) defaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
}

// SliceRequest describes one payload to send.
type SliceRequest struct {
	To        uint64
	Data      []byte
	OnFailure func(error)
}

type outgoing struct {
	id           uuid.UUID
	to           uint64
	data         []byte
	total        int
	index        int
	lastHash     uint32
	lastProgress time.Time
	onFailure    func(error)
}

// Slicer sends payloads slice by slice. It is not safe for concurrent use.
type Slicer struct {
	send   SendFunc
	opts   Options
	states map[uuid.UUID]*outgoing
}

// NewSlicer creates a Slicer that sends through send.
func NewSlicer(send SendFunc, opts Options) *Slicer {
	opts.defaults()
	return &Slicer{
		send:   send,
		opts:   opts,
		states: make(map[uuid.UUID]*outgoing),
	}
}

// Slice starts a transfer and sends its first slice.
func (s *Slicer) Slice(req SliceRequest) uuid.UUID {
	st := &outgoing{
		id:           uuid.New(),
		to:           req.To,
		data:         req.Data,
		total:        sliceCount(len(req.Data), s.opts.SliceSize),
		lastProgress: s.opts.Now(),
		onFailure:    req.OnFailure,
	}
	s.states[st.id] = st
	s.opts.Logger.Debug("slicing message", "id", st.id, "to", st.to, "size", len(req.Data), "slices", st.total)
	s.restart(st)
	return st.id
}

func (s *Slicer) restart(st *outgoing) {
	st.index = 1
	st.lastHash = InitialSliceHash
	s.sendCurrent(st)
}

func (s *Slicer) sendCurrent(st *outgoing) {
	s.send(st.to, &MessageSlice{
		ID:            st.id,
		SliceIndex:    st.index,
		TotalSlices:   st.total,
		Data:          sliceAt(st.data, st.index, s.opts.SliceSize),
		LastSliceHash: st.lastHash,
	})
}

// HandleMessage consumes slice replies and reports whether msg was one.
func (s *Slicer) HandleMessage(from uint64, msg interface{}) bool {
	reply, ok := msg.(*MessageSliceReply)
	if !ok {
		return false
	}
	st, ok := s.states[reply.ID]
	if !ok || st.to != from {
		return true
	}

	if !reply.Success {
		if reply.SliceIndex == InvalidSliceIndex {
			s.opts.Logger.Debug("slice rejected, restarting transfer", "id", st.id, "to", st.to)
			s.restart(st)
		} else if reply.SliceIndex == st.index {
			s.sendCurrent(st)
		}
		return true
	}
	if reply.SliceIndex != st.index {
		return true
	}

	st.lastProgress = s.opts.Now()
	if st.index == st.total {
		delete(s.states, st.id)
		s.opts.Logger.Debug("sliced message delivered", "id", st.id, "to", st.to)
		return true
	}
	st.lastHash = Hash(sliceAt(st.data, st.index, s.opts.SliceSize))
	st.index++
	s.sendCurrent(st)
	return true
}

// CheckExpired drops transfers idle for longer than the expiry period.
func (s *Slicer) CheckExpired() {
	now := s.opts.Now()
	for id, st := range s.states {
		if now.Sub(st.lastProgress) <= s.opts.Expiry {
			continue
		}
		delete(s.states, id)
		s.opts.Logger.Warn("sliced message expired", "id", id, "to", st.to, "slice", st.index, "total", st.total)
		if st.onFailure != nil {
			st.onFailure(ErrExpired)
		}
	}
}

// AbortAll drops every transfer without running failure callbacks.
func (s *Slicer) AbortAll() {
	for id := range s.states {
		delete(s.states, id)
	}
}

// InProgress returns the number of unfinished transfers.
func (s *Slicer) InProgress() int {
	return len(s.states)
}
