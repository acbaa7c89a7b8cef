package slicing

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

type incoming struct {
	from         uint64
	total        int
	last         int
	lastHash     uint32
	buf          bytes.Buffer
	lastProgress time.Time
}

// Assembler rebuilds payloads from slices. It is not safe for concurrent use.
type Assembler struct {
	send        SendFunc
	onAssembled func(from uint64, data []byte)
	opts        Options
	states      map[uuid.UUID]*incoming
}

// NewAssembler creates an Assembler that replies through send and hands
// complete payloads to onAssembled.
func NewAssembler(send SendFunc, onAssembled func(from uint64, data []byte), opts Options) *Assembler {
	opts.defaults()
	return &Assembler{
		send:        send,
		onAssembled: onAssembled,
		opts:        opts,
		states:      make(map[uuid.UUID]*incoming),
	}
}

// HandleMessage consumes slices and reports whether msg was one.
func (a *Assembler) HandleMessage(from uint64, msg interface{}) bool {
	slice, ok := msg.(*MessageSlice)
	if !ok {
		return false
	}

	st, ok := a.states[slice.ID]
	if !ok {
		if slice.SliceIndex != 1 || slice.TotalSlices < 1 {
			a.reject(from, slice.ID, nil)
			return true
		}
		st = &incoming{from: from, total: slice.TotalSlices, lastHash: InitialSliceHash}
		a.states[slice.ID] = st
	}

	// A resent slice whose acknowledgement was lost.
	if slice.SliceIndex == st.last && st.last > 0 && from == st.from {
		a.send(from, &MessageSliceReply{ID: slice.ID, SliceIndex: slice.SliceIndex, Success: true})
		return true
	}

	if from != st.from || slice.SliceIndex != st.last+1 || slice.SliceIndex > st.total ||
		slice.TotalSlices != st.total || slice.LastSliceHash != st.lastHash {
		a.reject(from, slice.ID, st)
		return true
	}

	st.buf.Write(slice.Data)
	st.last = slice.SliceIndex
	st.lastHash = Hash(slice.Data)
	st.lastProgress = a.opts.Now()
	a.send(from, &MessageSliceReply{ID: slice.ID, SliceIndex: slice.SliceIndex, Success: true})

	if st.last == st.total {
		delete(a.states, slice.ID)
		a.onAssembled(from, st.buf.Bytes())
	}
	return true
}

func (a *Assembler) reject(from uint64, id uuid.UUID, st *incoming) {
	a.opts.Logger.Debug("invalid slice", "id", id, "from", from)
	if st != nil {
		delete(a.states, id)
	}
	a.send(from, &MessageSliceReply{ID: id, SliceIndex: InvalidSliceIndex})
}

// CheckExpired drops partial payloads idle for longer than the expiry period.
func (a *Assembler) CheckExpired() {
	now := a.opts.Now()
	for id, st := range a.states {
		if now.Sub(st.lastProgress) > a.opts.Expiry {
			delete(a.states, id)
			a.opts.Logger.Debug("partial sliced message expired", "id", id, "from", st.from)
		}
	}
}

// InProgress returns the number of partially received payloads.
func (a *Assembler) InProgress() int {
	return len(a.states)
}
