package process

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"skyport/internal/domain"
)

// Subscription receives the output events of one process (or of every process
// for a catch-all subscription) in arrival order.
type Subscription struct {
	id        uint64
	processID string // empty for catch-all
	out       chan domain.OutputEvent

	mu      sync.Mutex
	pending []domain.OutputEvent
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
	demux   *Demux
}

// Events returns the delivery channel. For a per-process subscription it is
// closed right after the exit event; for a catch-all subscription it is closed
// by Close or Demux.Shutdown.
func (s *Subscription) Events() <-chan domain.OutputEvent { return s.out }

// ProcessID returns the process this subscription is bound to, or "" for catch-all.
func (s *Subscription) ProcessID() string { return s.processID }

// Close detaches the subscription and closes Events. Undelivered events are dropped.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.demux != nil {
			s.demux.detach(s)
		}
	})
}

func (s *Subscription) enqueue(evs ...domain.OutputEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, evs...)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (domain.OutputEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return domain.OutputEvent{}, false
	}
	ev := s.pending[0]
	s.pending[0] = domain.OutputEvent{}
	s.pending = s.pending[1:]
	return ev, true
}

// pump moves queued events to the out channel one at a time.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		ev, ok := s.next()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
		if s.processID != "" && ev.IsTerminal() {
			s.Close()
			return
		}
	}
}

// topic is the per-process fan-out point. Until the first subscriber attaches,
// events are kept in backlog so nothing published between Launch returning and
// Subscribe being called is lost.
type topic struct {
	subs     []*Subscription
	backlog  []domain.OutputEvent
	attached bool
	exit     *domain.OutputEvent
}

// Demux republishes raw process output to subscribers keyed by process id.
type Demux struct {
	mu       sync.Mutex
	topics   map[string]*topic
	all      []*Subscription
	nextID   atomic.Uint64
	shutdown bool
	logger   *slog.Logger
}

// NewDemux creates an empty demultiplexer.
func NewDemux(logger *slog.Logger) *Demux {
	return &Demux{
		topics: make(map[string]*topic),
		logger: logger,
	}
}

// Open registers a process id. Publishing to an id that was never opened is a no-op.
func (d *Demux) Open(processID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.topics[processID]; !ok {
		d.topics[processID] = &topic{}
	}
}

// Forget drops all bookkeeping for a process. Open subscriptions are closed.
func (d *Demux) Forget(processID string) {
	d.mu.Lock()
	t, ok := d.topics[processID]
	delete(d.topics, processID)
	d.mu.Unlock()
	if !ok {
		return
	}
	for _, s := range t.subs {
		s.Close()
	}
}

func (d *Demux) newSubscription(processID string) *Subscription {
	s := &Subscription{
		id:        d.nextID.Add(1),
		processID: processID,
		out:       make(chan domain.OutputEvent, 16),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		demux:     d,
	}
	go s.pump()
	return s
}

// Subscribe attaches to the events of one process. The first subscriber also
// receives everything published before it attached. Subscribing to a process
// that has already exited yields its exit event (or full backlog if nobody
// ever attached) followed by a closed channel.
func (d *Demux) Subscribe(processID string) (*Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.topics[processID]
	if !ok {
		return nil, domain.NewSubSystemError("process", "Demux.Subscribe", domain.ErrNotFound, processID)
	}

	s := d.newSubscription(processID)
	switch {
	case !t.attached:
		if len(t.backlog) > 0 {
			s.enqueue(t.backlog...)
		}
		t.backlog = nil
		t.attached = true
	case t.exit != nil:
		s.enqueue(*t.exit)
	}
	if t.exit == nil {
		t.subs = append(t.subs, s)
	}
	return s, nil
}

// SubscribeAll attaches to every process. Consumers must look at ProcessID.
func (d *Demux) SubscribeAll() *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.newSubscription("")
	if d.shutdown {
		s.Close()
		return s
	}
	d.all = append(d.all, s)
	return s
}

// Publish delivers ev to the subscribers of ev.ProcessID and to catch-all
// subscribers. After an exit event the process topic accepts nothing more.
func (d *Demux) Publish(ev domain.OutputEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.topics[ev.ProcessID]
	if !ok || t.exit != nil {
		d.logger.Debug("demux: dropped event for unknown or exited process",
			"process_id", ev.ProcessID, "type", string(ev.Type))
		return
	}

	if t.attached {
		for _, s := range t.subs {
			s.enqueue(ev)
		}
	} else {
		t.backlog = append(t.backlog, ev)
	}
	for _, s := range d.all {
		s.enqueue(ev)
	}

	if ev.IsTerminal() {
		exit := ev
		t.exit = &exit
		t.subs = nil // each closes itself after delivering the exit event
	}
}

// Shutdown closes every subscription.
func (d *Demux) Shutdown() {
	d.mu.Lock()
	d.shutdown = true
	var subs []*Subscription
	for _, t := range d.topics {
		subs = append(subs, t.subs...)
	}
	subs = append(subs, d.all...)
	d.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (d *Demux) detach(s *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.processID == "" {
		d.all = removeSub(d.all, s.id)
		return
	}
	if t, ok := d.topics[s.processID]; ok {
		t.subs = removeSub(t.subs, s.id)
	}
}

func removeSub(list []*Subscription, id uint64) []*Subscription {
	for i, s := range list {
		if s.id == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
