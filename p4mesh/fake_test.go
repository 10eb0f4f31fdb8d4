package p4mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
)

var errFake = errors.New("errFake")

// fakeSession records every call made to it, failures are injected through its fields before the
// worker runs.
type fakeSession struct {
	mu sync.Mutex

	calls   []string
	entries []*p4v1.TableEntry
	closed  int

	arbitrateErr error
	pushErr      error
	// installFailAt fails the n-th (1 based) InstallRule call, 0 never fails
	installFailAt int

	done    chan struct{}
	lostErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{done: make(chan struct{})}
}

func (s *fakeSession) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, call)
}

func (s *fakeSession) Arbitrate(_ context.Context, electionID uint64) error {
	s.record(fmt.Sprintf("arbitrate:%d", electionID))

	return s.arbitrateErr
}

func (s *fakeSession) PushPipeline(_ context.Context, pipeline *Pipeline) error {
	s.record(fmt.Sprintf("push:%d", len(pipeline.DeviceConfig)))

	return s.pushErr
}

func (s *fakeSession) InstallRule(_ context.Context, entry *p4v1.TableEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, "install")

	if s.installFailAt != 0 && len(s.entries)+1 == s.installFailAt {
		return errFake
	}

	s.entries = append(s.entries, entry)

	return nil
}

func (s *fakeSession) Done() <-chan struct{} {
	return s.done
}

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lostErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, "close")
	s.closed++

	return nil
}

// lose simulates the switch dropping the stream.
func (s *fakeSession) lose(err error) {
	s.mu.Lock()
	s.lostErr = err
	s.mu.Unlock()

	close(s.done)
}

func (s *fakeSession) snapshot() ([]string, []*p4v1.TableEntry, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.calls...),
		append([]*p4v1.TableEntry(nil), s.entries...),
		s.closed
}

// fakeDialer hands out one fakeSession per switch name.
type fakeDialer struct {
	mu sync.Mutex

	sessions map[string]*fakeSession
	openErr  map[string]error
	opened   []string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		sessions: map[string]*fakeSession{},
		openErr:  map[string]error{},
	}
}

// session returns the session for the switch, creating it so failures can be injected before the
// switch is dialed.
func (d *fakeDialer) session(name string) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[name]
	if !ok {
		s = newFakeSession()
		d.sessions[name] = s
	}

	return s
}

func (d *fakeDialer) Open(_ context.Context, sw Switch) (Session, error) {
	d.mu.Lock()
	d.opened = append(d.opened, sw.Name)
	err := d.openErr[sw.Name]
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return d.session(sw.Name), nil
}

// reset drops every session, a new generation of workers gets fresh ones.
func (d *fakeDialer) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sessions = map[string]*fakeSession{}
}

func testPipeline() *Pipeline {
	return &Pipeline{
		P4Info:       testP4Info(),
		DeviceConfig: []byte(`{"program": "data_plane.p4"}`),
	}
}
