package p4mesh

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/require"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/testing/protocmp"
)

const bufconnAddress = "passthrough:///bufnet"

// fakeP4RuntimeServer is a minimal in memory p4runtime target: it grants or denies mastership and
// records pipeline pushes and writes.
type fakeP4RuntimeServer struct {
	p4v1.UnimplementedP4RuntimeServer

	mu sync.Mutex

	deny                 bool
	dropAfterArbitration bool
	pipelineErr          error
	writeErr             error

	arbitrations []*p4v1.MasterArbitrationUpdate
	pipelines    []*p4v1.SetForwardingPipelineConfigRequest
	writes       []*p4v1.WriteRequest
}

func (s *fakeP4RuntimeServer) StreamChannel(stream p4v1.P4Runtime_StreamChannelServer) error {
	for {
		req, err := stream.Recv()
		if err != nil {
			return nil //nolint:nilerr
		}

		arb := req.GetArbitration()
		if arb == nil {
			continue
		}

		s.mu.Lock()
		s.arbitrations = append(s.arbitrations, arb)
		deny := s.deny
		drop := s.dropAfterArbitration
		s.mu.Unlock()

		resp := &rpcstatus.Status{Code: int32(codes.OK)}
		if deny {
			resp = &rpcstatus.Status{
				Code:    int32(codes.AlreadyExists),
				Message: "a controller with a higher election id is master",
			}
		}

		err = stream.Send(&p4v1.StreamMessageResponse{
			Update: &p4v1.StreamMessageResponse_Arbitration{
				Arbitration: &p4v1.MasterArbitrationUpdate{
					DeviceId:   arb.GetDeviceId(),
					ElectionId: arb.GetElectionId(),
					Status:     resp,
				},
			},
		})
		if err != nil {
			return err
		}

		if drop {
			return status.Error(codes.Unavailable, "switch going away")
		}
	}
}

func (s *fakeP4RuntimeServer) SetForwardingPipelineConfig(
	_ context.Context,
	req *p4v1.SetForwardingPipelineConfigRequest,
) (*p4v1.SetForwardingPipelineConfigResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipelineErr != nil {
		return nil, s.pipelineErr
	}

	s.pipelines = append(s.pipelines, req)

	return &p4v1.SetForwardingPipelineConfigResponse{}, nil
}

func (s *fakeP4RuntimeServer) Write(
	_ context.Context,
	req *p4v1.WriteRequest,
) (*p4v1.WriteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return nil, s.writeErr
	}

	s.writes = append(s.writes, req)

	return &p4v1.WriteResponse{}, nil
}

func (s *fakeP4RuntimeServer) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.arbitrations), len(s.pipelines), len(s.writes)
}

// startFakeP4Runtime serves srv over an in memory listener and returns a dialer connected to it.
func startFakeP4Runtime(t *testing.T, srv *fakeP4RuntimeServer) *P4RuntimeDialer {
	t.Helper()

	lis := bufconn.Listen(1 << 20)

	s := grpc.NewServer()
	p4v1.RegisterP4RuntimeServer(s, srv)

	go func() {
		_ = s.Serve(lis)
	}()

	t.Cleanup(s.Stop)

	return NewP4RuntimeDialer(
		nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
}

func bufconnSwitch() Switch {
	sw := testSwitch(1)
	sw.Address = bufconnAddress
	sw.DeviceID = 7
	sw.ElectionID = 3

	return sw
}

func TestP4RuntimeSession(t *testing.T) {
	srv := &fakeP4RuntimeServer{}
	dialer := startFakeP4Runtime(t, srv)

	ctx := context.Background()

	session, err := dialer.Open(ctx, bufconnSwitch())
	require.NoError(t, err)

	require.NoError(t, session.Arbitrate(ctx, 3))

	pipeline := testPipeline()
	require.NoError(t, session.PushPipeline(ctx, pipeline))

	entry := &p4v1.TableEntry{
		TableId: testTableARPLookupID,
		Match: []*p4v1.FieldMatch{
			{
				FieldId: 1,
				FieldMatchType: &p4v1.FieldMatch_Lpm{
					Lpm: &p4v1.FieldMatch_LPM{Value: []byte{10, 0, 1, 1}, PrefixLen: 32},
				},
			},
		},
	}
	require.NoError(t, session.InstallRule(ctx, entry))

	srv.mu.Lock()

	require.Len(t, srv.arbitrations, 1)
	require.Equal(t, uint64(7), srv.arbitrations[0].GetDeviceId())
	require.Equal(t, uint64(0), srv.arbitrations[0].GetElectionId().GetHigh())
	require.Equal(t, uint64(3), srv.arbitrations[0].GetElectionId().GetLow())

	require.Len(t, srv.pipelines, 1)
	push := srv.pipelines[0]
	require.Equal(t, p4v1.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT, push.GetAction())
	require.Equal(t, uint64(7), push.GetDeviceId())
	require.Equal(t, uint64(3), push.GetElectionId().GetLow())
	require.Equal(t, pipeline.DeviceConfig, push.GetConfig().GetP4DeviceConfig())

	if diff := cmp.Diff(pipeline.P4Info, push.GetConfig().GetP4Info(), protocmp.Transform()); diff != "" {
		t.Fatalf("pushed p4info mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, srv.writes, 1)
	require.Len(t, srv.writes[0].GetUpdates(), 1)
	update := srv.writes[0].GetUpdates()[0]
	require.Equal(t, p4v1.Update_INSERT, update.GetType())

	if diff := cmp.Diff(entry, update.GetEntity().GetTableEntry(), protocmp.Transform()); diff != "" {
		t.Fatalf("written entry mismatch (-want +got):\n%s", diff)
	}

	srv.mu.Unlock()

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	<-session.Done()
	require.NoError(t, session.Err())
}

func TestP4RuntimeSessionMastershipDenied(t *testing.T) {
	srv := &fakeP4RuntimeServer{deny: true}
	dialer := startFakeP4Runtime(t, srv)

	session, err := dialer.Open(context.Background(), bufconnSwitch())
	require.NoError(t, err)

	defer session.Close()

	err = session.Arbitrate(context.Background(), 3)
	require.ErrorContains(t, err, "mastership not granted")
	require.ErrorContains(t, err, "AlreadyExists")
}

func TestP4RuntimeSessionWriteRejected(t *testing.T) {
	srv := &fakeP4RuntimeServer{writeErr: status.Error(codes.InvalidArgument, "bad match")}
	dialer := startFakeP4Runtime(t, srv)

	session, err := dialer.Open(context.Background(), bufconnSwitch())
	require.NoError(t, err)

	defer session.Close()

	require.NoError(t, session.Arbitrate(context.Background(), 3))

	err = session.InstallRule(context.Background(), &p4v1.TableEntry{TableId: 1})
	require.ErrorContains(t, err, "bad match")
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestP4RuntimeSessionPipelineRejected(t *testing.T) {
	srv := &fakeP4RuntimeServer{
		pipelineErr: status.Error(codes.FailedPrecondition, "bad device config"),
	}
	dialer := startFakeP4Runtime(t, srv)

	w := newTestWorker(bufconnSwitch(), dialer, nil)

	err := w.Run(context.Background())
	require.ErrorIs(t, err, ErrPipelineConfig)
	require.ErrorContains(t, err, "bad device config")

	// the grpc status survives the worker's wrapping
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.FailedPrecondition, st.Code())

	require.Equal(t, StateFailed, w.State())
}

func TestP4RuntimeSessionLost(t *testing.T) {
	srv := &fakeP4RuntimeServer{dropAfterArbitration: true}
	dialer := startFakeP4Runtime(t, srv)

	session, err := dialer.Open(context.Background(), bufconnSwitch())
	require.NoError(t, err)

	defer session.Close()

	require.NoError(t, session.Arbitrate(context.Background(), 3))

	select {
	case <-session.Done():
	case <-time.After(waitFor):
		t.Fatal("session was not reported lost")
	}

	require.Error(t, session.Err())
	require.Equal(t, codes.Unavailable, status.Code(session.Err()))
}

func TestWorkerOverP4Runtime(t *testing.T) {
	srv := &fakeP4RuntimeServer{}
	dialer := startFakeP4Runtime(t, srv)

	w := newTestWorker(bufconnSwitch(), dialer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := startWorker(ctx, w)

	require.Eventually(t, func() bool {
		return w.State() == StateSteadyState
	}, waitFor, tick)

	arbitrations, pipelines, writes := srv.counts()
	require.Equal(t, 1, arbitrations)
	require.Equal(t, 1, pipelines)
	require.Equal(t, 10, writes)

	cancel()

	require.NoError(t, waitResult(t, results))
	require.Equal(t, StateTerminated, w.State())
}
