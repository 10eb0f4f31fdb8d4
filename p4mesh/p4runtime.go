package p4mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
)

// P4RuntimeDialer opens p4runtime sessions over grpc.
type P4RuntimeDialer struct {
	log         *zap.SugaredLogger
	dialOptions []grpc.DialOption
}

// NewP4RuntimeDialer returns a P4RuntimeDialer, extra dial options are appended after the
// defaults (plaintext transport, otel stats handler, message size limits).
func NewP4RuntimeDialer(log *zap.SugaredLogger, opts ...grpc.DialOption) *P4RuntimeDialer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &P4RuntimeDialer{
		log:         log,
		dialOptions: opts,
	}
}

// Open creates the grpc client and the p4runtime stream channel for the switch. Arbitration is
// not done here, the stream is only opened.
func (d *P4RuntimeDialer) Open(ctx context.Context, sw Switch) (Session, error) {
	maxMsgSize := int(sw.MaxMessageSize.Bytes())
	if maxMsgSize <= 0 {
		maxMsgSize = DefaultMaxMessageSize
	}

	opts := append(
		[]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
			grpc.WithDefaultCallOptions(
				grpc.MaxCallSendMsgSize(maxMsgSize),
				grpc.MaxCallRecvMsgSize(maxMsgSize),
			),
		},
		d.dialOptions...,
	)

	conn, err := grpc.NewClient(sw.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed creating grpc client for %q, err: %w", sw.Address, err)
	}

	// the stream lives as long as the session, not as long as the ctx used to open it
	streamCtx, streamCancel := context.WithCancel(context.WithoutCancel(ctx))

	client := p4v1.NewP4RuntimeClient(conn)

	stream, err := client.StreamChannel(streamCtx)
	if err != nil {
		streamCancel()

		closeErr := conn.Close()
		if closeErr != nil {
			d.log.Warnf(
				"encountered initial error %q, and subsequent error %q closing grpc client"+
					" for switch %q",
				err, closeErr, sw.Name,
			)
		}

		return nil, fmt.Errorf("failed opening stream channel to %q, err: %w", sw.Address, err)
	}

	s := &p4RuntimeSession{
		log:          d.log.With(zap.String("switch", sw.Name)),
		deviceID:     sw.DeviceID,
		conn:         conn,
		client:       client,
		stream:       stream,
		streamCancel: streamCancel,
		arbitration:  make(chan *p4v1.MasterArbitrationUpdate, 1),
		done:         make(chan struct{}),
	}

	go s.receive()

	return s, nil
}

type p4RuntimeSession struct {
	log *zap.SugaredLogger

	deviceID   uint64
	electionID *p4v1.Uint128

	conn         *grpc.ClientConn
	client       p4v1.P4RuntimeClient
	stream       p4v1.P4Runtime_StreamChannelClient
	streamCancel context.CancelFunc

	arbitration chan *p4v1.MasterArbitrationUpdate

	done      chan struct{}
	err       error
	errMu     sync.Mutex
	closeOnce sync.Once
	closing   bool
}

// receive is the main receive loop for the stream channel, it runs until the stream breaks or the
// session is closed.
func (s *p4RuntimeSession) receive() {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			s.errMu.Lock()

			if !s.closing {
				if errors.Is(err, io.EOF) {
					err = fmt.Errorf("stream channel closed by switch")
				}

				s.err = err

				s.log.Warnf("stream channel receive failed, err: %s", err)
			}

			s.errMu.Unlock()

			close(s.done)

			return
		}

		switch update := resp.GetUpdate().(type) {
		case *p4v1.StreamMessageResponse_Arbitration:
			select {
			case s.arbitration <- update.Arbitration:
			default:
				// nobody is waiting on a result, mastership changes after the initial arbitration
				// are only logged
				s.log.Infof(
					"received unsolicited arbitration update, status: %s",
					update.Arbitration.GetStatus().GetMessage(),
				)
			}
		case *p4v1.StreamMessageResponse_Error:
			s.log.Warnf(
				"received stream error from switch, code %s: %s",
				codes.Code(update.Error.GetCanonicalCode()), update.Error.GetMessage(),
			)
		default:
			s.log.Debugf("ignoring stream message %T", update)
		}
	}
}

func (s *p4RuntimeSession) Arbitrate(ctx context.Context, electionID uint64) error {
	s.electionID = &p4v1.Uint128{High: 0, Low: electionID}

	err := s.stream.Send(&p4v1.StreamMessageRequest{
		Update: &p4v1.StreamMessageRequest_Arbitration{
			Arbitration: &p4v1.MasterArbitrationUpdate{
				DeviceId:   s.deviceID,
				ElectionId: s.electionID,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed sending arbitration update, err: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, arbitrationTimeout)
	defer cancel()

	select {
	case update := <-s.arbitration:
		return arbitrationResult(update, electionID)
	case <-s.done:
		// the switch may answer and then drop the stream, the answer still counts
		select {
		case update := <-s.arbitration:
			return arbitrationResult(update, electionID)
		default:
		}

		return fmt.Errorf("stream lost while waiting for arbitration, err: %w", s.Err())
	case <-ctx.Done():
		return fmt.Errorf("waiting for arbitration response, err: %w", ctx.Err())
	}
}

func arbitrationResult(update *p4v1.MasterArbitrationUpdate, electionID uint64) error {
	code := codes.Code(update.GetStatus().GetCode())
	if code != codes.OK {
		return fmt.Errorf(
			"mastership not granted for election id %d, status %s: %s",
			electionID, code, update.GetStatus().GetMessage(),
		)
	}

	return nil
}

func (s *p4RuntimeSession) PushPipeline(ctx context.Context, pipeline *Pipeline) error {
	_, err := s.client.SetForwardingPipelineConfig(ctx, &p4v1.SetForwardingPipelineConfigRequest{
		DeviceId:   s.deviceID,
		ElectionId: s.electionID,
		Action:     p4v1.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT,
		Config: &p4v1.ForwardingPipelineConfig{
			P4Info:         pipeline.P4Info,
			P4DeviceConfig: pipeline.DeviceConfig,
		},
	})
	if err != nil {
		return fmt.Errorf("set forwarding pipeline config failed, err: %w", err)
	}

	return nil
}

func (s *p4RuntimeSession) InstallRule(ctx context.Context, entry *p4v1.TableEntry) error {
	_, err := s.client.Write(ctx, &p4v1.WriteRequest{
		DeviceId:   s.deviceID,
		ElectionId: s.electionID,
		Updates: []*p4v1.Update{
			{
				Type: p4v1.Update_INSERT,
				Entity: &p4v1.Entity{
					Entity: &p4v1.Entity_TableEntry{TableEntry: entry},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("write failed, err: %w", err)
	}

	return nil
}

func (s *p4RuntimeSession) Done() <-chan struct{} {
	return s.done
}

func (s *p4RuntimeSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	return s.err
}

func (s *p4RuntimeSession) Close() error {
	var err error

	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.closing = true
		s.errMu.Unlock()

		closeSendErr := s.stream.CloseSend()
		if closeSendErr != nil {
			s.log.Debugf("ignoring error closing stream send direction, err: %s", closeSendErr)
		}

		s.streamCancel()

		err = s.conn.Close()
	})

	return err
}
